package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"bitwise74/attachment-api/internal/model"
)

// ContextAuthority is implemented by the domain owning a context type,
// e.g. the schedule service decides who may see or edit a schedule.
// Returning nil means allowed.
type ContextAuthority interface {
	CheckReadAuthority(ctx context.Context, caller model.Caller, contextID string) error
	CheckWriteAuthority(ctx context.Context, caller model.Caller, contextID string) error
}

// PermissionEvaluator decides who may touch an attachment or a session.
// Staged attachments are governed by their session owner only, bound ones
// by the authority of their context type.
type PermissionEvaluator struct {
	authorities map[model.ContextType]ContextAuthority
}

func NewPermissionEvaluator() *PermissionEvaluator {
	return &PermissionEvaluator{authorities: make(map[model.ContextType]ContextAuthority)}
}

// Register wires the authority of a context type. Types without one fail closed.
func (p *PermissionEvaluator) Register(t model.ContextType, a ContextAuthority) {
	p.authorities[t] = a
}

func (p *PermissionEvaluator) Supports(t model.ContextType) bool {
	_, ok := p.authorities[t]
	return ok
}

func (p *PermissionEvaluator) CheckSessionOwnership(caller model.Caller, s *model.UploadSession) error {
	if s == nil || s.OwnerID != caller.ID {
		return ErrUnauthorized
	}

	return nil
}

// CheckRead authorizes reading an attachment. session must be the
// attachment's upload session when it's staged and is ignored otherwise.
func (p *PermissionEvaluator) CheckRead(ctx context.Context, caller model.Caller, a *model.Attachment, session *model.UploadSession) error {
	if a.Staged() {
		return p.checkStaged(caller, a, session)
	}

	return p.CheckContextRead(ctx, caller, a.ContextType, *a.ContextID)
}

func (p *PermissionEvaluator) CheckWrite(ctx context.Context, caller model.Caller, a *model.Attachment, session *model.UploadSession) error {
	if a.Staged() {
		return p.checkStaged(caller, a, session)
	}

	return p.CheckContextWrite(ctx, caller, a.ContextType, *a.ContextID)
}

func (p *PermissionEvaluator) checkStaged(caller model.Caller, a *model.Attachment, session *model.UploadSession) error {
	if session == nil || session.ID != *a.UploadSessionID {
		return ErrUnauthorized
	}

	return p.CheckSessionOwnership(caller, session)
}

func (p *PermissionEvaluator) CheckContextRead(ctx context.Context, caller model.Caller, t model.ContextType, contextID string) error {
	a, err := p.authority(t)
	if err != nil {
		return err
	}

	return denied(a.CheckReadAuthority(ctx, caller, contextID))
}

func (p *PermissionEvaluator) CheckContextWrite(ctx context.Context, caller model.Caller, t model.ContextType, contextID string) error {
	a, err := p.authority(t)
	if err != nil {
		return err
	}

	return denied(a.CheckWriteAuthority(ctx, caller, contextID))
}

func (p *PermissionEvaluator) authority(t model.ContextType) (ContextAuthority, error) {
	a, ok := p.authorities[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContext, t)
	}

	return a, nil
}

// Any collaborator error is a denial, including "no such context"
func denied(err error) error {
	if err == nil || errors.Is(err, ErrUnauthorized) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrUnauthorized, err)
}

// ProfileAuthority lets every authenticated user see profile attachments
// and only the profile's own user change them
type ProfileAuthority struct{}

func (ProfileAuthority) CheckReadAuthority(_ context.Context, _ model.Caller, _ string) error {
	return nil
}

func (ProfileAuthority) CheckWriteAuthority(_ context.Context, caller model.Caller, contextID string) error {
	if contextID != strconv.FormatInt(caller.ID, 10) {
		return ErrUnauthorized
	}

	return nil
}
