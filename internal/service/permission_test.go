package service

import (
	"context"
	"errors"
	"testing"

	"bitwise74/attachment-api/internal/model"

	"github.com/stretchr/testify/assert"
)

type brokenAuthority struct{}

func (brokenAuthority) CheckReadAuthority(context.Context, model.Caller, string) error {
	return errors.New("schedule lookup failed")
}

func (brokenAuthority) CheckWriteAuthority(context.Context, model.Caller, string) error {
	return ErrNotFound
}

func TestCollaboratorErrorsDeny(t *testing.T) {
	p := NewPermissionEvaluator()
	p.Register(model.ContextSchedule, brokenAuthority{})
	ctx := context.Background()

	assert.ErrorIs(t, p.CheckContextRead(ctx, owner, model.ContextSchedule, "1"), ErrUnauthorized)

	err := p.CheckContextWrite(ctx, owner, model.ContextSchedule, "1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStagedAttachmentNeedsItsOwnSession(t *testing.T) {
	p := NewPermissionEvaluator()
	ctx := context.Background()

	a := &model.Attachment{UploadSessionID: strPtr("s1")}
	mine := &model.UploadSession{ID: "s1", OwnerID: owner.ID}
	other := &model.UploadSession{ID: "s2", OwnerID: owner.ID}

	assert.NoError(t, p.CheckRead(ctx, owner, a, mine))
	assert.ErrorIs(t, p.CheckRead(ctx, owner, a, other), ErrUnauthorized)
	assert.ErrorIs(t, p.CheckWrite(ctx, stranger, a, mine), ErrUnauthorized)
	assert.ErrorIs(t, p.CheckRead(ctx, owner, a, nil), ErrUnauthorized)
}

func TestProfileAuthority(t *testing.T) {
	p := NewPermissionEvaluator()
	p.Register(model.ContextProfile, ProfileAuthority{})
	ctx := context.Background()

	assert.NoError(t, p.CheckContextRead(ctx, stranger, model.ContextProfile, "1"))
	assert.NoError(t, p.CheckContextWrite(ctx, owner, model.ContextProfile, "1"))
	assert.ErrorIs(t, p.CheckContextWrite(ctx, stranger, model.ContextProfile, "1"), ErrUnauthorized)
	assert.ErrorIs(t, p.CheckContextRead(ctx, owner, model.ContextTeam, "1"), ErrUnsupportedContext)
}
