package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"bitwise74/attachment-api/internal/metrics"
	"bitwise74/attachment-api/internal/model"
	"bitwise74/attachment-api/internal/storage"
	"bitwise74/attachment-api/pkg/validators"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StoreConfig struct {
	MaxFileSize       int64
	MaxFilenameLength int
	BlockedExtensions []string
	ThumbnailMaxSide  int
}

// StoreDeps groups everything the attachment store is composed of
type StoreDeps struct {
	DB          *gorm.DB
	Paths       *storage.PathResolver
	Files       *storage.FileStore
	Sessions    *SessionRegistry
	Permissions *PermissionEvaluator
	Thumbnails  *ThumbnailPipeline
	Queue       *ThumbnailQueue
}

// AttachmentStore is the entry point for everything attachment related:
// staging uploads in sessions, binding them to their context, serving and
// deleting them.
//
// Every change to a scope (one session or one context) happens under that
// scope's lock so order indices can't be handed out twice.
type AttachmentStore struct {
	db       *gorm.DB
	paths    *storage.PathResolver
	files    *storage.FileStore
	sessions *SessionRegistry
	perms    *PermissionEvaluator
	thumbs   *ThumbnailPipeline
	queue    *ThumbnailQueue
	locks    *keyedMutex
	cfg      StoreConfig
}

func NewAttachmentStore(d StoreDeps, cfg StoreConfig) *AttachmentStore {
	return &AttachmentStore{
		db:       d.DB,
		paths:    d.Paths,
		files:    d.Files,
		sessions: d.Sessions,
		perms:    d.Permissions,
		thumbs:   d.Thumbnails,
		queue:    d.Queue,
		locks:    newKeyedMutex(),
		cfg:      cfg,
	}
}

type UploadInput struct {
	Filename string
	// Declared size, -1 when unknown. The written size is checked too.
	Size int64
	Body io.Reader
}

// Download is an opened attachment or thumbnail file. The caller closes File.
type Download struct {
	Attachment  *model.Attachment
	File        *os.File
	ContentType string
	ModTime     time.Time
}

func (s *AttachmentStore) CreateSession(ctx context.Context, caller model.Caller, t model.ContextType, targetContextID *string) (*model.UploadSession, error) {
	if !s.perms.Supports(t) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContext, t)
	}

	if targetContextID != nil {
		if err := storage.SafeSegment(*targetContextID); err != nil {
			return nil, validationError(err)
		}

		if err := s.perms.CheckContextWrite(ctx, caller, t, *targetContextID); err != nil {
			return nil, err
		}
	}

	sess, err := s.sessions.Create(ctx, t, caller.ID, targetContextID)
	if err != nil {
		return nil, storageError("create session", err)
	}

	return sess, nil
}

// DiscardSession drops a session together with everything staged in it
func (s *AttachmentStore) DiscardSession(ctx context.Context, caller model.Caller, sessionID string) error {
	sess, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return err
	}

	_, err = s.ReclaimSession(ctx, sess)
	return err
}

func (s *AttachmentStore) Upload(ctx context.Context, caller model.Caller, sessionID string, in UploadInput) (*model.Attachment, error) {
	a, err := s.upload(ctx, caller, sessionID, in)
	if err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.Uploads.WithLabelValues("ok").Inc()
	metrics.UploadBytes.Add(float64(a.Size))

	if a.ThumbnailStatus == model.ThumbnailPending {
		s.dispatchThumbnail(a.ID)
	}

	return a, nil
}

func (s *AttachmentStore) upload(ctx context.Context, caller model.Caller, sessionID string, in UploadInput) (*model.Attachment, error) {
	sess, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.Expired(s.sessions.Now()) {
		return nil, fmt.Errorf("%w: upload session expired", ErrNotFound)
	}

	if in.Body == nil {
		return nil, validationError(validators.ErrNoFile)
	}

	if err := validators.FileValidator(in.Filename, in.Size, s.rules()); err != nil {
		return nil, validationError(err)
	}

	contentType, body, err := validators.SniffContentType(in.Body)
	if err != nil {
		return nil, storageError("read upload", err)
	}

	if s.cfg.MaxFileSize > 0 {
		body = io.LimitReader(body, s.cfg.MaxFileSize+1)
	}

	dir, err := s.paths.TempDir(sess.ID)
	if err != nil {
		return nil, validationError(err)
	}

	stored := uuid.NewString() + validators.SafeExtension(in.Filename)
	target, err := s.paths.File(dir, stored)
	if err != nil {
		return nil, validationError(err)
	}

	unlock := s.locks.Lock(sessionScope(sess.ID))
	defer unlock()

	// The reclaimer may have removed the session while we waited for the lock
	if _, err := s.sessions.Find(ctx, sess.ID); err != nil {
		return nil, classify(err, "upload session")
	}

	written, err := s.files.Write(body, target)
	if err != nil {
		return nil, storageError("write upload", err)
	}

	if s.cfg.MaxFileSize > 0 && written > s.cfg.MaxFileSize {
		s.removeFile(target)
		return nil, validationError(validators.ErrFileTooLarge)
	}

	if written == 0 {
		s.removeFile(target)
		return nil, validationError(validators.ErrNoFile)
	}

	status := model.ThumbnailNone
	if s.thumbs.Claims(contentType) {
		status = model.ThumbnailPending
	}

	a := &model.Attachment{
		ID:               uuid.NewString(),
		ContextType:      sess.ContextType,
		UploadSessionID:  &sess.ID,
		OriginalFilename: in.Filename,
		StoredFilename:   stored,
		ContentType:      contentType,
		Size:             written,
		ThumbnailStatus:  status,
		CreatedBy:        caller.ID,
		CreatedAt:        s.sessions.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, err := nextOrderIndex(tx, "upload_session_id = ?", sess.ID)
		if err != nil {
			return err
		}

		a.OrderIndex = next
		return tx.Create(a).Error
	})
	if err != nil {
		s.removeFile(target)
		return nil, storageError("save attachment", err)
	}

	zap.L().Debug("Attachment staged",
		zap.String("attachment_id", a.ID),
		zap.String("session_id", sess.ID),
		zap.Int("order_index", a.OrderIndex),
		zap.Int64("size", a.Size))

	return a, nil
}

func (s *AttachmentStore) ListSession(ctx context.Context, caller model.Caller, sessionID string) ([]model.Attachment, error) {
	if _, err := s.ownedSession(ctx, caller, sessionID); err != nil {
		return nil, err
	}

	return s.list(ctx, "upload_session_id = ?", sessionID)
}

func (s *AttachmentStore) ListByContext(ctx context.Context, caller model.Caller, t model.ContextType, contextID string) ([]model.Attachment, error) {
	if err := storage.SafeSegment(contextID); err != nil {
		return nil, validationError(err)
	}

	if err := s.perms.CheckContextRead(ctx, caller, t, contextID); err != nil {
		return nil, err
	}

	return s.list(ctx, "context_type = ? AND context_id = ?", t, contextID)
}

func (s *AttachmentStore) Read(ctx context.Context, caller model.Caller, id string) (*model.Attachment, error) {
	a, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, caller, a, false); err != nil {
		return nil, err
	}

	return a, nil
}

// Open returns the original file of an attachment
func (s *AttachmentStore) Open(ctx context.Context, caller model.Caller, id string) (*Download, error) {
	a, err := s.Read(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	return s.open(a, a.StoredFilename, a.ContentType)
}

// OpenThumbnail returns the thumbnail, or the original when there is no
// thumbnail and the original is an image we could preview
func (s *AttachmentStore) OpenThumbnail(ctx context.Context, caller model.Caller, id string) (*Download, error) {
	a, err := s.Read(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	if a.ThumbnailStatus == model.ThumbnailReady && a.ThumbnailFilename != nil {
		ct := "image/jpeg"
		if a.ThumbnailContentType != nil {
			ct = *a.ThumbnailContentType
		}

		d, err := s.open(a, *a.ThumbnailFilename, ct)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return d, err
		}

		zap.L().Warn("Thumbnail file missing", zap.String("attachment_id", a.ID))
	}

	if s.thumbs.CanPreviewOriginal(a.ContentType) {
		return s.open(a, a.StoredFilename, a.ContentType)
	}

	return nil, fmt.Errorf("%w: thumbnail", ErrNotFound)
}

func (s *AttachmentStore) open(a *model.Attachment, name, contentType string) (*Download, error) {
	dir, err := s.paths.AttachmentDir(a)
	if err != nil {
		return nil, classify(err, "resolve attachment")
	}

	p, err := s.paths.File(dir, name)
	if err != nil {
		return nil, classify(err, "resolve attachment")
	}

	f, err := s.files.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: attachment file", ErrNotFound)
		}

		return nil, storageError("open attachment", err)
	}

	modTime := a.CreatedAt
	if st, err := f.Stat(); err == nil {
		modTime = st.ModTime()
	}

	return &Download{
		Attachment:  a,
		File:        f,
		ContentType: contentType,
		ModTime:     modTime,
	}, nil
}

// Finalize binds the listed attachments to targetContextID in the given order
// and retires the session. Each attachment is moved and rebound on its own,
// so a failure part way leaves the rest staged and the call can be retried.
func (s *AttachmentStore) Finalize(ctx context.Context, caller model.Caller, sessionID, targetContextID string, orderedIDs []string) ([]model.Attachment, error) {
	sess, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}

	if err := storage.SafeSegment(targetContextID); err != nil {
		return nil, validationError(err)
	}

	if sess.TargetContextID != nil && *sess.TargetContextID != targetContextID {
		return nil, validationError(errors.New("session belongs to a different context"))
	}

	// New contexts are created by their domain before this runs, so the
	// caller must be able to write the target either way
	if err := s.perms.CheckContextWrite(ctx, caller, sess.ContextType, targetContextID); err != nil {
		return nil, err
	}

	if dup := firstDuplicate(orderedIDs); dup != "" {
		return nil, validationError(fmt.Errorf("attachment %s listed twice", dup))
	}

	unlockSession := s.locks.Lock(sessionScope(sess.ID))
	defer unlockSession()
	unlockContext := s.locks.Lock(contextScope(string(sess.ContextType), targetContextID))
	defer unlockContext()

	if _, err := s.sessions.Find(ctx, sess.ID); err != nil {
		return nil, classify(err, "upload session")
	}

	byID, err := s.finalizeCandidates(ctx, sess, targetContextID, orderedIDs)
	if err != nil {
		return nil, err
	}

	contextDir, err := s.paths.ContextDir(sess.ContextType, targetContextID)
	if err != nil {
		return nil, validationError(err)
	}

	for i, id := range orderedIDs {
		a := byID[id]
		if !a.Staged() {
			continue
		}

		if err := s.bind(ctx, a, contextDir, targetContextID, i); err != nil {
			zap.L().Error("Failed to finalize attachment",
				zap.String("attachment_id", a.ID),
				zap.String("session_id", sess.ID),
				zap.Error(err))
			return nil, err
		}

		metrics.Finalized.Inc()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return reindex(tx, orderedIDs, "context_type = ? AND context_id = ?", sess.ContextType, targetContextID)
	})
	if err != nil {
		return nil, storageError("reorder attachments", err)
	}

	// Whatever wasn't listed was dropped by the user
	if _, err := s.reclaimSessionLocked(ctx, sess); err != nil {
		zap.L().Warn("Failed to retire finalized session, reclaim job will retry",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}

	return s.list(ctx, "context_type = ? AND context_id = ?", sess.ContextType, targetContextID)
}

// finalizeCandidates loads the listed attachments and checks each is either
// staged in sess or already bound to the target. The latter covers edit
// sessions and retries after a finalize that failed part way.
func (s *AttachmentStore) finalizeCandidates(ctx context.Context, sess *model.UploadSession, targetContextID string, ids []string) (map[string]*model.Attachment, error) {
	var found []model.Attachment

	if len(ids) > 0 {
		err := s.db.
			WithContext(ctx).
			Where("id IN ?", ids).
			Find(&found).
			Error
		if err != nil {
			return nil, storageError("load attachments", err)
		}
	}

	byID := make(map[string]*model.Attachment, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}

	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, validationError(fmt.Errorf("attachment %s is not part of this session", id))
		}

		if a.Staged() && *a.UploadSessionID == sess.ID {
			continue
		}

		bound := !a.Staged() &&
			a.ContextType == sess.ContextType &&
			*a.ContextID == targetContextID
		if !bound {
			return nil, validationError(fmt.Errorf("attachment %s is not part of this session", id))
		}
	}

	return byID, nil
}

// bind moves one staged attachment into contextDir and rebinds its row.
// If any step fails the files are moved back.
func (s *AttachmentStore) bind(ctx context.Context, a *model.Attachment, contextDir, contextID string, index int) error {
	tempDir, err := s.paths.TempDir(*a.UploadSessionID)
	if err != nil {
		return classify(err, "resolve attachment")
	}

	names := []string{a.StoredFilename}
	if a.ThumbnailFilename != nil {
		names = append(names, *a.ThumbnailFilename)
	}

	type move struct{ from, to string }
	var moved []move

	rollback := func() {
		for i := len(moved) - 1; i >= 0; i-- {
			if err := s.files.Move(moved[i].to, moved[i].from); err != nil {
				zap.L().Error("Failed to roll back attachment move",
					zap.String("attachment_id", a.ID),
					zap.String("path", moved[i].to),
					zap.Error(err))
			}
		}
	}

	for _, name := range names {
		from, err := s.paths.File(tempDir, name)
		if err != nil {
			rollback()
			return classify(err, "resolve attachment")
		}

		to, err := s.paths.File(contextDir, name)
		if err != nil {
			rollback()
			return classify(err, "resolve attachment")
		}

		if err := s.files.Move(from, to); err != nil {
			rollback()
			return storageError("move attachment", err)
		}

		moved = append(moved, move{from, to})
	}

	sessionID := a.UploadSessionID
	a.ContextID = &contextID
	a.UploadSessionID = nil
	a.OrderIndex = index

	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		a.ContextID = nil
		a.UploadSessionID = sessionID
		rollback()
		return storageError("bind attachment", err)
	}

	return nil
}

func (s *AttachmentStore) Delete(ctx context.Context, caller model.Caller, id string) error {
	a, unlock, err := s.lockAttachment(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.authorize(ctx, caller, a, true); err != nil {
		return err
	}

	if err := s.remove(ctx, a); err != nil {
		return err
	}

	where, args := scopeQuery(a)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return reindex(tx, nil, where, args...)
	})
	if err != nil {
		zap.L().Warn("Failed to compact order after delete", zap.String("attachment_id", a.ID), zap.Error(err))
	}

	zap.L().Debug("Attachment deleted", zap.String("attachment_id", a.ID))
	return nil
}

// Reorder puts the listed attachments first, in the given order. The rest
// of the context keeps its relative order after them.
func (s *AttachmentStore) Reorder(ctx context.Context, caller model.Caller, t model.ContextType, contextID string, orderedIDs []string) error {
	if err := storage.SafeSegment(contextID); err != nil {
		return validationError(err)
	}

	if err := s.perms.CheckContextWrite(ctx, caller, t, contextID); err != nil {
		return err
	}

	if len(orderedIDs) == 0 {
		return nil
	}

	if dup := firstDuplicate(orderedIDs); dup != "" {
		return validationError(fmt.Errorf("attachment %s listed twice", dup))
	}

	unlock := s.locks.Lock(contextScope(string(t), contextID))
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return classify(reindex(tx, orderedIDs, "context_type = ? AND context_id = ?", t, contextID), "reorder attachments")
	})
}

// DeleteForContext removes every attachment of a context. It's called by the
// owning domain after it deleted the owner, so no permission check happens.
func (s *AttachmentStore) DeleteForContext(ctx context.Context, t model.ContextType, contextID string) (int, error) {
	dir, err := s.paths.ContextDir(t, contextID)
	if err != nil {
		return 0, validationError(err)
	}

	unlock := s.locks.Lock(contextScope(string(t), contextID))
	defer unlock()

	list, err := s.list(ctx, "context_type = ? AND context_id = ?", t, contextID)
	if err != nil {
		return 0, err
	}

	var errs []error
	deleted := 0

	for i := range list {
		if err := s.remove(ctx, &list[i]); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	if err := s.files.DeleteDirectoryRecursive(dir); err != nil {
		zap.L().Warn("Failed to delete context directory", zap.String("dir", dir), zap.Error(err))
	}

	return deleted, errors.Join(errs...)
}

// ReclaimSession removes a session, its staged attachments and its temporary
// directory. Individual failures are logged and counted, not fatal.
func (s *AttachmentStore) ReclaimSession(ctx context.Context, sess *model.UploadSession) (int, error) {
	unlock := s.locks.Lock(sessionScope(sess.ID))
	defer unlock()

	return s.reclaimSessionLocked(ctx, sess)
}

func (s *AttachmentStore) reclaimSessionLocked(ctx context.Context, sess *model.UploadSession) (int, error) {
	failures := 0

	staged, err := s.list(ctx, "upload_session_id = ?", sess.ID)
	if err != nil {
		return 1, err
	}

	for i := range staged {
		if err := s.remove(ctx, &staged[i]); err != nil {
			failures++
			zap.L().Warn("Failed to delete staged attachment",
				zap.String("attachment_id", staged[i].ID),
				zap.String("session_id", sess.ID),
				zap.Error(err))
		}
	}

	if dir, err := s.paths.TempDir(sess.ID); err == nil {
		if err := s.files.DeleteDirectoryRecursive(dir); err != nil {
			failures++
			zap.L().Warn("Failed to delete session directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return failures + 1, storageError("delete session", err)
	}

	return failures, nil
}

// remove deletes the files and then the row of an attachment. Missing or
// undeletable files don't block the row from going away.
func (s *AttachmentStore) remove(ctx context.Context, a *model.Attachment) error {
	names := []string{a.StoredFilename}
	if a.ThumbnailFilename != nil {
		names = append(names, *a.ThumbnailFilename)
	}

	dir, err := s.paths.AttachmentDir(a)
	if err != nil {
		zap.L().Warn("Attachment has no resolvable directory", zap.String("attachment_id", a.ID), zap.Error(err))
		names = nil
	}

	for _, name := range names {
		p, err := s.paths.File(dir, name)
		if err == nil {
			err = s.files.Delete(p)
		}

		if err != nil {
			zap.L().Warn("Failed to delete attachment file, removing record anyway",
				zap.String("attachment_id", a.ID),
				zap.String("name", name),
				zap.Error(err))
		}
	}

	err = s.db.
		WithContext(ctx).
		Where("id = ?", a.ID).
		Delete(&model.Attachment{}).
		Error
	if err != nil {
		return storageError("delete attachment", err)
	}

	return nil
}

func (s *AttachmentStore) dispatchThumbnail(id string) {
	err := s.queue.Enqueue(&ThumbnailJob{
		AttachmentID: id,
		Run: func(ctx context.Context) {
			s.generateThumbnail(ctx, id)
		},
	})
	if err == nil {
		return
	}

	zap.L().Warn("Thumbnail not scheduled", zap.String("attachment_id", id), zap.Error(err))

	a, unlock, err := s.lockAttachment(context.Background(), id)
	if err != nil {
		return
	}
	defer unlock()

	a.ClearThumbnail(model.ThumbnailFailed)
	if err := s.db.Save(a).Error; err != nil {
		zap.L().Error("Failed to mark thumbnail as failed", zap.String("attachment_id", id), zap.Error(err))
	}
}

// generateThumbnail runs on the thumbnail queue. The scope lock is only held
// to read the attachment and to store the result, never while the generator
// runs, so uploads and finalize in the same scope don't wait for it. If the
// attachment moved while a generator failed, it is tried once more from
// the new location.
func (s *AttachmentStore) generateThumbnail(ctx context.Context, id string) {
	for attempt := range 2 {
		snap, err := s.pendingThumbnail(ctx, id)
		if err != nil || snap == nil {
			return
		}

		dir, err := s.paths.AttachmentDir(snap)
		if err != nil {
			zap.L().Error("Failed to resolve attachment directory", zap.String("attachment_id", id), zap.Error(err))
			return
		}

		res := s.thumbs.GenerateFor(ctx, snap.ContentType, filepath.Join(dir, snap.StoredFilename), s.paths.WorkDir(), snap.StoredFilename, s.cfg.ThumbnailMaxSide)

		if s.storeThumbnail(ctx, snap, res, attempt == 0) {
			return
		}
	}
}

// pendingThumbnail returns a copy of the attachment if it still waits for
// its thumbnail, nil otherwise
func (s *AttachmentStore) pendingThumbnail(ctx context.Context, id string) (*model.Attachment, error) {
	a, unlock, err := s.lockAttachment(ctx, id)
	if err != nil {
		zap.L().Debug("Attachment gone before thumbnail generation", zap.String("attachment_id", id))
		return nil, err
	}
	unlock()

	if a.ThumbnailStatus != model.ThumbnailPending {
		return nil, nil
	}

	return a, nil
}

// storeThumbnail moves a generated thumbnail out of the work directory next
// to the attachment and records the outcome. It returns false when the
// attachment moved under a failed generator and canRetry is set.
func (s *AttachmentStore) storeThumbnail(ctx context.Context, snap *model.Attachment, res ThumbnailResult, canRetry bool) bool {
	work := ""
	if res.Status == model.ThumbnailReady {
		work = filepath.Join(s.paths.WorkDir(), res.Filename)
	}

	discard := func() {
		if work != "" {
			s.removeFile(work)
		}
	}

	a, unlock, err := s.lockAttachment(ctx, snap.ID)
	if err != nil {
		zap.L().Debug("Attachment gone during thumbnail generation", zap.String("attachment_id", snap.ID))
		discard()
		return true
	}
	defer unlock()

	if a.ThumbnailStatus != model.ThumbnailPending || a.StoredFilename != snap.StoredFilename {
		discard()
		return true
	}

	if res.Status == model.ThumbnailFailed && canRetry && scopeKey(a) != scopeKey(snap) {
		return false
	}

	a.ClearThumbnail(res.Status)

	var target string
	if res.Status == model.ThumbnailReady {
		target, err = s.thumbnailTarget(a, res.Filename)
		if err == nil {
			err = s.files.Move(work, target)
		}

		if err != nil {
			zap.L().Error("Failed to place thumbnail", zap.String("attachment_id", a.ID), zap.Error(err))
			discard()
			a.ClearThumbnail(model.ThumbnailFailed)
		} else {
			a.ThumbnailFilename = &res.Filename
			a.ThumbnailContentType = &res.ContentType
			a.ThumbnailSize = &res.Size
		}
	}

	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		zap.L().Error("Failed to save thumbnail result", zap.String("attachment_id", a.ID), zap.Error(err))

		if a.ThumbnailFilename != nil {
			s.removeFile(target)
		}
	}

	return true
}

func (s *AttachmentStore) thumbnailTarget(a *model.Attachment, name string) (string, error) {
	dir, err := s.paths.AttachmentDir(a)
	if err != nil {
		return "", err
	}

	return s.paths.File(dir, name)
}

// lockAttachment locks the scope the attachment currently lives in and
// returns a fresh copy of it. The scope can change while waiting for the
// lock, in which case it tries again.
func (s *AttachmentStore) lockAttachment(ctx context.Context, id string) (*model.Attachment, func(), error) {
	for range 3 {
		a, err := s.find(ctx, id)
		if err != nil {
			return nil, nil, err
		}

		key := scopeKey(a)
		unlock := s.locks.Lock(key)

		cur, err := s.find(ctx, id)
		if err != nil {
			unlock()
			return nil, nil, err
		}

		if scopeKey(cur) == key {
			return cur, unlock, nil
		}

		unlock()
	}

	return nil, nil, storageError("lock attachment", errors.New("attachment kept changing scope"))
}

// authorize loads the session of a staged attachment when needed and runs
// the matching permission check
func (s *AttachmentStore) authorize(ctx context.Context, caller model.Caller, a *model.Attachment, write bool) error {
	var sess *model.UploadSession

	if a.Staged() {
		found, err := s.sessions.Find(ctx, *a.UploadSessionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrUnauthorized
			}
			return storageError("load session", err)
		}
		sess = found
	}

	if write {
		return s.perms.CheckWrite(ctx, caller, a, sess)
	}

	return s.perms.CheckRead(ctx, caller, a, sess)
}

func (s *AttachmentStore) ownedSession(ctx context.Context, caller model.Caller, id string) (*model.UploadSession, error) {
	if err := storage.SafeSegment(id); err != nil {
		return nil, fmt.Errorf("%w: upload session", ErrNotFound)
	}

	sess, err := s.sessions.Find(ctx, id)
	if err != nil {
		return nil, classify(err, "upload session")
	}

	if err := s.perms.CheckSessionOwnership(caller, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

func (s *AttachmentStore) find(ctx context.Context, id string) (*model.Attachment, error) {
	var a model.Attachment

	err := s.db.
		WithContext(ctx).
		Where("id = ?", id).
		First(&a).
		Error
	if err != nil {
		return nil, classify(err, "attachment")
	}

	return &a, nil
}

func (s *AttachmentStore) list(ctx context.Context, where string, args ...any) ([]model.Attachment, error) {
	var list []model.Attachment

	err := s.db.
		WithContext(ctx).
		Where(where, args...).
		Order("order_index, created_at, id").
		Find(&list).
		Error
	if err != nil {
		return nil, storageError("list attachments", err)
	}

	return list, nil
}

func (s *AttachmentStore) removeFile(p string) {
	if err := s.files.Delete(p); err != nil {
		zap.L().Error("Failed to clean up file", zap.String("path", p), zap.Error(err))
	}
}

func (s *AttachmentStore) rules() validators.UploadRules {
	return validators.UploadRules{
		MaxSize:           s.cfg.MaxFileSize,
		MaxFilenameLength: s.cfg.MaxFilenameLength,
		BlockedExtensions: s.cfg.BlockedExtensions,
	}
}

func nextOrderIndex(tx *gorm.DB, where string, args ...any) (int, error) {
	var next int

	err := tx.
		Model(&model.Attachment{}).
		Where(where, args...).
		Select("COALESCE(MAX(order_index) + 1, 0)").
		Scan(&next).
		Error

	return next, err
}

// reindex assigns dense indices within a scope: the ids in first come first,
// the remaining attachments follow in their current order
func reindex(tx *gorm.DB, first []string, where string, args ...any) error {
	var current []model.Attachment

	err := tx.
		Select("id", "order_index").
		Where(where, args...).
		Order("order_index, created_at, id").
		Find(&current).
		Error
	if err != nil {
		return err
	}

	index := make(map[string]int, len(current))
	for _, a := range current {
		index[a.ID] = a.OrderIndex
	}

	final := make([]string, 0, len(current))
	listed := make(map[string]bool, len(first))

	for _, id := range first {
		if _, ok := index[id]; !ok {
			return validationError(fmt.Errorf("attachment %s doesn't belong here", id))
		}
		listed[id] = true
		final = append(final, id)
	}

	for _, a := range current {
		if !listed[a.ID] {
			final = append(final, a.ID)
		}
	}

	for i, id := range final {
		if index[id] == i {
			continue
		}

		err := tx.
			Model(&model.Attachment{}).
			Where("id = ?", id).
			UpdateColumn("order_index", i).
			Error
		if err != nil {
			return err
		}
	}

	return nil
}

func scopeKey(a *model.Attachment) string {
	if a.UploadSessionID != nil {
		return sessionScope(*a.UploadSessionID)
	}

	if a.ContextID != nil {
		return contextScope(string(a.ContextType), *a.ContextID)
	}

	return "attachment:" + a.ID
}

func scopeQuery(a *model.Attachment) (string, []any) {
	if a.UploadSessionID != nil {
		return "upload_session_id = ?", []any{*a.UploadSessionID}
	}

	return "context_type = ? AND context_id = ?", []any{a.ContextType, derefOr(a.ContextID, "")}
}

func firstDuplicate(ids []string) string {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return id
		}
		seen[id] = true
	}

	return ""
}

func derefOr(p *string, def string) string {
	if p == nil {
		return def
	}

	return *p
}
