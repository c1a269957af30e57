package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReclaimSweepRemovesExpiredSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	expired := h.session(t, nil)
	a := h.upload(t, expired.ID, "a.txt", []byte("stale"))
	b := h.upload(t, expired.ID, "b.png", pngBytes(t, 8, 8))
	h.queue.Wait()

	h.clock.Add(2 * time.Hour)
	fresh := h.session(t, nil)
	c := h.upload(t, fresh.ID, "c.txt", []byte("fresh"))

	r := NewReclaimScheduler(h.store, h.sessions)

	report := r.Sweep(ctx)
	assert.Equal(t, 1, report.Sessions)
	assert.Zero(t, report.Failures)

	for _, id := range []string{a.ID, b.ID} {
		_, err := h.store.find(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	}

	tempDir, err := h.paths.TempDir(expired.ID)
	require.NoError(t, err)
	assert.NoDirExists(t, tempDir)

	_, err = h.sessions.Find(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The fresh session is untouched
	assert.True(t, h.reload(t, c.ID).Staged())

	// A second run finds nothing to do
	assert.Equal(t, ReclaimReport{}, r.Sweep(ctx))
}

func TestReclaimSweepLeavesFinalizedAttachments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	list := finalized(t, h, "S1", "a.txt")
	h.clock.Add(48 * time.Hour)

	NewReclaimScheduler(h.store, h.sessions).Sweep(ctx)

	got := h.reload(t, list[0].ID)
	assert.False(t, got.Staged())
}

func TestReclaimSchedulerRejectsBadSpec(t *testing.T) {
	h := newHarness(t)

	r := NewReclaimScheduler(h.store, h.sessions)
	assert.Error(t, r.Start("every now and then"))

	require.NoError(t, r.Start("@hourly"))
	r.Stop()
}
