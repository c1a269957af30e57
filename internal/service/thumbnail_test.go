package service

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bitwise74/attachment-api/internal/model"
	"bitwise74/attachment-api/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingGenerator claims every content type starting with types and then
// leaves a partial file behind before failing
type failingGenerator struct {
	types  string
	panics bool
}

func (g *failingGenerator) CanGenerate(contentType string) bool {
	return strings.HasPrefix(contentType, g.types)
}

func (g *failingGenerator) Format() (string, string) {
	return "jpg", "image/jpeg"
}

func (g *failingGenerator) Generate(_ context.Context, _, target string, _ int) error {
	if err := os.WriteFile(target, []byte("partial"), 0o640); err != nil {
		return err
	}

	if g.panics {
		panic("decoder blew up")
	}

	return errors.New("cannot decode")
}

func TestPipelineFailuresLeaveNoFile(t *testing.T) {
	for _, panics := range []bool{false, true} {
		dir := t.TempDir()
		p := NewThumbnailPipeline(storage.NewFileStore(), &failingGenerator{types: "text/", panics: panics})

		res := p.GenerateFor(context.Background(), "text/plain", filepath.Join(dir, "a.txt"), dir, "a.txt", 64)
		assert.Equal(t, model.ThumbnailFailed, res.Status)
		assert.NoFileExists(t, filepath.Join(dir, storage.ThumbnailName("a.txt", "jpg")))
	}
}

func TestPipelineWithoutGenerator(t *testing.T) {
	p := NewThumbnailPipeline(storage.NewFileStore(), NewImageThumbnailGenerator())

	assert.False(t, p.Claims("application/pdf"))
	res := p.GenerateFor(context.Background(), "application/pdf", "x.pdf", t.TempDir(), "x.pdf", 64)
	assert.Equal(t, model.ThumbnailNone, res.Status)
}

func TestPipelineFirstMatchWins(t *testing.T) {
	p := NewThumbnailPipeline(storage.NewFileStore(), &failingGenerator{types: "image/"}, NewImageThumbnailGenerator())

	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(src, pngBytes(t, 10, 10), 0o640))

	res := p.GenerateFor(context.Background(), "image/png", src, dir, "a.png", 64)
	assert.Equal(t, model.ThumbnailFailed, res.Status)
	assert.True(t, p.CanPreviewOriginal("image/png"))
	assert.False(t, p.CanPreviewOriginal("video/mp4"))
}

func TestImageThumbnail(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "wide.png")
	require.NoError(t, os.WriteFile(src, pngBytes(t, 300, 150), 0o640))

	p := NewThumbnailPipeline(storage.NewFileStore(), NewImageThumbnailGenerator())
	res := p.GenerateFor(context.Background(), "image/png", src, dir, "wide.png", 100)
	require.Equal(t, model.ThumbnailReady, res.Status)
	assert.Equal(t, "thumb-wide.jpg", res.Filename)
	assert.Equal(t, "image/jpeg", res.ContentType)
	assert.Positive(t, res.Size)

	f, err := os.Open(filepath.Join(dir, res.Filename))
	require.NoError(t, err)
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestImageThumbnailRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "fake.png")
	require.NoError(t, os.WriteFile(src, []byte("not a png at all"), 0o640))

	p := NewThumbnailPipeline(storage.NewFileStore(), NewImageThumbnailGenerator())
	res := p.GenerateFor(context.Background(), "image/png", src, dir, "fake.png", 100)
	assert.Equal(t, model.ThumbnailFailed, res.Status)
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{300, 150, 100, 100, 50},
		{150, 300, 100, 50, 100},
		{50, 20, 100, 50, 20},
		{1000, 1, 100, 100, 1},
	}

	for _, tt := range tests {
		w, h := fit(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, w)
		assert.Equal(t, tt.wantH, h)
	}
}

func TestQueueRunsJobs(t *testing.T) {
	q := NewThumbnailQueue(3, 10, time.Second)
	q.StartWorkerPool()
	defer q.Stop()

	var ran atomic.Int32
	for range 10 {
		require.NoError(t, q.Enqueue(&ThumbnailJob{
			AttachmentID: "a",
			Run:          func(context.Context) { ran.Add(1) },
		}))
	}

	q.Wait()
	assert.EqualValues(t, 10, ran.Load())
}

func TestQueueSurvivesPanics(t *testing.T) {
	q := NewThumbnailQueue(1, 4, time.Second)
	q.StartWorkerPool()
	defer q.Stop()

	var ran atomic.Bool
	require.NoError(t, q.Enqueue(&ThumbnailJob{Run: func(context.Context) { panic("boom") }}))
	require.NoError(t, q.Enqueue(&ThumbnailJob{Run: func(context.Context) { ran.Store(true) }}))

	q.Wait()
	assert.True(t, ran.Load())
}

func TestQueueJobTimeout(t *testing.T) {
	q := NewThumbnailQueue(1, 1, 20*time.Millisecond)
	q.StartWorkerPool()
	defer q.Stop()

	var err atomic.Value
	require.NoError(t, q.Enqueue(&ThumbnailJob{Run: func(ctx context.Context) {
		<-ctx.Done()
		err.Store(ctx.Err())
	}}))

	q.Wait()
	assert.ErrorIs(t, err.Load().(error), context.DeadlineExceeded)
}

func TestQueueFullAndClosed(t *testing.T) {
	q := NewThumbnailQueue(1, 1, time.Second)

	noop := &ThumbnailJob{Run: func(context.Context) {}}
	require.NoError(t, q.Enqueue(noop))
	assert.ErrorIs(t, q.Enqueue(noop), ErrQueueFull)

	q.StartWorkerPool()
	q.Stop()

	assert.ErrorIs(t, q.Enqueue(noop), ErrQueueClosed)
}
