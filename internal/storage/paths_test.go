package storage

import (
	"path/filepath"
	"testing"

	"bitwise74/attachment-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathResolverLayout(t *testing.T) {
	p := NewPathResolver("/data/files")

	tmp, err := p.TempDir("4a3c1f2e-sess")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/files", "_tmp", "4a3c1f2e-sess"), tmp)

	dir, err := p.ContextDir(model.ContextSchedule, "S1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/files", "schedule", "S1"), dir)

	again, err := p.ContextDir(model.ContextSchedule, "S1")
	require.NoError(t, err)
	assert.Equal(t, dir, again)

	f, err := p.File(dir, "abc.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc.png"), f)

	assert.Equal(t, filepath.Join("/data/files", "_work"), p.WorkDir())
}

func TestPathResolverRejectsTraversal(t *testing.T) {
	p := NewPathResolver("/data/files")

	bad := []string{"", ".", "..", "../etc", "a/b", `a\b`, "a\x00b", "line\nbreak"}
	for _, seg := range bad {
		_, err := p.TempDir(seg)
		assert.ErrorIs(t, err, ErrUnsafePath, "temp dir %q", seg)

		_, err = p.ContextDir(model.ContextTeam, seg)
		assert.ErrorIs(t, err, ErrUnsafePath, "context dir %q", seg)

		_, err = p.File("/data/files/team/T1", seg)
		assert.ErrorIs(t, err, ErrUnsafePath, "file %q", seg)
	}
}

func TestPathResolverRejectsUnknownContextType(t *testing.T) {
	p := NewPathResolver("/data/files")

	_, err := p.ContextDir(model.ContextType("../_tmp"), "x")
	assert.ErrorIs(t, err, ErrUnsafePath)
}

func TestPathResolverFileOutsideRoot(t *testing.T) {
	p := NewPathResolver("/data/files")

	_, err := p.File("/etc", "passwd")
	assert.ErrorIs(t, err, ErrUnsafePath)
}

func TestAttachmentDir(t *testing.T) {
	p := NewPathResolver("/data")
	sess, ctx := "sess-1", "P9"

	dir, err := p.AttachmentDir(&model.Attachment{UploadSessionID: &sess})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "_tmp", "sess-1"), dir)

	dir, err = p.AttachmentDir(&model.Attachment{ContextType: model.ContextProfile, ContextID: &ctx})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "profile", "P9"), dir)

	_, err = p.AttachmentDir(&model.Attachment{})
	assert.ErrorIs(t, err, model.ErrAttachmentScope)
}

func TestThumbnailName(t *testing.T) {
	assert.Equal(t, "thumb-9b1d.jpg", ThumbnailName("9b1d.png", "jpg"))
	assert.Equal(t, "thumb-9b1d.jpg", ThumbnailName("9b1d", ".jpg"))
	assert.NotEqual(t, "9b1d.jpg", ThumbnailName("9b1d.jpg", "jpg"))
}
