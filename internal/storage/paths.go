// Package storage contains the local filesystem layout and the primitive
// file operations used by the attachment service
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"bitwise74/attachment-api/internal/model"
)

var ErrUnsafePath = errors.New("unsafe path segment")

const (
	tmpDirName      = "_tmp"
	workDirName     = "_work"
	thumbnailPrefix = "thumb-"
	maxSegmentLen   = 128
)

// PathResolver maps sessions, contexts and file names to locations
// under a single storage root. It never touches the disk.
type PathResolver struct {
	root string
}

func NewPathResolver(root string) *PathResolver {
	return &PathResolver{root: filepath.Clean(root)}
}

func (p *PathResolver) Root() string {
	return p.root
}

// SafeSegment rejects anything that could escape its parent directory
// when used as a single path element
func SafeSegment(s string) error {
	if s == "" || s == "." || s == ".." {
		return fmt.Errorf("%w: %q", ErrUnsafePath, s)
	}

	if len(s) > maxSegmentLen {
		return fmt.Errorf("%w: segment too long", ErrUnsafePath)
	}

	for _, r := range s {
		if r == '/' || r == '\\' || r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", ErrUnsafePath, s)
		}
	}

	return nil
}

// TempDir is the staging directory of an upload session
func (p *PathResolver) TempDir(sessionID string) (string, error) {
	return p.join(tmpDirName, sessionID)
}

// WorkDir holds files that are still being produced, like thumbnails,
// before they are moved next to their attachment
func (p *PathResolver) WorkDir() string {
	return filepath.Join(p.root, workDirName)
}

// ContextDir is the permanent directory of a context
func (p *PathResolver) ContextDir(t model.ContextType, contextID string) (string, error) {
	if _, ok := model.ParseContextType(string(t)); !ok {
		return "", fmt.Errorf("%w: unknown context type %q", ErrUnsafePath, t)
	}

	return p.join(t.Dir(), contextID)
}

// File joins a validated file name onto a directory returned by the resolver
func (p *PathResolver) File(dir, name string) (string, error) {
	if err := SafeSegment(name); err != nil {
		return "", err
	}

	full := filepath.Join(dir, name)
	if !p.within(full) {
		return "", fmt.Errorf("%w: %q escapes storage root", ErrUnsafePath, full)
	}

	return full, nil
}

// AttachmentDir returns where the attachment's files currently live
func (p *PathResolver) AttachmentDir(a *model.Attachment) (string, error) {
	if a.UploadSessionID != nil {
		return p.TempDir(*a.UploadSessionID)
	}

	if a.ContextID != nil {
		return p.ContextDir(a.ContextType, *a.ContextID)
	}

	return "", model.ErrAttachmentScope
}

// ThumbnailName derives the thumbnail file name from a stored file name.
// Stored names never carry the thumb- prefix so the two can't collide.
func ThumbnailName(storedFilename, ext string) string {
	base := strings.TrimSuffix(storedFilename, filepath.Ext(storedFilename))
	return thumbnailPrefix + base + "." + strings.TrimPrefix(ext, ".")
}

func (p *PathResolver) join(parent, child string) (string, error) {
	if err := SafeSegment(child); err != nil {
		return "", err
	}

	full := filepath.Join(p.root, parent, child)
	if !p.within(full) {
		return "", fmt.Errorf("%w: %q escapes storage root", ErrUnsafePath, full)
	}

	return full, nil
}

func (p *PathResolver) within(path string) bool {
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}
