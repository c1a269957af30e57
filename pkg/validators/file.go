// Package validators contains checks run on user input before it reaches
// the services
package validators

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrFileNameTooLong = errors.New("file name is too long")
	ErrFileNameInvalid = errors.New("file name is invalid")
	ErrFileTypeBlocked = errors.New("file type is not allowed")
	ErrNoFile          = errors.New("no file provided")
)

// Large enough for mimetype to recognize office and media containers
const sniffLen = 3072

type UploadRules struct {
	MaxSize           int64
	MaxFilenameLength int
	// Lower case, with or without the leading dot
	BlockedExtensions []string
}

// FileValidator checks the metadata of an upload. The body is checked
// separately while it's being written.
func FileValidator(name string, size int64, r UploadRules) error {
	if size == 0 {
		return ErrNoFile
	}

	if r.MaxSize > 0 && size > r.MaxSize {
		return ErrFileTooLarge
	}

	if r.MaxFilenameLength > 0 && len(name) > r.MaxFilenameLength {
		return ErrFileNameTooLong
	}

	if err := validFilename(name); err != nil {
		return err
	}

	if blocked(name, r.BlockedExtensions) {
		return fmt.Errorf("%w: %s", ErrFileTypeBlocked, filepath.Ext(name))
	}

	return nil
}

func validFilename(name string) error {
	if strings.TrimSpace(name) == "" || !utf8.ValidString(name) {
		return ErrFileNameInvalid
	}

	for _, r := range name {
		if unicode.IsControl(r) || r == '/' || r == '\\' {
			return ErrFileNameInvalid
		}
	}

	return nil
}

// Every dotted suffix is checked so "invoice.exe.pdf" can't sneak through
func blocked(name string, exts []string) bool {
	if len(exts) == 0 {
		return false
	}

	parts := strings.Split(strings.ToLower(name), ".")
	if len(parts) < 2 {
		return false
	}

	for _, part := range parts[1:] {
		for _, ext := range exts {
			if part == strings.TrimPrefix(strings.ToLower(ext), ".") {
				return true
			}
		}
	}

	return false
}

// SafeExtension returns the extension of name if it's short and plain
// enough to reuse in a server generated file name
func SafeExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}

	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}

	return ext
}

// SniffContentType detects the content type from the first bytes of r. The
// returned reader yields the complete stream including the sniffed bytes.
func SniffContentType(r io.Reader) (string, io.Reader, error) {
	buf := make([]byte, sniffLen)

	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	buf = buf[:n]

	return mimetype.Detect(buf).String(), io.MultiReader(bytes.NewReader(buf), r), nil
}

// BaseType strips parameters such as charset from a content type
func BaseType(contentType string) string {
	t, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}

	return t
}
