package attachment

import (
	"mime"
	"strings"
	"unicode"
	"unicode/utf8"

	"bitwise74/attachment-api/pkg/validators"
)

const maxDispositionName = 200

// Types a browser may render in place without running anything
var inlineSafe = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
	"application/pdf",
	"text/plain",
}

// contentDisposition builds a header value that can't be used to inject
// headers or smuggle a path through the file name
func contentDisposition(inline bool, contentType, filename string) string {
	kind := "attachment"
	if inline && canInline(contentType) {
		kind = "inline"
	}

	name := sanitizeFilename(filename)
	if name == "" {
		return kind
	}

	v := mime.FormatMediaType(kind, map[string]string{"filename": name})
	if v == "" {
		return kind
	}

	return v
}

func canInline(contentType string) bool {
	base := validators.BaseType(contentType)
	if strings.HasPrefix(base, "video/") || strings.HasPrefix(base, "audio/") {
		return true
	}

	for _, t := range inlineSafe {
		if t == base {
			return true
		}
	}

	return false
}

func sanitizeFilename(name string) string {
	if !utf8.ValidString(name) {
		name = strings.ToValidUTF8(name, "")
	}

	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r), r == '"', r == '\\', r == '/', r == ';':
			return -1
		}
		return r
	}, name)

	name = strings.TrimSpace(name)
	for len(name) > maxDispositionName {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}

	return name
}
