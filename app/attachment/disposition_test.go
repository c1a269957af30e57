package attachment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentDisposition(t *testing.T) {
	tests := []struct {
		name        string
		inline      bool
		contentType string
		filename    string
		want        string
	}{
		{"plain", false, "text/plain", "notes.txt", "attachment; filename=notes.txt"},
		{"inline image", true, "image/png", "a b.png", `inline; filename="a b.png"`},
		{"html never inline", true, "text/html; charset=utf-8", "page.html", "attachment; filename=page.html"},
		{"svg never inline", true, "image/svg+xml", "x.svg", "attachment; filename=x.svg"},
		{"header injection", false, "text/plain", "a\r\nSet-Cookie: x=1.txt", `attachment; filename="aSet-Cookie: x=1.txt"`},
		{"quotes and separators", false, "text/plain", `..\..\"evil".txt`, "attachment; filename=....evil.txt"},
		{"nothing left", false, "text/plain", "\r\n\"", "attachment"},
		{"unicode", false, "text/plain", "résumé.pdf", "attachment; filename*=utf-8''r%C3%A9sum%C3%A9.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contentDisposition(tt.inline, tt.contentType, tt.filename)
			assert.Equal(t, tt.want, got)
			assert.False(t, strings.ContainsAny(got, "\r\n\x00"))
		})
	}
}

func TestSanitizeFilenameCapsLength(t *testing.T) {
	name := sanitizeFilename(strings.Repeat("é", 300))

	assert.LessOrEqual(t, len(name), maxDispositionName)
	assert.True(t, strings.HasPrefix(name, "é"))
	assert.NotContains(t, name, "�")
}
