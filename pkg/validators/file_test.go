package validators

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rules = UploadRules{
	MaxSize:           1 << 20,
	MaxFilenameLength: 64,
	BlockedExtensions: []string{"exe", ".sh"},
}

func TestFileValidator(t *testing.T) {
	cases := []struct {
		name string
		file string
		size int64
		want error
	}{
		{"ok", "notes.txt", 10, nil},
		{"empty", "notes.txt", 0, ErrNoFile},
		{"too large", "big.bin", 2 << 20, ErrFileTooLarge},
		{"name too long", strings.Repeat("a", 65), 10, ErrFileNameTooLong},
		{"blocked ext", "setup.EXE", 10, ErrFileTypeBlocked},
		{"blocked inner ext", "run.sh.txt", 10, ErrFileTypeBlocked},
		{"newline", "a\r\nb.txt", 10, ErrFileNameInvalid},
		{"slash", "../../etc/passwd", 10, ErrFileNameInvalid},
		{"blank", "   ", 10, ErrFileNameInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := FileValidator(tc.file, tc.size, rules)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestSafeExtension(t *testing.T) {
	assert.Equal(t, ".png", SafeExtension("photo.PNG"))
	assert.Equal(t, "", SafeExtension("noext"))
	assert.Equal(t, "", SafeExtension("weird.p$g"))
	assert.Equal(t, "", SafeExtension("long.abcdefghijkl"))
}

func TestSniffContentTypeKeepsStream(t *testing.T) {
	pngHeader := "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 32)

	ct, r, err := SniffContentType(strings.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, string(rest))
}

func TestSniffContentTypeText(t *testing.T) {
	ct, _, err := SniffContentType(strings.NewReader("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", BaseType(ct))
}
