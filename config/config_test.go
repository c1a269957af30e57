package config

import (
	"testing"
	"time"

	v "github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset(t *testing.T) {
	t.Helper()

	v.Reset()
	SetDefaults()
	v.Set("jwt.secret", "test-secret")
	t.Cleanup(v.Reset)
}

func TestDefaultsAreValid(t *testing.T) {
	reset(t)

	require.NoError(t, Check())

	c, err := Storage()
	require.NoError(t, err)
	assert.EqualValues(t, 25<<20, c.MaxFileSize)
	assert.Equal(t, 24*time.Hour, c.SessionTTL)
	assert.Equal(t, "@daily", c.ReclaimSchedule)
	assert.Contains(t, c.BlockedExtensions, "exe")
}

func TestCheckRejectsBadValues(t *testing.T) {
	tests := []struct {
		key   string
		value any
	}{
		{"app.log_level", "loud"},
		{"host.port", 0},
		{"db.driver", "mysql"},
		{"jwt.secret", ""},
		{"upload.max_size", 0},
		{"storage.root", ""},
		{"thumbnail.max_side", 4},
		{"thumbnail.workers", 0},
		{"session.ttl", time.Second},
		{"security.rate_limit", -1},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			reset(t)
			v.Set(tt.key, tt.value)
			assert.Error(t, Check())
		})
	}
}

func TestBlockedExtensionsFromEnvList(t *testing.T) {
	reset(t)
	v.Set("upload.blocked_extensions", []string{" .EXE, sh", "", "Bat"})

	c, err := Storage()
	require.NoError(t, err)
	assert.Equal(t, []string{"exe", "sh", "bat"}, c.BlockedExtensions)
}

func TestCORSOrigins(t *testing.T) {
	reset(t)
	v.Set("host.cors", "https://a.example, https://b.example,,")

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, CORSOrigins())
}
