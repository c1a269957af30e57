package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestAttachmentValidateExclusivity(t *testing.T) {
	cases := []struct {
		name    string
		ctx     *string
		session *string
		wantErr bool
	}{
		{"staged", nil, strPtr("s1"), false},
		{"bound", strPtr("c1"), nil, false},
		{"both", strPtr("c1"), strPtr("s1"), true},
		{"neither", nil, nil, true},
		{"empty context", strPtr(""), nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &Attachment{ContextID: tc.ctx, UploadSessionID: tc.session}
			err := a.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrAttachmentScope)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseContextType(t *testing.T) {
	ct, ok := ParseContextType(" schedule ")
	assert.True(t, ok)
	assert.Equal(t, ContextSchedule, ct)
	assert.Equal(t, "schedule", ct.Dir())

	_, ok = ParseContextType("invoice")
	assert.False(t, ok)
}

func TestUploadSessionExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &UploadSession{ExpiresAt: now}

	assert.True(t, s.Expired(now))
	assert.False(t, s.Expired(now.Add(-time.Second)))
}
