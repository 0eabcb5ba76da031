package sessions_test

import (
	"testing"

	apperrors "github.com/jrsteele09/go-tg-session-gateway/internal/errors"
	"github.com/jrsteele09/go-tg-session-gateway/sessions"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"canonical", "+15551234567", "+15551234567"},
		{"no plus", "15551234567", "+15551234567"},
		{"formatted", " +1 (555) 123-45.67 ", "+15551234567"},
		{"short", "+1555", "+1555"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sessions.NormalizePhone(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	for _, raw := range []string{"", "   ", "+", "++1555", "+1555x", "call me", "+1234567890123456"} {
		t.Run("invalid "+raw, func(t *testing.T) {
			_, err := sessions.NormalizePhone(raw)
			require.ErrorIs(t, err, apperrors.ErrInvalidIdentity)
		})
	}
}

func TestMaskPhone(t *testing.T) {
	require.Equal(t, "*********567", sessions.MaskPhone("+15551234567"))
	require.Equal(t, "+155", sessions.MaskPhone("+155"))
}
