package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndParsePair(t *testing.T) {
	tm := NewTokenManager("test-secret", "pesaflow-backend", 15*time.Minute, 24*time.Hour)

	access, refresh, exp, err := tm.GeneratePair("user-1", "operator")
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	require.True(t, exp.After(time.Now()))

	claims, isRefresh, err := tm.ParseAny(access)
	require.NoError(t, err)
	require.False(t, isRefresh)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "operator", claims.Role)

	claims, isRefresh, err = tm.ParseAny(refresh)
	require.NoError(t, err)
	require.True(t, isRefresh)
	require.Equal(t, "user-1", claims.UserID)
}

func TestParseRejectsGarbage(t *testing.T) {
	tm := NewTokenManager("test-secret", "pesaflow-backend", 15*time.Minute, 24*time.Hour)
	_, _, err := tm.ParseAny("not-a-token")
	require.Error(t, err)
}

func TestParseRejectsForeignSecret(t *testing.T) {
	tm := NewTokenManager("test-secret", "pesaflow-backend", 15*time.Minute, 24*time.Hour)
	other := NewTokenManager("other-secret", "pesaflow-backend", 15*time.Minute, 24*time.Hour)

	access, _, _, err := other.GeneratePair("user-1", "operator")
	require.NoError(t, err)

	_, _, err = tm.ParseAny(access)
	require.Error(t, err)
}
