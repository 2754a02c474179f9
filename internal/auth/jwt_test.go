package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("kiosk-1", "kiosk", "gatepass", "secret", time.Minute, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, "secret", "gatepass")
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", claims.Subject)
	assert.Equal(t, "kiosk", claims.Role)
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("kiosk-1", "kiosk", "gatepass", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-secret", "gatepass")
	assert.Error(t, err)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("kiosk-1", "kiosk", "someone-else", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "gatepass")
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	pair, err := Issue("kiosk-1", "kiosk", "gatepass", "secret", -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "gatepass")
	assert.Error(t, err)
}
