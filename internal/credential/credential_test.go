package credential

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueDecodeRoundTrip(t *testing.T) {
	issuer := NewIssuer(128)

	token, png, err := issuer.Issue(42, "Asha", "a@x.com")
	require.NoError(t, err)
	assert.NotEmpty(t, png)
	// PNG magic bytes: the rendered credential must be a real image.
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	id, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestIssueIsDeterministic(t *testing.T) {
	issuer := NewIssuer(128)

	token1, _, err := issuer.Issue(7, "Ravi", "ravi@x.com")
	require.NoError(t, err)
	token2, _, err := issuer.Issue(7, "Ravi", "ravi@x.com")
	require.NoError(t, err)
	assert.Equal(t, token1, token2)
}

func TestIssueRejectsUnrepresentableIDs(t *testing.T) {
	issuer := NewIssuer(128)

	for _, id := range []int64{0, -1, maxID + 1} {
		_, _, err := issuer.Issue(id, "X", "x@x.com")
		assert.ErrorIs(t, err, ErrEncoding, "id %d", id)
	}

	// The boundary itself is fine.
	_, _, err := issuer.Issue(maxID, "X", "x@x.com")
	assert.NoError(t, err)
}

func TestDecodeRejectsForeignTokens(t *testing.T) {
	cases := []string{
		"",
		"not-a-token",
		"otherapp|42|X|x@x.com",
		"gatepass|abc|X|x@x.com",
		"gatepass|-5|X|x@x.com",
		"gatepass",
	}
	for _, token := range cases {
		_, err := Decode(token)
		assert.ErrorIs(t, err, ErrBadToken, "token %q", token)
	}
}

func TestDecodeToleratesDelimiterInName(t *testing.T) {
	id, err := Decode(Token(9, "Weird|Name", "w@x.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
}
