package util

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHexToken(t *testing.T) {
	a, err := HexToken(16)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := HexToken(16)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestURLToken(t *testing.T) {
	tok, err := URLToken(32)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	require.Len(t, raw, 32)
}
