package sealer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFile_RoundTrip(t *testing.T) {
	_, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "system.key")
	require.NoError(t, WriteKeyFile(path, priv))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := ReadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, priv, got)
}

func TestDecodeKey_Errors(t *testing.T) {
	_, err := DecodeKey("not base64!")
	assert.Error(t, err)

	_, err = DecodeKey(EncodeKey([]byte("short")))
	assert.Error(t, err)
}

func TestDecodeKey_TrimsWhitespace(t *testing.T) {
	key := make([]byte, KeySize)
	got, err := DecodeKey("  " + EncodeKey(key) + "\n")
	require.NoError(t, err)
	assert.Equal(t, key, got)
}
