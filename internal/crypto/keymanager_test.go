package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()
	key := testKeyHex(t)

	blob, err := EncryptKey("0x"+key, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), key)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKeyValidation(t *testing.T) {
	t.Parallel()
	_, err := EncryptKey(testKeyHex(t), "")
	assert.Error(t, err)
	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err)
	_, err = EncryptKey("not hex", "pw")
	assert.Error(t, err)
}

func TestLoadKeySources(t *testing.T) {
	t.Parallel()
	key := testKeyHex(t)

	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + key, EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, key, got, "raw key wins")

	blob, err := EncryptKey(key, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"}, 43114)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Address().Hex())

	_, err = LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKey)
	assert.False(t, KeyConfig{}.Configured())
}
