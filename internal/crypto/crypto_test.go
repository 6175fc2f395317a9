package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	pk, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, common.Bytes2Hex(ethcrypto.FromECDSA(pk)))

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKey_Rejects(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err)

	_, err = EncryptKey("not-hex", "pw")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	raw, err := LoadKey(KeySource{RawPrivateKey: testKeyHex})
	require.NoError(t, err)

	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	fromFile, err := LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.True(t, raw.Equal(fromFile))

	_, err = LoadKey(KeySource{})
	assert.Error(t, err)
	assert.True(t, KeySource{}.Empty())
}

func TestSignDigest_RecoversSigner(t *testing.T) {
	s, err := NewSignerFromSource(KeySource{RawPrivateKey: testKeyHex})
	require.NoError(t, err)

	digest := ethcrypto.Keccak256Hash([]byte("payload"))
	sig, err := s.SignDigest(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	addr, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other := ethcrypto.Keccak256Hash([]byte("other"))
	addr, err = RecoverSigner(other, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), addr)
}

func TestRecoverSigner_BadLength(t *testing.T) {
	_, err := RecoverSigner(common.Hash{}, []byte{1, 2, 3})
	assert.Error(t, err)
}
