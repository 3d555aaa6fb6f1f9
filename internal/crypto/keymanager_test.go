package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestLoadKeyRaw(t *testing.T) {
	k, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	_, err = LoadKey(KeyConfig{RawPrivateKey: testKey[:10]})
	require.ErrorContains(t, err, "expected 32-byte key")

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), testKey)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	k, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	require.ErrorIs(t, err, ErrWrongPassword)
}

func TestKeyFileIsBoundToItsAddress(t *testing.T) {
	s, err := NewSigner(testKey, 1)
	require.NoError(t, err)

	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), s.Address().Hex())

	relabelled := strings.Replace(string(blob), s.Address().Hex(),
		"0x0000000000000000000000000000000000000001", 1)
	_, err = DecryptKey([]byte(relabelled), "hunter2")
	require.ErrorIs(t, err, ErrWrongPassword)
}

func TestDecryptKeyRejectsMalformedFiles(t *testing.T) {
	_, err := DecryptKey([]byte("{"), "pw")
	require.ErrorContains(t, err, "parse key file")

	_, err = DecryptKey([]byte(`{"version":2}`), "pw")
	require.ErrorContains(t, err, "unsupported key file version")

	_, err = DecryptKey([]byte(`{"version":1,"kdf":{"name":"scrypt","iterations":1}}`), "pw")
	require.ErrorContains(t, err, "unsupported kdf")

	_, err = DecryptKey([]byte(`{}`), "")
	require.ErrorContains(t, err, "password must not be empty")
}

func TestSignerAddressAndAccountMatch(t *testing.T) {
	s, err := NewSigner(testKey, 1)
	require.NoError(t, err)

	require.NoError(t, s.MatchesAccount(s.Address().Hex()))
	require.Error(t, s.MatchesAccount("0x0000000000000000000000000000000000000001"))
	assert.NotContains(t, s.String(), testKey)
}

func TestSignerSignTxRecoversSender(t *testing.T) {
	s, err := NewSigner(testKey, 1337)
	require.NoError(t, err)

	to := common.HexToAddress("0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.ChainID(),
		Nonce:     7,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(0),
	})
	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(s.ChainID()), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}
