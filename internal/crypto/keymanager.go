// Package crypto resolves the account's signing key and signs transactions
// with it. The key never leaves this package once loaded.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

// ErrWrongPassword is returned when a key file fails authentication.
var ErrWrongPassword = errors.New("crypto: decryption failed (wrong password?)")

const (
	keyFileVersion = 1
	kdfName        = "pbkdf2-sha256"
	kdfIterations  = 480_000
	kdfSaltLen     = 16
)

// keyFile is the on-disk format written by EncryptKey. The address is stored
// in clear so an operator can tell which account a file belongs to; it is
// re-derived and compared on decryption.
type keyFile struct {
	Version    int       `json:"version"`
	Address    string    `json:"address"`
	KDF        kdfParams `json:"kdf"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
}

type kdfParams struct {
	Name       string `json:"name"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
}

// KeyConfig lists the places a private key may come from. RawPrivateKey wins
// when both are set.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// LoadKey returns the private key as 64 hex characters without a prefix.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		k, err := normalizeKey(cfg.RawPrivateKey)
		if err != nil {
			return "", fmt.Errorf("crypto: private key: %w", err)
		}
		return k, nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", errors.New("crypto: no private key configured")
	}
}

// EncryptKey seals privateKeyHex under password and returns the key file
// JSON.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	k, err := normalizeKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: private key: %w", err)
	}
	addr, err := addressOf(k)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, kdfSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := newAEAD(password, salt, kdfIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	raw, _ := hex.DecodeString(k)

	// The address is bound as additional data so it cannot be swapped.
	sealed := aead.Seal(nil, nonce, raw, []byte(addr.Hex()))

	return json.MarshalIndent(keyFile{
		Version: keyFileVersion,
		Address: addr.Hex(),
		KDF: kdfParams{
			Name:       kdfName,
			Iterations: kdfIterations,
			Salt:       b64(salt),
		},
		Nonce:      b64(nonce),
		Ciphertext: b64(sealed),
	}, "", "  ")
}

// DecryptKey opens a key file written by EncryptKey and returns the key as
// 64 hex characters.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if f.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", f.Version)
	}
	if f.KDF.Name != kdfName || f.KDF.Iterations <= 0 {
		return "", fmt.Errorf("crypto: unsupported kdf %q", f.KDF.Name)
	}

	salt, err := unb64("salt", f.KDF.Salt)
	if err != nil {
		return "", err
	}
	nonce, err := unb64("nonce", f.Nonce)
	if err != nil {
		return "", err
	}
	sealed, err := unb64("ciphertext", f.Ciphertext)
	if err != nil {
		return "", err
	}

	aead, err := newAEAD(password, salt, f.KDF.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: nonce must be %d bytes", aead.NonceSize())
	}
	raw, err := aead.Open(nil, nonce, sealed, []byte(f.Address))
	if err != nil {
		return "", ErrWrongPassword
	}

	k := hex.EncodeToString(raw)
	addr, err := addressOf(k)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(addr.Hex(), f.Address) {
		return "", fmt.Errorf("crypto: key file is labelled %s but holds the key for %s", f.Address, addr.Hex())
	}
	return k, nil
}

func newAEAD(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

// normalizeKey strips an optional 0x prefix and checks for 32 bytes of hex.
func normalizeKey(k string) (string, error) {
	k = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(k), "0x"))
	b, err := hex.DecodeString(k)
	if err != nil {
		return "", fmt.Errorf("not valid hex: %w", err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("expected 32-byte key, got %d bytes", len(b))
	}
	return k, nil
}

func addressOf(keyHex string) (common.Address, error) {
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: invalid secp256k1 key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func unb64(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode %s: %w", field, err)
	}
	return b, nil
}
