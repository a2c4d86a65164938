// Package secrets encrypts identity numbers at rest and produces redacted
// representations for display and audit surfaces. Plaintext identity numbers
// never leave this package except through an explicit Decrypt call.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/argon2"

	dErrors "idcollect/pkg/domain-errors"
)

// ivLength matches the at-rest format already in production: a 16 byte IV
// stored alongside the ciphertext. Existing records decrypt unchanged.
const ivLength = 16

// EncryptedValue is the stored form of an identity number. Both fields are
// base64; Ciphertext includes the GCM auth tag.
type EncryptedValue struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// Gateway performs AES-256-GCM encryption with a process-wide key.
type Gateway struct {
	aead cipher.AEAD
}

// NewGateway derives the key from keyMaterial: a 64-char hex string is used
// directly, anything else is treated as a passphrase and stretched with
// argon2id. Salt is required only for the passphrase path.
func NewGateway(keyMaterial, salt string) (*Gateway, error) {
	if keyMaterial == "" {
		return nil, dErrors.New(dErrors.CodeInternal, "encryption key is not configured")
	}

	var key []byte
	if decoded, err := hex.DecodeString(keyMaterial); err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		if salt == "" {
			return nil, dErrors.New(dErrors.CodeInternal, "encryption salt required for passphrase keys")
		}
		key = argon2.IDKey([]byte(keyMaterial), []byte(salt), 1, 64*1024, 4, 32)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "initialize cipher")
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "initialize GCM")
	}

	return &Gateway{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (g *Gateway) Encrypt(plaintext string) (EncryptedValue, error) {
	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return EncryptedValue{}, dErrors.Wrap(err, dErrors.CodeInternal, "generate IV")
	}

	sealed := g.aead.Seal(nil, iv, []byte(plaintext), nil)
	return EncryptedValue{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		IV:         base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Decrypt opens a stored value. Tampered or corrupted data fails the GCM tag
// check and surfaces as an integrity error, never as garbage plaintext.
func (g *Gateway) Decrypt(value EncryptedValue) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(value.Ciphertext)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeIntegrity, "stored data may be corrupted or tampered with")
	}
	iv, err := base64.StdEncoding.DecodeString(value.IV)
	if err != nil || len(iv) != ivLength {
		return "", dErrors.New(dErrors.CodeIntegrity, "stored data may be corrupted or tampered with")
	}

	plaintext, err := g.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeIntegrity, "stored data may be corrupted or tampered with")
	}
	return string(plaintext), nil
}
