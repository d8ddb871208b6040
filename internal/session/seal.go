package session

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const isolationKeySize = chacha20poly1305.KeySize

var errCorrupt = errors.New("sealed value is corrupt")

func newIsolationKey() (string, error) {
	k := make([]byte, isolationKeySize)
	if _, err := rand.Read(k); err != nil {
		return "", fmt.Errorf("generate isolation key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(k), nil
}

// seal encrypts plaintext with XChaCha20-Poly1305 under the session's
// isolation key. ad binds the ciphertext to the key it is stored under.
// Output is nonce || ciphertext.
func seal(isolationKey string, plaintext, ad []byte) ([]byte, error) {
	aead, err := aeadFor(isolationKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

func open(isolationKey string, sealed, ad []byte) ([]byte, error) {
	aead, err := aeadFor(isolationKey)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errCorrupt
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, errCorrupt
	}
	return pt, nil
}

func aeadFor(isolationKey string) (cipher.AEAD, error) {
	key, err := base64.StdEncoding.DecodeString(isolationKey)
	if err != nil || len(key) != isolationKeySize {
		return nil, errors.New("invalid isolation key")
	}
	return chacha20poly1305.NewX(key)
}
