// Package fieldcrypt implements the field encryption primitive used for every
// sensitive staging column and task-payload credential. Ciphertext layout is
// a random 24-byte nonce followed by the NaCl secretbox sealed payload.
package fieldcrypt

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

const nonceSize = 24

// Cipher seals and opens strings with a process-wide symmetric key.
type Cipher struct {
	key [32]byte
}

// New builds a Cipher from a base64-encoded 32-byte key.
func New(encodedKey string) (*Cipher, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(encodedKey)
		if err != nil {
			return nil, fmt.Errorf("op=fieldcrypt.new: %w", err)
		}
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("op=fieldcrypt.new: key must be 32 bytes, got %d: %w", len(raw), domain.ErrInvalidArgument)
	}
	c := &Cipher{}
	copy(c.key[:], raw)
	return c, nil
}

// Encrypt seals plaintext into nonce||box ciphertext.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("op=fieldcrypt.encrypt: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return out, nil
}

// Decrypt opens nonce||box ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("op=fieldcrypt.decrypt: short ciphertext: %w", domain.ErrDecrypt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", fmt.Errorf("op=fieldcrypt.decrypt: %w", domain.ErrDecrypt)
	}
	return string(plain), nil
}
