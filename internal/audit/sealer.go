package audit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/xkilldash9x/phishscope/internal/config"
)

const (
	keySize = 32
	// hkdfInfo separates audit keys from anything else derived from the same master key.
	hkdfInfo = "phishscope-audit-v1"
	// minMasterKeySize is the shortest master key accepted in derived mode.
	minMasterKeySize = 32
)

var (
	// ErrNotDecryptable is returned when opening a record sealed under a
	// one-time key that was never kept.
	ErrNotDecryptable = errors.New("audit records sealed with ephemeral keys cannot be decrypted")
	// ErrMasterKeyTooShort is returned for derived mode with a weak master key.
	ErrMasterKeyTooShort = fmt.Errorf("master key must be at least %d bytes", minMasterKeySize)
)

// Sealer encrypts audit payloads with an AEAD under a fresh key and nonce per record.
//
// In ephemeral mode the key is random and discarded, which makes records
// write-only. In derived mode the key is HKDF-SHA256(master, salt=nonce), so
// anyone holding the master key can open a record from its nonce alone.
type Sealer struct {
	cipherName string
	keyMode    string
	masterKey  []byte
	random     io.Reader
}

// NewSealer validates the cipher and key mode. masterKey is only used, and required, in derived mode.
func NewSealer(cipherName, keyMode string, masterKey []byte) (*Sealer, error) {
	switch cipherName {
	case config.CipherAESGCM, config.CipherChaCha20Poly1305:
	default:
		return nil, fmt.Errorf("unsupported audit cipher %q", cipherName)
	}

	s := &Sealer{cipherName: cipherName, keyMode: keyMode, random: rand.Reader}
	switch keyMode {
	case config.KeyModeEphemeral:
	case config.KeyModeDerived:
		if len(masterKey) < minMasterKeySize {
			return nil, ErrMasterKeyTooShort
		}
		s.masterKey = append([]byte(nil), masterKey...)
	default:
		return nil, fmt.Errorf("unsupported audit key mode %q", keyMode)
	}
	return s, nil
}

// Cipher returns the configured AEAD name.
func (s *Sealer) Cipher() string { return s.cipherName }

// KeyMode returns the configured key mode.
func (s *Sealer) KeyMode() string { return s.keyMode }

// Seal encrypts plaintext, authenticating aad alongside it.
func (s *Sealer) Seal(plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, s.nonceSize())
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key, err := s.recordKey(nonce)
	if err != nil {
		return nil, nil, err
	}
	aead, err := s.newAEAD(key)
	if err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open reverses Seal. It only works in derived mode.
func (s *Sealer) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if s.keyMode != config.KeyModeDerived {
		return nil, ErrNotDecryptable
	}
	if len(nonce) != s.nonceSize() {
		return nil, fmt.Errorf("nonce is %d bytes, want %d", len(nonce), s.nonceSize())
	}

	aead, err := s.newAEAD(s.deriveKey(nonce))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate audit record: %w", err)
	}
	return plaintext, nil
}

func (s *Sealer) recordKey(nonce []byte) ([]byte, error) {
	if s.keyMode == config.KeyModeDerived {
		return s.deriveKey(nonce), nil
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(s.random, key); err != nil {
		return nil, fmt.Errorf("failed to generate record key: %w", err)
	}
	return key, nil
}

func (s *Sealer) deriveKey(nonce []byte) []byte {
	key := make([]byte, keySize)
	h := hkdf.New(sha256.New, s.masterKey, nonce, []byte(hkdfInfo))
	// HKDF-SHA256 can produce up to 8160 bytes, so a 32-byte read cannot fail.
	_, _ = io.ReadFull(h, key)
	return key
}

func (s *Sealer) newAEAD(key []byte) (cipher.AEAD, error) {
	if s.cipherName == config.CipherChaCha20Poly1305 {
		return chacha20poly1305.New(key)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *Sealer) nonceSize() int {
	if s.cipherName == config.CipherChaCha20Poly1305 {
		return chacha20poly1305.NonceSize
	}
	return 12
}
