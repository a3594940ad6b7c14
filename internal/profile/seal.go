package profile

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the size of the key file.
const MasterKeySize = 32

var (
	sealMagic = []byte("SPP1")
	sealInfo  = []byte("streampad:profile:v1")
)

// ErrCorrupt is returned when a sealed document cannot be opened.
var ErrCorrupt = errors.New("sealed profile is corrupt or was sealed with another key")

// Sealer encrypts profile documents with XChaCha20-Poly1305 under a key
// derived from the master key. Output is magic || nonce || ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the document key from master.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) < MasterKeySize {
		return nil, fmt.Errorf("master key is %d bytes, need %d", len(master), MasterKeySize)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, sealInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, len(sealMagic)+len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plaintext, sealMagic), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(data) < len(sealMagic)+ns+s.aead.Overhead() || !bytes.HasPrefix(data, sealMagic) {
		return nil, ErrCorrupt
	}
	nonce := data[len(sealMagic) : len(sealMagic)+ns]
	plain, err := s.aead.Open(nil, nonce, data[len(sealMagic)+ns:], sealMagic)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plain, nil
}

// LoadOrCreateKey reads the master key at path, creating a random one with
// mode 0600 if the file does not exist.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != MasterKeySize {
			return nil, fmt.Errorf("key file %s: expected %d bytes, got %d", path, MasterKeySize, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	key = make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			// Lost a race with another process; use its key.
			return LoadOrCreateKey(path)
		}
		return nil, fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}
