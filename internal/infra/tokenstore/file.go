// Package tokenstore holds the Token Store backends: an encrypted file
// store that survives restarts, and an in-memory store scoped per origin.
package tokenstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/boddenberg/crm-leads-go/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// TokenKey is the storage key of the bearer token.
const TokenKey = "auth_token"

const (
	masterKeyFile = ".master_key"
	masterKeySize = 32
)

// FileStore persists the token under dir, sealed with XChaCha20-Poly1305.
// The sealing key is derived (HKDF-SHA256) from a per-installation master
// key kept next to the token with 0600 permissions.
type FileStore struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore creates a file-backed token store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger}
}

func (s *FileStore) tokenPath() string {
	return filepath.Join(s.dir, TokenKey)
}

// Save seals and writes the token atomically.
func (s *FileStore) Save(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return &domain.ErrTokenStore{Op: "save", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return &domain.ErrTokenStore{Op: "save", Err: err}
	}

	aead, err := s.sealer(true)
	if err != nil {
		return &domain.ErrTokenStore{Op: "save", Err: err}
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(token)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return &domain.ErrTokenStore{Op: "save", Err: err}
	}
	sealed := aead.Seal(nonce, nonce, []byte(token), []byte(TokenKey))

	encoded := base64.StdEncoding.EncodeToString(sealed)
	if err := writeFileAtomic(s.tokenPath(), []byte(encoded)); err != nil {
		return &domain.ErrTokenStore{Op: "save", Err: err}
	}
	return nil
}

// Get returns the stored token. A missing, unreadable or tampered file is
// reported as absent.
func (s *FileStore) Get(ctx context.Context) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.tokenPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("token store: read failed, treating as absent", zap.Error(err))
		}
		return "", false
	}

	sealed, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		s.logger.Warn("token store: corrupt token file, treating as absent", zap.Error(err))
		return "", false
	}

	aead, err := s.sealer(false)
	if err != nil {
		s.logger.Warn("token store: master key unavailable, treating as absent", zap.Error(err))
		return "", false
	}
	if len(sealed) < aead.NonceSize() {
		s.logger.Warn("token store: truncated token file, treating as absent")
		return "", false
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(TokenKey))
	if err != nil {
		s.logger.Warn("token store: token failed authentication, treating as absent", zap.Error(err))
		return "", false
	}
	if len(plain) == 0 {
		return "", false
	}
	return string(plain), true
}

// Delete removes the token file. A missing file is not an error.
func (s *FileStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &domain.ErrTokenStore{Op: "delete", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.tokenPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &domain.ErrTokenStore{Op: "delete", Err: err}
	}
	return nil
}

// sealer derives the sealing AEAD from the master key, creating the
// master key first when create is set.
func (s *FileStore) sealer(create bool) (cipher.AEAD, error) {
	master, err := s.masterKey(create)
	if err != nil {
		return nil, err
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(TokenKey)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

func (s *FileStore) masterKey(create bool) ([]byte, error) {
	path := filepath.Join(s.dir, masterKeyFile)

	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != masterKeySize {
			return nil, fmt.Errorf("master key has unexpected size %d", len(key))
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) || !create {
		return nil, err
	}

	key = make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
