// Package auth keeps the bearer credential the client sends with every request.
package auth

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Store holds the current credential. Clear is called when the server answers 401.
type Store interface {
	Token() string
	Set(token string) error
	Clear() error
}

// MemoryStore keeps the token for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore returns a store seeded with token.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: strings.TrimSpace(token)}
}

func (s *MemoryStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryStore) Set(token string) error {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	return s.Set("")
}

// Credentials is the on-disk shape of a FileStore.
type Credentials struct {
	Username string `yaml:"username,omitempty"`
	Token    string `yaml:"token"`
}

// FileStore persists the credential as YAML, readable only by the owner.
type FileStore struct {
	path string

	mu    sync.RWMutex
	creds Credentials
}

// NewFileStore loads path if it exists. A missing file yields an empty store.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read credentials %s", path)
	}
	if err := yaml.Unmarshal(data, &s.creds); err != nil {
		return nil, errors.Wrapf(err, "parse credentials %s", path)
	}
	s.creds.Token = strings.TrimSpace(s.creds.Token)
	return s, nil
}

func (s *FileStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Token
}

// Username returns the name saved alongside the token, if any.
func (s *FileStore) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Username
}

func (s *FileStore) Set(token string) error {
	return s.Save(Credentials{Username: s.Username(), Token: token})
}

// Save writes the credentials file.
func (s *FileStore) Save(creds Credentials) error {
	creds.Token = strings.TrimSpace(creds.Token)
	data, err := yaml.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, "encode credentials")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "create credentials dir")
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return errors.Wrapf(err, "write credentials %s", s.path)
	}

	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return nil
}

// Clear forgets the credential and removes the file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	s.creds = Credentials{}
	s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "remove credentials %s", s.path)
	}
	return nil
}
