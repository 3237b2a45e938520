// Package credentials holds the bearer token produced by a prior login.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Provider returns the current bearer token, or "" when there is none.
type Provider interface {
	Token() string
}

// Store is a Provider whose token can be replaced or cleared.
type Store interface {
	Provider
	SetToken(token string) error
	Clear() error
}

// Memory keeps the token in process memory.
type Memory struct {
	mu    sync.RWMutex
	token string
}

// NewMemory creates a Memory store seeded with token.
func NewMemory(token string) *Memory {
	return &Memory{token: token}
}

func (m *Memory) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *Memory) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *Memory) Clear() error { return m.SetToken("") }

// Env reads the token from an environment variable on every call.
type Env struct {
	Key string
}

func (e Env) Token() string { return os.Getenv(e.Key) }

// File persists the token as JSON on disk with owner-only permissions.
type File struct {
	path string
	mu   sync.Mutex
}

type fileContents struct {
	Token string `json:"auth_token"`
}

// NewFile creates a File store at path. The file is created lazily.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file location.
func (f *File) Path() string { return f.path }

// Token returns the stored token. A missing or unreadable file yields "".
func (f *File) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return ""
	}
	var c fileContents
	if err := json.Unmarshal(data, &c); err != nil {
		return ""
	}
	return c.Token
}

func (f *File) SetToken(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.Marshal(fileContents{Token: token})
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
