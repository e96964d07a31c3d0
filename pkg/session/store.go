package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ErrNoToken is returned when no credentials are stored.
var ErrNoToken = errors.New("session: no token stored")

// TokenStore holds the bearer token of the logged-in user.
type TokenStore interface {
	// Token returns the stored token and whether there is one
	Token() (string, bool)

	// SetToken stores a token after login
	SetToken(token string) error

	// Clear removes the stored credentials
	Clear() error
}

// MemoryTokenStore keeps the token for the lifetime of the process.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryTokenStore creates a store holding token (may be empty).
func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

// Token implements TokenStore.
func (s *MemoryTokenStore) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// SetToken implements TokenStore.
func (s *MemoryTokenStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

// Clear implements TokenStore.
func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

// FileTokenStore persists the token in a user-only readable JSON file so
// that CLI invocations share a login.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

type tokenFile struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// NewFileTokenStore creates a store backed by path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path, now: time.Now}
}

// Path returns the credentials file location.
func (s *FileTokenStore) Path() string {
	return s.path
}

// Token implements TokenStore. A missing or unreadable file means no token.
func (s *FileTokenStore) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		return "", false
	}
	var f tokenFile
	if err := json.Unmarshal(b, &f); err != nil {
		return "", false
	}
	return f.Token, f.Token != ""
}

// SetToken implements TokenStore.
func (s *FileTokenStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("session: create credentials dir: %w", err)
	}
	b, err := json.Marshal(tokenFile{Token: token, SavedAt: s.now()})
	if err != nil {
		return fmt.Errorf("session: encode credentials: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("session: write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: write credentials: %w", err)
	}
	return nil
}

// Clear implements TokenStore. Clearing an absent file is not an error.
func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: clear credentials: %w", err)
	}
	return nil
}
