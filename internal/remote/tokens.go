package remote

import (
	"sync"
	"time"

	"github.com/trailpack/trailpack/internal/session"
)

// Credentials is what a client keeps between runs.
type Credentials struct {
	Server    string            `yaml:"server"`
	Token     string            `yaml:"token"`
	ExpiresAt time.Time         `yaml:"expires_at"`
	Identity  *session.Identity `yaml:"identity,omitempty"`
}

// TokenStore persists credentials. Load returns zero Credentials when nothing
// is stored.
type TokenStore interface {
	Load() (Credentials, error)
	Save(Credentials) error
	Clear() error
}

// MemoryTokens keeps credentials for the life of the process.
type MemoryTokens struct {
	mu    sync.Mutex
	creds Credentials
}

func (m *MemoryTokens) Load() (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, nil
}

func (m *MemoryTokens) Save(c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = c
	return nil
}

func (m *MemoryTokens) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{}
	return nil
}
