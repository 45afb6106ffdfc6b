// Package session tracks who is signed in on the client side.
package session

import (
	"context"
	"log/slog"
	"sync"
)

// Identity is the signed-in user as reported by the auth provider.
type Identity struct {
	ID          string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Provider is the auth provider boundary.
type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (Identity, error)
	SetDisplayName(ctx context.Context, id Identity, name string) (Identity, error)
	Authenticate(ctx context.Context, email, password string) (Identity, error)
	EndSession(ctx context.Context) error
	// OnSessionChange calls fn with the resolved session once it is known and
	// again after every change. nil means signed out.
	OnSessionChange(fn func(*Identity)) (unsubscribe func())
}

// State is a point-in-time view of the store.
type State struct {
	Identity *Identity
	Loading  bool
}

// Store mirrors the provider's session. It starts loading and becomes ready
// on the provider's first report, never returning to loading.
type Store struct {
	provider Provider
	logger   *slog.Logger

	mu        sync.Mutex
	identity  *Identity
	loading   bool
	ready     chan struct{}
	listeners map[int]func(State)
	nextID    int

	stop func()
}

// NewStore subscribes to provider and returns a store in the loading state.
func NewStore(provider Provider, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		provider:  provider,
		logger:    logger,
		loading:   true,
		ready:     make(chan struct{}),
		listeners: make(map[int]func(State)),
	}
	s.stop = provider.OnSessionChange(s.handle)
	return s
}

func (s *Store) handle(id *Identity) {
	s.mu.Lock()
	first := s.loading
	if !first && sameIdentity(s.identity, id) {
		s.mu.Unlock()
		return
	}
	if id != nil {
		cp := *id
		s.identity = &cp
	} else {
		s.identity = nil
	}
	if first {
		s.loading = false
		close(s.ready)
	}
	state := s.stateLocked()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Store) stateLocked() State {
	st := State{Loading: s.loading}
	if s.identity != nil {
		cp := *s.identity
		st.Identity = &cp
	}
	return st
}

// Current returns the present state.
func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Subscribe registers fn for every state change and returns its remover. fn
// runs on the provider's callback goroutine and must not block.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Wait blocks until the session has been resolved.
func (s *Store) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.ready:
		return s.Current(), nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// SignUp creates an account and then sets its display name. If naming fails
// the account still exists and stays signed in.
func (s *Store) SignUp(ctx context.Context, email, password, displayName string) (Identity, error) {
	id, err := s.provider.CreateAccount(ctx, email, password)
	if err != nil {
		s.logger.Info("sign up failed", slog.String("email", email), slog.Any("error", err))
		return Identity{}, Classify(err, "Failed to create account")
	}
	named, err := s.provider.SetDisplayName(ctx, id, displayName)
	if err != nil {
		s.logger.Warn("set display name failed", slog.String("uid", id.ID), slog.Any("error", err))
		return id, Classify(err, "Failed to create account")
	}
	return named, nil
}

// SignIn authenticates with email and password.
func (s *Store) SignIn(ctx context.Context, email, password string) (Identity, error) {
	id, err := s.provider.Authenticate(ctx, email, password)
	if err != nil {
		s.logger.Info("sign in failed", slog.String("email", email), slog.Any("error", err))
		return Identity{}, Classify(err, "Failed to sign in")
	}
	return id, nil
}

// SignOut ends the provider session.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.provider.EndSession(ctx); err != nil {
		return Classify(err, "Failed to sign out")
	}
	return nil
}

// Close detaches from the provider.
func (s *Store) Close() {
	if s.stop != nil {
		s.stop()
	}
}
