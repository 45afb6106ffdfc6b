package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/trailpack/trailpack/internal/identity"
	"github.com/trailpack/trailpack/internal/metrics"
)

// Error is an authentication failure with a wire code.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

// Code is the wire error code.
func (e *Error) Code() string { return "auth/unauthenticated" }

// Status is always 401.
func (e *Error) Status() int { return http.StatusUnauthorized }

// ErrUnauthenticated covers missing, malformed, expired and revoked tokens.
var ErrUnauthenticated = &Error{msg: "authentication required"}

// Session is a signed-in user with an access token.
type Session struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      identity.Profile `json:"user"`
}

// Service issues sessions for identity accounts and verifies their tokens.
type Service struct {
	ids     *identity.Service
	tokens  *Tokens
	metrics *metrics.Collectors
	logger  *slog.Logger
}

// NewService builds an auth service. m may be nil.
func NewService(ids *identity.Service, tokens *Tokens, m *metrics.Collectors, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ids: ids, tokens: tokens, metrics: m, logger: logger}
}

// SignUp creates an account, sets its display name when given, and signs it in.
func (s *Service) SignUp(ctx context.Context, creds identity.Credentials, displayName string) (sess Session, err error) {
	defer func() { s.metrics.AuthEvent("signup", err) }()

	user, err := s.ids.Register(ctx, creds)
	if err != nil {
		return Session{}, err
	}
	if displayName != "" {
		if user, err = s.ids.SetDisplayName(ctx, user.ID, displayName); err != nil {
			return Session{}, err
		}
	}
	return s.issue(user)
}

// SignIn verifies credentials and issues a session.
func (s *Service) SignIn(ctx context.Context, creds identity.Credentials) (sess Session, err error) {
	defer func() { s.metrics.AuthEvent("signin", err) }()

	user, err := s.ids.Authenticate(ctx, creds)
	if err != nil {
		return Session{}, err
	}
	return s.issue(user)
}

// SignOut revokes every token issued to userID.
func (s *Service) SignOut(ctx context.Context, userID string) (err error) {
	defer func() { s.metrics.AuthEvent("signout", err) }()
	return s.ids.RevokeTokens(ctx, userID)
}

// Verify resolves a bearer token to its user. Tokens of disabled users and
// tokens issued before the last sign-out do not verify.
func (s *Service) Verify(ctx context.Context, token string) (identity.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		s.logger.Debug("token rejected", slog.Any("error", err))
		return identity.User{}, ErrUnauthenticated
	}
	user, err := s.ids.Get(ctx, claims.Subject)
	if errors.Is(err, identity.ErrUserNotFound) {
		return identity.User{}, ErrUnauthenticated
	}
	if err != nil {
		return identity.User{}, err
	}
	if user.Disabled || user.TokenVersion != claims.Version {
		return identity.User{}, ErrUnauthenticated
	}
	return user, nil
}

// Profile returns the user's public profile.
func (s *Service) Profile(ctx context.Context, userID string) (identity.Profile, error) {
	user, err := s.ids.Get(ctx, userID)
	if err != nil {
		return identity.Profile{}, err
	}
	return user.Profile(), nil
}

// UpdateProfile stores a new display name.
func (s *Service) UpdateProfile(ctx context.Context, userID, displayName string) (identity.Profile, error) {
	user, err := s.ids.SetDisplayName(ctx, userID, displayName)
	if err != nil {
		return identity.Profile{}, err
	}
	return user.Profile(), nil
}

func (s *Service) issue(user identity.User) (Session, error) {
	token, exp, err := s.tokens.Issue(user.ID, user.TokenVersion)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, User: user.Profile()}, nil
}
