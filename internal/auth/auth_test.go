package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trailpack/trailpack/internal/identity"
	"github.com/trailpack/trailpack/internal/logging"
	"github.com/trailpack/trailpack/internal/metrics"
)

func newTestService(t *testing.T) (*Service, *identity.Service) {
	t.Helper()
	ids := identity.NewService(identity.NewMemoryRepository(), logging.Discard())
	tokens := NewTokens("test-secret", time.Hour, "trailpack")
	return NewService(ids, tokens, metrics.New(), logging.Discard()), ids
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour, "trailpack")
	signed, exp, err := tokens.Issue("user-1", 3)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected expiry in the future, got %v", exp)
	}
	claims, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.Version != 3 {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenRejections(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour, "trailpack")

	other := NewTokens("other-secret", time.Hour, "trailpack")
	forged, _, err := other.Issue("user-1", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	expired := NewTokens("test-secret", time.Hour, "trailpack")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := expired.Issue("user-1", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "trailpack"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	noSubject, _, err := tokens.Issue("", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for name, token := range map[string]string{
		"garbage":    "not.a.token",
		"wrong key":  forged,
		"expired":    stale,
		"alg none":   none,
		"no subject": noSubject,
	} {
		if _, err := tokens.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestSignUpSignInVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.SignUp(ctx, identity.Credentials{Email: "alice@example.com", Password: "secret1"}, "Alice")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if sess.User.DisplayName != "Alice" || sess.Token == "" {
		t.Fatalf("unexpected session %+v", sess)
	}

	user, err := svc.Verify(ctx, sess.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user.ID != sess.User.UID {
		t.Fatalf("expected %s, got %s", sess.User.UID, user.ID)
	}

	if _, err := svc.SignIn(ctx, identity.Credentials{Email: "alice@example.com", Password: "nope-nope"}); !errors.Is(err, identity.ErrWrongPassword) {
		t.Fatalf("expected wrong password, got %v", err)
	}
	again, err := svc.SignIn(ctx, identity.Credentials{Email: "alice@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	if again.User != sess.User {
		t.Fatalf("expected same profile, got %+v", again.User)
	}
}

func TestSignOutRevokesIssuedTokens(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.SignUp(ctx, identity.Credentials{Email: "alice@example.com", Password: "secret1"}, "")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := svc.SignOut(ctx, sess.User.UID); err != nil {
		t.Fatalf("signout: %v", err)
	}
	if _, err := svc.Verify(ctx, sess.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}

	fresh, err := svc.SignIn(ctx, identity.Credentials{Email: "alice@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	if _, err := svc.Verify(ctx, fresh.Token); err != nil {
		t.Fatalf("fresh token should verify: %v", err)
	}
}

func TestDisabledUserTokenFails(t *testing.T) {
	svc, ids := newTestService(t)
	ctx := context.Background()

	sess, err := svc.SignUp(ctx, identity.Credentials{Email: "alice@example.com", Password: "secret1"}, "")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := ids.Disable(ctx, sess.User.UID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := svc.Verify(ctx, sess.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := svc.SignIn(ctx, identity.Credentials{Email: "alice@example.com", Password: "secret1"}); !errors.Is(err, identity.ErrUserDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}
