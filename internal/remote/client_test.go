package remote

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpack/trailpack/internal/changefeed"
	"github.com/trailpack/trailpack/internal/config"
	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/livesync"
	"github.com/trailpack/trailpack/internal/logging"
	"github.com/trailpack/trailpack/internal/mutation"
	"github.com/trailpack/trailpack/internal/routes"
	"github.com/trailpack/trailpack/internal/server"
	"github.com/trailpack/trailpack/internal/session"
)

// startServer runs the full API on a loopback port until the test ends.
func startServer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := changefeed.NewHub()
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	srv, err := server.New(routes.Deps{
		Cfg: config.Config{
			AppName:       "trailpack-test",
			AppEnv:        "test",
			StoreDriver:   config.DriverMemory,
			JWTSecret:     "test-secret",
			TokenTTL:      time.Hour,
			LoginAttempts: 100,
		},
		Feed:   hub,
		Logger: logging.Discard(),
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan struct{})
	go func() {
		_ = srv.App().Listener(ln)
		close(served)
	}()

	t.Cleanup(func() {
		cancel()
		<-hubDone
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
		<-served
	})
	base := "http://" + ln.Addr().String()
	// Shutdown is a no-op until the listener is serving, so wait for it.
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return base
}

func newClient(t *testing.T, base string, tokens TokenStore) *Client {
	t.Helper()
	if tokens == nil {
		tokens = &MemoryTokens{}
	}
	c, err := New(base, WithTokenStore(tokens), WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSessionStoreOverHTTP(t *testing.T) {
	base := startServer(t)
	tokens := &MemoryTokens{}
	client := newClient(t, base, tokens)
	ctx := context.Background()

	store := session.NewStore(client, logging.Discard())
	defer store.Close()
	_, err := store.Wait(ctx)
	require.NoError(t, err)
	assert.Nil(t, store.Current().Identity)

	id, err := store.SignUp(ctx, "alice@example.com", "secret1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", id.DisplayName)
	require.NotNil(t, store.Current().Identity)
	assert.Equal(t, id.ID, store.Current().Identity.ID)

	saved, err := tokens.Load()
	require.NoError(t, err)
	assert.NotEmpty(t, saved.Token)
	assert.Equal(t, base, saved.Server)

	// A second client with the same credentials resolves the session from the token.
	restored := newClient(t, base, tokens)
	other := session.NewStore(restored, logging.Discard())
	defer other.Close()
	_, err = other.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, other.Current().Identity)
	assert.Equal(t, "Alice", other.Current().Identity.DisplayName)

	require.NoError(t, store.SignOut(ctx))
	assert.Nil(t, store.Current().Identity)
	cleared, err := tokens.Load()
	require.NoError(t, err)
	assert.Empty(t, cleared.Token)

	// Sign-out revoked the server side too: the old token no longer resolves.
	stale := &MemoryTokens{}
	require.NoError(t, stale.Save(saved))
	third := session.NewStore(newClient(t, base, stale), logging.Discard())
	defer third.Close()
	_, err = third.Wait(ctx)
	require.NoError(t, err)
	assert.Nil(t, third.Current().Identity)
}

func TestAuthErrorsAreClassified(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	store := session.NewStore(newClient(t, base, nil), logging.Discard())
	defer store.Close()
	_, err := store.Wait(ctx)
	require.NoError(t, err)

	_, err = store.SignUp(ctx, "alice@example.com", "secret1", "")
	require.NoError(t, err)
	require.NoError(t, store.SignOut(ctx))

	_, err = store.SignUp(ctx, "alice@example.com", "secret1", "")
	assert.True(t, session.IsKind(err, session.KindEmailInUse), "got %v", err)

	_, err = store.SignUp(ctx, "bob@example.com", "123", "")
	assert.True(t, session.IsKind(err, session.KindWeakPassword), "got %v", err)

	_, err = store.SignIn(ctx, "alice@example.com", "not-it")
	assert.True(t, session.IsKind(err, session.KindWrongCredential), "got %v", err)

	_, err = store.SignIn(ctx, "carol@example.com", "secret1")
	assert.True(t, session.IsKind(err, session.KindNotFound), "got %v", err)

	_, err = store.SignIn(ctx, "not-an-email", "secret1")
	assert.True(t, session.IsKind(err, session.KindInvalidEmail), "got %v", err)
}

func TestNetworkFailures(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	client := newClient(t, base, nil)
	ctx := context.Background()

	_, err = client.Authenticate(ctx, "alice@example.com", "secret1")
	assert.True(t, session.IsKind(session.Classify(err, "sign in failed"), session.KindNetworkFailure), "got %v", err)

	// Pretend to be signed in so list calls reach the transport.
	client.creds = Credentials{Token: "t", Identity: &session.Identity{ID: "alice"}}

	_, err = mutation.New(client).Rename(ctx, "list-1", "Beach")
	assert.True(t, mutation.IsKind(err, mutation.KindNetworkFailure), "got %v", err)

	_, err = client.Watch(ctx, "alice")
	assert.ErrorIs(t, err, lists.ErrUnavailable)
	assert.NotErrorIs(t, err, context.Canceled)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = client.Watch(cancelled, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, lists.ErrUnavailable)
}

func TestListsSyncOverHTTP(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	client := newClient(t, base, nil)

	store := session.NewStore(client, logging.Discard())
	defer store.Close()
	_, err := store.Wait(ctx)
	require.NoError(t, err)

	sub := livesync.New(client, logging.Discard())
	defer sub.Close()
	unfollow := sub.Follow(store)
	defer unfollow()

	coord := mutation.New(client, mutation.WithTimeout(5*time.Second))
	detach := coord.Attach(sub)
	defer detach()

	_, err = store.SignUp(ctx, "alice@example.com", "secret1", "Alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sub.State() == livesync.Streaming }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, sub.Lists())

	created, err := coord.Create(ctx, "Camping", []string{"tent", " ", "stove"})
	require.NoError(t, err)
	assert.Len(t, created.Items, 2)

	require.Eventually(t, func() bool {
		ls := sub.Lists()
		return len(ls) == 1 && ls[0].ID == created.ID
	}, 5*time.Second, 10*time.Millisecond)

	_, err = coord.AppendItem(ctx, created.ID, "lantern")
	require.NoError(t, err)
	_, err = coord.SetItemChecked(ctx, created.ID, 0, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ls := sub.Lists()
		return len(ls) == 1 && ls[0].Completion() == "1/3"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return coord.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)

	_, err = coord.SetItemChecked(ctx, created.ID, 9, true)
	assert.True(t, mutation.IsKind(err, mutation.KindNotFound), "got %v", err)

	_, err = coord.ReplaceItems(ctx, created.ID, []lists.EquipmentItem{{Name: "tarp"}}, created.Version)
	assert.True(t, mutation.IsKind(err, mutation.KindConflict), "got %v", err)

	fetched, err := client.Lists(ctx)
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, "Camping", fetched[0].Title)

	require.NoError(t, coord.Delete(ctx, created.ID))
	require.Eventually(t, func() bool { return len(sub.Lists()) == 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, store.SignOut(ctx))
	require.Eventually(t, func() bool { return sub.State() == livesync.Unsubscribed }, 5*time.Second, 10*time.Millisecond)
}

func TestForeignListIsPermissionDenied(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()

	alice := newClient(t, base, nil)
	_, err := alice.CreateAccount(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	list, err := alice.Create(ctx, "Camping", []string{"tent"})
	require.NoError(t, err)

	mallory := newClient(t, base, nil)
	_, err = mallory.CreateAccount(ctx, "mallory@example.com", "secret1")
	require.NoError(t, err)

	_, err = mutation.New(mallory).Rename(ctx, list.ID, "Mine")
	assert.True(t, mutation.IsKind(err, mutation.KindPermissionDenied), "got %v", err)

	_, err = mallory.Watch(ctx, alice.Identity().ID)
	assert.ErrorIs(t, err, lists.ErrPermissionDenied)

	profile, err := mallory.Profile(ctx, alice.Identity().ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", profile.Email)

	ideas, err := mallory.Inspiration(ctx, "beach")
	require.NoError(t, err)
	require.Len(t, ideas, 1)
}
