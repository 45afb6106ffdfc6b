package livesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trailpack/trailpack/internal/changefeed"
	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/logging"
	"github.com/trailpack/trailpack/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStream struct {
	ch     chan []lists.EquipmentList
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan []lists.EquipmentList, 4), closed: make(chan struct{})}
}

func (f *fakeStream) Snapshots() <-chan []lists.EquipmentList { return f.ch }

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.ch)
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeSource struct {
	mu      sync.Mutex
	calls   []string
	openErr error
	streams chan *fakeStream
}

func newFakeSource() *fakeSource {
	return &fakeSource{streams: make(chan *fakeStream, 8)}
}

func (s *fakeSource) Watch(_ context.Context, owner string) (Stream, error) {
	s.mu.Lock()
	s.calls = append(s.calls, owner)
	err := s.openErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	st := newFakeStream()
	s.streams <- st
	return st, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSource) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case st := <-s.streams:
		return st
	case <-time.After(2 * time.Second):
		t.Fatalf("no stream opened")
		return nil
	}
}

func record(sub *Subscription) <-chan Update {
	ch := make(chan Update, 64)
	sub.Subscribe(func(u Update) { ch <- u })
	return ch
}

func waitFor(t *testing.T, updates <-chan Update, match func(Update) bool) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for update")
			return Update{}
		}
	}
}

func inState(s State) func(Update) bool {
	return func(u Update) bool { return u.State == s }
}

func TestSignInStreamsCurrentSetFromService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := changefeed.NewHub()
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()
	defer func() {
		cancel()
		<-hubDone
	}()

	svc := lists.NewService(lists.NewMemoryRepository(), hub, nil, logging.Discard())
	camping, err := svc.Create(context.Background(), "alice", "Camping", []string{"tent"})
	require.NoError(t, err)

	sub := New(ServiceSource(svc), logging.Discard())
	defer sub.Close()
	updates := record(sub)
	assert.Equal(t, Unsubscribed, sub.State())

	sub.SetIdentity(&session.Identity{ID: "alice"})
	first := <-updates
	assert.Equal(t, Subscribing, first.State)
	assert.Empty(t, first.Lists)

	streaming := waitFor(t, updates, inState(Streaming))
	require.Len(t, streaming.Lists, 1)
	assert.Equal(t, camping.ID, streaming.Lists[0].ID)

	ski, err := svc.Create(context.Background(), "alice", "Ski", []string{"goggles"})
	require.NoError(t, err)
	next := waitFor(t, updates, func(u Update) bool { return len(u.Lists) == 2 })
	assert.Equal(t, Streaming, next.State)

	require.NoError(t, svc.Delete(context.Background(), "alice", camping.ID))
	after := waitFor(t, updates, func(u Update) bool { return len(u.Lists) == 1 })
	assert.Equal(t, ski.ID, after.Lists[0].ID)
}

func TestSignOutClearsStateAndClosesStream(t *testing.T) {
	src := newFakeSource()
	sub := New(src, logging.Discard())
	defer sub.Close()
	updates := record(sub)

	sub.SetIdentity(&session.Identity{ID: "alice"})
	stream := src.next(t)
	stream.ch <- []lists.EquipmentList{{ID: "l1", OwnerID: "alice", Title: "Camping"}}
	waitFor(t, updates, inState(Streaming))

	sub.SetIdentity(nil)
	u := waitFor(t, updates, inState(Unsubscribed))
	assert.Empty(t, u.Lists)
	assert.Empty(t, sub.Lists())
	assert.Eventually(t, stream.isClosed, time.Second, 5*time.Millisecond)
}

func TestLastSnapshotWins(t *testing.T) {
	src := newFakeSource()
	sub := New(src, logging.Discard())
	defer sub.Close()
	updates := record(sub)

	sub.SetIdentity(&session.Identity{ID: "alice"})
	stream := src.next(t)
	stream.ch <- []lists.EquipmentList{{ID: "l1"}, {ID: "l2"}}
	stream.ch <- []lists.EquipmentList{{ID: "l2"}}

	u := waitFor(t, updates, func(u Update) bool { return u.State == Streaming && len(u.Lists) == 1 })
	assert.Equal(t, "l2", u.Lists[0].ID)
	assert.Equal(t, "l2", sub.Lists()[0].ID)
}

func TestStreamErrorIsSurfacedWithoutRetry(t *testing.T) {
	src := newFakeSource()
	sub := New(src, logging.Discard())
	defer sub.Close()
	updates := record(sub)

	sub.SetIdentity(&session.Identity{ID: "alice"})
	stream := src.next(t)
	stream.ch <- []lists.EquipmentList{{ID: "l1"}}
	waitFor(t, updates, inState(Streaming))

	cause := errors.New("connection reset")
	stream.fail(cause)
	failed := waitFor(t, updates, inState(Failed))

	var subErr *SubscriptionError
	require.ErrorAs(t, failed.Err, &subErr)
	assert.True(t, subErr.Retryable())
	assert.ErrorIs(t, failed.Err, cause)
	assert.Equal(t, "alice", subErr.Owner)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, src.callCount())
	assert.Equal(t, Failed, sub.State())

	sub.Resubscribe()
	retry := src.next(t)
	retry.ch <- []lists.EquipmentList{{ID: "l1"}}
	u := waitFor(t, updates, inState(Streaming))
	assert.NoError(t, u.Err)
	assert.Equal(t, 2, src.callCount())
}

func TestStoreClosingStreamIsAnError(t *testing.T) {
	src := newFakeSource()
	sub := New(src, logging.Discard())
	defer sub.Close()
	updates := record(sub)

	sub.SetIdentity(&session.Identity{ID: "alice"})
	src.next(t).fail(nil)

	failed := waitFor(t, updates, inState(Failed))
	assert.ErrorIs(t, failed.Err, ErrStreamClosed)
}

func TestOpenFailure(t *testing.T) {
	src := newFakeSource()
	src.openErr = lists.ErrUnavailable
	sub := New(src, logging.Discard())
	defer sub.Close()
	updates := record(sub)

	sub.SetIdentity(&session.Identity{ID: "alice"})
	failed := waitFor(t, updates, inState(Failed))
	assert.ErrorIs(t, failed.Err, lists.ErrUnavailable)
	assert.ErrorIs(t, sub.Err(), lists.ErrUnavailable)
}

func TestSwitchingIdentityDropsOldStream(t *testing.T) {
	src := newFakeSource()
	sub := New(src, logging.Discard())
	defer sub.Close()
	updates := record(sub)

	sub.SetIdentity(&session.Identity{ID: "alice"})
	aliceStream := src.next(t)
	aliceStream.ch <- []lists.EquipmentList{{ID: "alice-list"}}
	waitFor(t, updates, inState(Streaming))

	sub.SetIdentity(&session.Identity{ID: "bob"})
	bobStream := src.next(t)
	assert.Eventually(t, aliceStream.isClosed, time.Second, 5*time.Millisecond)

	aliceStream.ch <- []lists.EquipmentList{{ID: "stale"}}
	bobStream.ch <- []lists.EquipmentList{{ID: "bob-list"}}
	u := waitFor(t, updates, inState(Streaming))
	require.Len(t, u.Lists, 1)
	assert.Equal(t, "bob-list", u.Lists[0].ID)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "bob-list", sub.Lists()[0].ID)
}

func TestSameIdentityDoesNotReopen(t *testing.T) {
	src := newFakeSource()
	sub := New(src, logging.Discard())
	defer sub.Close()

	sub.SetIdentity(&session.Identity{ID: "alice"})
	src.next(t)
	sub.SetIdentity(&session.Identity{ID: "alice", DisplayName: "Alice"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, src.callCount())
}

type stubProvider struct {
	mu sync.Mutex
	fn func(*session.Identity)
}

func (p *stubProvider) CreateAccount(context.Context, string, string) (session.Identity, error) {
	return session.Identity{}, errors.New("unsupported")
}

func (p *stubProvider) SetDisplayName(context.Context, session.Identity, string) (session.Identity, error) {
	return session.Identity{}, errors.New("unsupported")
}

func (p *stubProvider) Authenticate(_ context.Context, email, _ string) (session.Identity, error) {
	id := session.Identity{ID: "uid-" + email, Email: email}
	p.emit(&id)
	return id, nil
}

func (p *stubProvider) EndSession(context.Context) error {
	p.emit(nil)
	return nil
}

func (p *stubProvider) OnSessionChange(fn func(*session.Identity)) func() {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
	return func() {}
}

func (p *stubProvider) emit(id *session.Identity) {
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	fn(id)
}

func TestFollowSessionStore(t *testing.T) {
	provider := &stubProvider{}
	store := session.NewStore(provider, logging.Discard())
	src := newFakeSource()
	sub := New(src, logging.Discard())
	defer sub.Close()
	updates := record(sub)

	stop := sub.Follow(store)
	defer stop()

	provider.emit(nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, src.callCount())

	_, err := store.SignIn(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	src.next(t).ch <- []lists.EquipmentList{{ID: "l1"}}
	waitFor(t, updates, inState(Streaming))

	require.NoError(t, store.SignOut(context.Background()))
	waitFor(t, updates, inState(Unsubscribed))
}

func TestCloseStopsEverything(t *testing.T) {
	src := newFakeSource()
	sub := New(src, logging.Discard())
	sub.SetIdentity(&session.Identity{ID: "alice"})
	stream := src.next(t)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.True(t, stream.isClosed())
}
