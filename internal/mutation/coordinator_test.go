package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpack/trailpack/internal/changefeed"
	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/livesync"
	"github.com/trailpack/trailpack/internal/logging"
	"github.com/trailpack/trailpack/internal/session"
)

// gatedWriter delegates to a real scoped writer but can hold every call until
// released, and counts how many calls reach it.
type gatedWriter struct {
	lists.Scoped
	gate     chan struct{}
	entered  chan string
	calls    atomic.Int32
	failWith error
}

func newGatedWriter(w lists.Scoped) *gatedWriter {
	return &gatedWriter{Scoped: w, entered: make(chan string, 16)}
}

func (g *gatedWriter) hold(ctx context.Context, op string) error {
	g.calls.Add(1)
	g.entered <- op
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.failWith
}

func (g *gatedWriter) Create(ctx context.Context, title string, items []string) (lists.EquipmentList, error) {
	if err := g.hold(ctx, "create"); err != nil {
		return lists.EquipmentList{}, err
	}
	return g.Scoped.Create(ctx, title, items)
}

func (g *gatedWriter) Rename(ctx context.Context, id, title string) (lists.EquipmentList, error) {
	if err := g.hold(ctx, "rename"); err != nil {
		return lists.EquipmentList{}, err
	}
	return g.Scoped.Rename(ctx, id, title)
}

func (g *gatedWriter) SetItemChecked(ctx context.Context, id string, index int, checked bool) (lists.EquipmentList, error) {
	if err := g.hold(ctx, "check"); err != nil {
		return lists.EquipmentList{}, err
	}
	return g.Scoped.SetItemChecked(ctx, id, index, checked)
}

func newScoped(owner string) (*lists.Service, lists.Scoped) {
	svc := lists.NewService(lists.NewMemoryRepository(), nil, nil, logging.Discard())
	return svc, svc.For(owner)
}

func titles(ls []lists.EquipmentList) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Title)
	}
	return out
}

func TestValidationFailsBeforeAnyWrite(t *testing.T) {
	_, scoped := newScoped("alice")
	w := newGatedWriter(scoped)
	c := New(w)
	ctx := context.Background()

	_, err := c.Create(ctx, "   ", []string{"tent"})
	assert.True(t, IsKind(err, KindValidationFailed))

	_, err = c.Create(ctx, "Camping", []string{" ", ""})
	assert.True(t, IsKind(err, KindValidationFailed))

	_, err = c.Rename(ctx, "list-1", "")
	assert.True(t, IsKind(err, KindValidationFailed))

	_, err = c.AppendItem(ctx, "list-1", "  ")
	assert.True(t, IsKind(err, KindValidationFailed))

	_, err = c.ReplaceItems(ctx, "list-1", []lists.EquipmentItem{{Name: ""}}, 1)
	assert.True(t, IsKind(err, KindValidationFailed))

	assert.Equal(t, int32(0), w.calls.Load())
	assert.Equal(t, 0, c.Pending())
	assert.Empty(t, c.Lists())
}

func TestCreateShowsPendingListUntilSnapshotArrives(t *testing.T) {
	_, scoped := newScoped("alice")
	w := newGatedWriter(scoped)
	w.gate = make(chan struct{})
	c := New(w)

	type result struct {
		list lists.EquipmentList
		err  error
	}
	done := make(chan result, 1)
	go func() {
		l, err := c.Create(context.Background(), " Camping ", []string{"tent", "stove"})
		done <- result{l, err}
	}()
	<-w.entered

	pending := c.Lists()
	require.Len(t, pending, 1)
	assert.Equal(t, "Camping", pending[0].Title)
	assert.Equal(t, "pending-1", pending[0].ID)
	assert.True(t, c.Submitting("pending-1"))

	close(w.gate)
	res := <-done
	require.NoError(t, res.err)
	assert.False(t, c.Submitting("pending-1"))
	assert.Equal(t, []lists.EquipmentItem{{Name: "tent"}, {Name: "stove"}}, res.list.Items)

	// Acknowledged but not yet seen in a snapshot: still shown, under the real id.
	require.Equal(t, 1, c.Pending())
	view := c.Lists()
	require.Len(t, view, 1)
	assert.Equal(t, res.list.ID, view[0].ID)

	c.Reconcile([]lists.EquipmentList{res.list})
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, []lists.EquipmentList{res.list}, c.Lists())
}

func TestFailedWriteDropsOverlay(t *testing.T) {
	svc, scoped := newScoped("alice")
	list, err := svc.Create(context.Background(), "alice", "Camping", []string{"tent"})
	require.NoError(t, err)

	w := newGatedWriter(scoped)
	w.failWith = fmt.Errorf("%w: dial tcp: connection refused", lists.ErrUnavailable)
	c := New(w)
	c.Reconcile([]lists.EquipmentList{list})

	_, err = c.Rename(context.Background(), list.ID, "Beach")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetworkFailure))
	assert.ErrorIs(t, err, lists.ErrUnavailable)

	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, []string{"Camping"}, titles(c.Lists()))
}

func TestOverlayOutlivesStaleSnapshot(t *testing.T) {
	svc, scoped := newScoped("alice")
	list, err := svc.Create(context.Background(), "alice", "Camping", []string{"tent", "stove"})
	require.NoError(t, err)

	c := New(newGatedWriter(scoped))
	c.Reconcile([]lists.EquipmentList{list})

	updated, err := c.SetItemChecked(context.Background(), list.ID, 1, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// A snapshot taken before the write must not undo it locally.
	c.Reconcile([]lists.EquipmentList{list})
	require.Equal(t, 1, c.Pending())
	assert.True(t, c.Lists()[0].Items[1].Checked)

	c.Reconcile([]lists.EquipmentList{updated})
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, "1/2", c.Lists()[0].Completion())
}

func TestDeleteHidesListAndRetiresWhenGone(t *testing.T) {
	svc, scoped := newScoped("alice")
	ctx := context.Background()
	camping, err := svc.Create(ctx, "alice", "Camping", []string{"tent"})
	require.NoError(t, err)
	beach, err := svc.Create(ctx, "alice", "Beach", []string{"towel"})
	require.NoError(t, err)

	c := New(scoped)
	c.Reconcile([]lists.EquipmentList{camping, beach})

	require.NoError(t, c.Delete(ctx, camping.ID))
	assert.Equal(t, []string{"Beach"}, titles(c.Lists()))
	assert.Equal(t, 1, c.Pending())

	c.Reconcile([]lists.EquipmentList{beach})
	assert.Equal(t, 0, c.Pending())
}

func TestToggleFlipsShownState(t *testing.T) {
	svc, scoped := newScoped("alice")
	ctx := context.Background()
	list, err := svc.Create(ctx, "alice", "Camping", []string{"tent"})
	require.NoError(t, err)

	c := New(scoped)
	c.Reconcile([]lists.EquipmentList{list})

	got, err := c.ToggleItem(ctx, list.ID, 0)
	require.NoError(t, err)
	assert.True(t, got.Items[0].Checked)

	got, err = c.ToggleItem(ctx, list.ID, 0)
	require.NoError(t, err)
	assert.False(t, got.Items[0].Checked)

	_, err = c.ToggleItem(ctx, list.ID, 3)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestWritesToOneListAreSerialised(t *testing.T) {
	svc, _ := newScoped("alice")
	ctx := context.Background()
	list, err := svc.Create(ctx, "alice", "Camping", []string{"tent"})
	require.NoError(t, err)

	w := &concurrencyWriter{Scoped: svc.For("alice")}
	c := New(w)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.AppendItem(ctx, list.ID, fmt.Sprintf("item-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), w.peak.Load())
	stored, err := svc.Get(ctx, "alice", list.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 9)
}

type concurrencyWriter struct {
	lists.Scoped
	active atomic.Int32
	peak   atomic.Int32
}

func (w *concurrencyWriter) AppendItem(ctx context.Context, id, name string) (lists.EquipmentList, error) {
	n := w.active.Add(1)
	defer w.active.Add(-1)
	for {
		p := w.peak.Load()
		if n <= p || w.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return w.Scoped.AppendItem(ctx, id, name)
}

func TestTimeoutIsNetworkFailure(t *testing.T) {
	_, scoped := newScoped("alice")
	w := newGatedWriter(scoped)
	w.gate = make(chan struct{})
	c := New(w, WithTimeout(20*time.Millisecond))

	_, err := c.Create(context.Background(), "Camping", []string{"tent"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetworkFailure))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Pending())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("%w: title", lists.ErrValidation), KindValidationFailed},
		{lists.ErrNotFound, KindNotFound},
		{lists.ErrPermissionDenied, KindPermissionDenied},
		{lists.ErrVersionConflict, KindConflict},
		{lists.ErrUnavailable, KindNetworkFailure},
		{context.DeadlineExceeded, KindNetworkFailure},
		{errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.want.String(), func(t *testing.T) {
			me := classify("rename", "l1", tc.err)
			assert.Equal(t, tc.want, me.Kind)
			assert.ErrorIs(t, me, tc.err)
			assert.Contains(t, me.Error(), "rename l1")
		})
	}
}

func TestPermissionDeniedForForeignList(t *testing.T) {
	svc, _ := newScoped("alice")
	ctx := context.Background()
	list, err := svc.Create(ctx, "alice", "Camping", []string{"tent"})
	require.NoError(t, err)

	c := New(svc.For("mallory"))
	_, err = c.Rename(ctx, list.ID, "Mine now")
	assert.True(t, IsKind(err, KindPermissionDenied))
}

func TestAttachReconcilesFromLiveSubscription(t *testing.T) {
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
	sub := livesync.New(livesync.ServiceSource(svc), logging.Discard())
	defer sub.Close()

	c := New(svc.For("alice"))
	detach := c.Attach(sub)
	defer detach()

	sub.SetIdentity(&session.Identity{ID: "alice"})
	require.Eventually(t, func() bool { return sub.State() == livesync.Streaming }, time.Second, 5*time.Millisecond)

	created, err := c.Create(ctx, "Camping", []string{"tent"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Pending() == 0 }, time.Second, 5*time.Millisecond)
	view := c.Lists()
	require.Len(t, view, 1)
	assert.Equal(t, created.ID, view[0].ID)

	sub.SetIdentity(nil)
	require.Eventually(t, func() bool { return len(c.Lists()) == 0 }, time.Second, 5*time.Millisecond)
}

// echoWriter installs the store's snapshot into the coordinator before the
// write returns, the way a fast live stream can beat the acknowledgment.
type echoWriter struct {
	lists.Scoped
	svc   *lists.Service
	coord *Coordinator
}

func (w *echoWriter) AppendItem(ctx context.Context, id, name string) (lists.EquipmentList, error) {
	updated, err := w.Scoped.AppendItem(ctx, id, name)
	if err != nil {
		return updated, err
	}
	all, err := w.svc.ListByOwner(ctx, w.Owner())
	if err != nil {
		return lists.EquipmentList{}, err
	}
	w.coord.Reconcile(all)
	// Seen after the snapshot but before the acknowledgment.
	view := w.coord.Lists()
	if len(view) != 1 || len(view[0].Items) != len(updated.Items) {
		return lists.EquipmentList{}, fmt.Errorf("view before ack has %v", view)
	}
	return updated, nil
}

func (w *echoWriter) Create(ctx context.Context, title string, items []string) (lists.EquipmentList, error) {
	created, err := w.Scoped.Create(ctx, title, items)
	if err != nil {
		return created, err
	}
	all, err := w.svc.ListByOwner(ctx, w.Owner())
	if err != nil {
		return lists.EquipmentList{}, err
	}
	w.coord.Reconcile(all)
	if view := w.coord.Lists(); len(view) != len(all) {
		return lists.EquipmentList{}, fmt.Errorf("view before ack has %d lists, store has %d", len(view), len(all))
	}
	return created, nil
}

func TestSnapshotBeforeAckDoesNotDuplicateCreate(t *testing.T) {
	svc, scoped := newScoped("alice")
	w := &echoWriter{Scoped: scoped, svc: svc}
	c := New(w)
	w.coord = c
	c.Reconcile(nil)

	created, err := c.Create(context.Background(), "Camping", []string{"tent"})
	require.NoError(t, err)

	view := c.Lists()
	require.Len(t, view, 1)
	assert.Equal(t, created.ID, view[0].ID)
	assert.Equal(t, 0, c.Pending())
}

func TestSnapshotBeforeAckDoesNotDuplicateAppend(t *testing.T) {
	svc, scoped := newScoped("alice")
	ctx := context.Background()
	list, err := svc.Create(ctx, "alice", "Camping", []string{"Tent"})
	require.NoError(t, err)

	w := &echoWriter{Scoped: scoped, svc: svc}
	c := New(w)
	w.coord = c
	c.Reconcile([]lists.EquipmentList{list})

	_, err = c.AppendItem(ctx, list.ID, "Stove")
	require.NoError(t, err)

	view := c.Lists()
	require.Len(t, view, 1)
	names := make([]string, 0, len(view[0].Items))
	for _, item := range view[0].Items {
		names = append(names, item.Name)
	}
	assert.Equal(t, []string{"Tent", "Stove"}, names)
	assert.Equal(t, 0, c.Pending())
}

func TestConcurrentTogglesSeeEachOther(t *testing.T) {
	svc, scoped := newScoped("alice")
	ctx := context.Background()
	list, err := svc.Create(ctx, "alice", "Camping", []string{"tent"})
	require.NoError(t, err)

	c := New(scoped)
	c.Reconcile([]lists.EquipmentList{list})

	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.ToggleItem(ctx, list.ID, 0)
			if assert.NoError(t, err) {
				results <- got.Items[0].Checked
			}
		}()
	}
	wg.Wait()
	close(results)

	var seen []bool
	for r := range results {
		seen = append(seen, r)
	}
	assert.ElementsMatch(t, []bool{true, false}, seen)

	stored, err := svc.Get(ctx, "alice", list.ID)
	require.NoError(t, err)
	assert.False(t, stored.Items[0].Checked)
}
