// Package mutation turns user intents into list writes, serialising writes to
// the same list and showing their effect locally before the store confirms.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/livesync"
)

// Writer performs list writes on behalf of one signed-in owner.
type Writer interface {
	Create(ctx context.Context, title string, items []string) (lists.EquipmentList, error)
	Rename(ctx context.Context, id, title string) (lists.EquipmentList, error)
	AppendItem(ctx context.Context, id, name string) (lists.EquipmentList, error)
	SetItemChecked(ctx context.Context, id string, index int, checked bool) (lists.EquipmentList, error)
	ReplaceItems(ctx context.Context, id string, items []lists.EquipmentItem, expectVersion int64) (lists.EquipmentList, error)
	Delete(ctx context.Context, id string) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds every write. Zero leaves writes bounded only by the
// caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// Coordinator applies writes through a Writer and keeps pending overlays on
// top of the latest snapshot until a snapshot reflecting each write arrives.
type Coordinator struct {
	writer  Writer
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	base      []lists.EquipmentList
	overlays  []*overlay
	inflight  map[string]int
	locks     map[string]*listLock
	nextID    uint64
	listeners map[int]func([]lists.EquipmentList)
	nextSub   int
}

type listLock struct {
	mu   sync.Mutex
	refs int
}

// New builds a coordinator over writer.
func New(writer Writer, opts ...Option) *Coordinator {
	c := &Coordinator{
		writer:    writer,
		logger:    slog.Default(),
		inflight:  make(map[string]int),
		locks:     make(map[string]*listLock),
		listeners: make(map[int]func([]lists.EquipmentList)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach feeds a live subscription's snapshots into Reconcile. Signing out
// drops every overlay.
func (c *Coordinator) Attach(sub *livesync.Subscription) func() {
	return sub.Subscribe(func(u livesync.Update) {
		switch u.State {
		case livesync.Streaming:
			c.Reconcile(u.Lists)
		case livesync.Unsubscribed:
			c.Reset()
		}
	})
}

// Reconcile installs an authoritative snapshot and retires the overlays it
// already reflects.
func (c *Coordinator) Reconcile(snapshot []lists.EquipmentList) {
	c.mu.Lock()
	c.base = lists.CloneAll(snapshot)
	c.retireLocked()
	c.mu.Unlock()
	c.notify()
}

// Reset forgets the snapshot and every overlay.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.base = nil
	c.overlays = nil
	c.mu.Unlock()
	c.notify()
}

// Lists returns the latest snapshot with pending overlays applied, in order.
func (c *Coordinator) Lists() []lists.EquipmentList {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Submitting reports whether a write for listID is in flight.
func (c *Coordinator) Submitting(listID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[listID] > 0
}

// Pending returns the number of unretired overlays.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.overlays)
}

// Subscribe registers fn for every change to Lists.
func (c *Coordinator) Subscribe(fn func([]lists.EquipmentList)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Create validates and creates a list. The new list shows up in Lists under a
// temporary id until the store assigns one.
func (c *Coordinator) Create(ctx context.Context, title string, items []string) (lists.EquipmentList, error) {
	const op = "create"
	cleanTitle, err := lists.NormalizeTitle(title)
	if err != nil {
		return lists.EquipmentList{}, classify(op, "", err)
	}
	cleanItems, err := lists.NormalizeItems(items)
	if err != nil {
		return lists.EquipmentList{}, classify(op, "", err)
	}

	ov := c.push(func(id uint64) *overlay {
		tempID := fmt.Sprintf("pending-%d", id)
		return &overlay{listID: tempID, kind: opCreate, list: lists.EquipmentList{
			ID:        tempID,
			Title:     cleanTitle,
			Items:     cleanItems,
			CreatedAt: time.Now().UTC(),
		}}
	})
	defer c.done(ov.listID)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	names := make([]string, len(cleanItems))
	for i, item := range cleanItems {
		names[i] = item.Name
	}
	created, err := c.writer.Create(ctx, cleanTitle, names)
	if err != nil {
		c.drop(ov)
		return lists.EquipmentList{}, classify(op, "", err)
	}
	c.ack(ov, created.ID, created.Version, &created)
	return created, nil
}

// Rename replaces a list's title.
func (c *Coordinator) Rename(ctx context.Context, listID, title string) (lists.EquipmentList, error) {
	const op = "rename"
	clean, err := lists.NormalizeTitle(title)
	if err != nil {
		return lists.EquipmentList{}, classify(op, listID, err)
	}
	return c.update(ctx, op, listID, &overlay{kind: opRename, title: clean}, func(ctx context.Context) (lists.EquipmentList, error) {
		return c.writer.Rename(ctx, listID, clean)
	})
}

// AppendItem adds an unchecked item.
func (c *Coordinator) AppendItem(ctx context.Context, listID, name string) (lists.EquipmentList, error) {
	const op = "append item"
	clean, err := lists.NormalizeItemName(name)
	if err != nil {
		return lists.EquipmentList{}, classify(op, listID, err)
	}
	return c.update(ctx, op, listID, &overlay{kind: opAppend, item: lists.EquipmentItem{Name: clean}}, func(ctx context.Context) (lists.EquipmentList, error) {
		return c.writer.AppendItem(ctx, listID, clean)
	})
}

// SetItemChecked sets the checked flag of the item at index.
func (c *Coordinator) SetItemChecked(ctx context.Context, listID string, index int, checked bool) (lists.EquipmentList, error) {
	const op = "set item checked"
	return c.update(ctx, op, listID, &overlay{kind: opCheck, index: index, checked: checked}, func(ctx context.Context) (lists.EquipmentList, error) {
		return c.writer.SetItemChecked(ctx, listID, index, checked)
	})
}

// ToggleItem flips the item's checked flag as currently shown in Lists. The
// shown state is read under the list's lock so concurrent toggles each see the
// one before.
func (c *Coordinator) ToggleItem(ctx context.Context, listID string, index int) (lists.EquipmentList, error) {
	const op = "toggle item"
	if listID == "" {
		return lists.EquipmentList{}, classify(op, listID, fmt.Errorf("%w: list id is required", lists.ErrValidation))
	}
	lock := c.lock(listID)
	defer c.unlock(listID, lock)

	checked, ok := c.shownChecked(listID, index)
	if !ok {
		return lists.EquipmentList{}, classify(op, listID, fmt.Errorf("%w: item %d", lists.ErrNotFound, index))
	}
	return c.write(ctx, op, listID, &overlay{kind: opCheck, index: index, checked: !checked}, func(ctx context.Context) (lists.EquipmentList, error) {
		return c.writer.SetItemChecked(ctx, listID, index, !checked)
	})
}

func (c *Coordinator) shownChecked(listID string, index int) (checked, ok bool) {
	for _, l := range c.Lists() {
		if l.ID != listID {
			continue
		}
		if index < 0 || index >= len(l.Items) {
			return false, false
		}
		return l.Items[index].Checked, true
	}
	return false, false
}

// ReplaceItems swaps the whole item sequence, failing with KindConflict if the
// list moved past expectVersion.
func (c *Coordinator) ReplaceItems(ctx context.Context, listID string, items []lists.EquipmentItem, expectVersion int64) (lists.EquipmentList, error) {
	const op = "replace items"
	clean := make([]lists.EquipmentItem, 0, len(items))
	for _, item := range items {
		name, err := lists.NormalizeItemName(item.Name)
		if err != nil {
			return lists.EquipmentList{}, classify(op, listID, err)
		}
		clean = append(clean, lists.EquipmentItem{Name: name, Checked: item.Checked})
	}
	return c.update(ctx, op, listID, &overlay{kind: opReplace, items: clean}, func(ctx context.Context) (lists.EquipmentList, error) {
		return c.writer.ReplaceItems(ctx, listID, clean, expectVersion)
	})
}

// Delete removes a list. Confirmation is the caller's concern.
func (c *Coordinator) Delete(ctx context.Context, listID string) error {
	const op = "delete"
	_, err := c.update(ctx, op, listID, &overlay{kind: opDelete}, func(ctx context.Context) (lists.EquipmentList, error) {
		return lists.EquipmentList{}, c.writer.Delete(ctx, listID)
	})
	return err
}

func (c *Coordinator) update(ctx context.Context, op, listID string, tmpl *overlay, write func(context.Context) (lists.EquipmentList, error)) (lists.EquipmentList, error) {
	if listID == "" {
		return lists.EquipmentList{}, classify(op, listID, fmt.Errorf("%w: list id is required", lists.ErrValidation))
	}

	lock := c.lock(listID)
	defer c.unlock(listID, lock)
	return c.write(ctx, op, listID, tmpl, write)
}

// write runs one write with its overlay. The caller holds the list's lock.
func (c *Coordinator) write(ctx context.Context, op, listID string, tmpl *overlay, do func(context.Context) (lists.EquipmentList, error)) (lists.EquipmentList, error) {
	tmpl.listID = listID
	ov := c.push(func(uint64) *overlay { return tmpl })
	defer c.done(listID)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	result, err := do(ctx)
	if err != nil {
		c.drop(ov)
		c.logger.Debug("list write failed", slog.String("op", op), slog.String("list_id", listID), slog.Any("error", err))
		return lists.EquipmentList{}, classify(op, listID, err)
	}
	c.ack(ov, listID, result.Version, nil)
	return result, nil
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Coordinator) lock(listID string) *listLock {
	c.mu.Lock()
	l := c.locks[listID]
	if l == nil {
		l = &listLock{}
		c.locks[listID] = l
	}
	l.refs++
	c.mu.Unlock()
	l.mu.Lock()
	return l
}

func (c *Coordinator) unlock(listID string, l *listLock) {
	l.mu.Unlock()
	c.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, listID)
	}
	c.mu.Unlock()
}

// push records a new pending overlay and marks its list in flight.
func (c *Coordinator) push(build func(id uint64) *overlay) *overlay {
	c.mu.Lock()
	c.nextID++
	ov := build(c.nextID)
	ov.seq = c.nextID
	if ov.kind == opCreate {
		ov.knownIDs = make(map[string]struct{}, len(c.base))
	}
	for _, l := range c.base {
		if ov.knownIDs != nil {
			ov.knownIDs[l.ID] = struct{}{}
		}
		if l.ID == ov.listID {
			ov.baseVersion = l.Version
		}
	}
	c.overlays = append(c.overlays, ov)
	c.inflight[ov.listID]++
	c.mu.Unlock()
	c.notify()
	return ov
}

func (c *Coordinator) done(listID string) {
	c.mu.Lock()
	if c.inflight[listID] <= 1 {
		delete(c.inflight, listID)
	} else {
		c.inflight[listID]--
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) drop(ov *overlay) {
	c.mu.Lock()
	for i, o := range c.overlays {
		if o == ov {
			c.overlays = append(c.overlays[:i], c.overlays[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// ack marks an overlay confirmed at version. For creates the temporary id is
// swapped for the store's id.
func (c *Coordinator) ack(ov *overlay, listID string, version int64, created *lists.EquipmentList) {
	c.mu.Lock()
	if created != nil {
		ov.list = created.Clone()
	}
	ov.listID = listID
	ov.acked = true
	ov.version = version
	c.retireLocked()
	c.mu.Unlock()
}

func (c *Coordinator) retireLocked() {
	index := make(map[string]lists.EquipmentList, len(c.base))
	for _, l := range c.base {
		index[l.ID] = l
	}
	kept := c.overlays[:0]
	for _, ov := range c.overlays {
		if !ov.acked || !ov.reflectedIn(index) {
			kept = append(kept, ov)
		}
	}
	for i := len(kept); i < len(c.overlays); i++ {
		c.overlays[i] = nil
	}
	c.overlays = kept
}

func (c *Coordinator) viewLocked() []lists.EquipmentList {
	view := lists.CloneAll(c.base)
	if view == nil {
		view = []lists.EquipmentList{}
	}
	for _, ov := range c.overlays {
		if ov.maybeInSnapshot(c.base) {
			// wait for the ack to tell whether the snapshot holds it
			continue
		}
		view = ov.apply(view)
	}
	return view
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	if len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	view := c.viewLocked()
	fns := make([]func([]lists.EquipmentList), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(lists.CloneAll(view))
	}
}
