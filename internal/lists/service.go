package lists

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trailpack/trailpack/internal/changefeed"
	"github.com/trailpack/trailpack/internal/metrics"
)

// Service applies owner-scoped list operations and announces every write on
// the change feed under the owner's topic.
type Service struct {
	repo    Repository
	feed    changefeed.Feed
	metrics *metrics.Collectors
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewService builds a list service. feed and m may be nil.
func NewService(repo Repository, feed changefeed.Feed, m *metrics.Collectors, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		feed:    feed,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// Create stores a new list for owner. Titles and item names are trimmed, blank
// items are dropped and every item starts unchecked.
func (s *Service) Create(ctx context.Context, owner, title string, items []string) (list EquipmentList, err error) {
	defer func() { s.metrics.ListWrite("create", err) }()

	owner = strings.TrimSpace(owner)
	if owner == "" {
		return EquipmentList{}, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	title, err = NormalizeTitle(title)
	if err != nil {
		return EquipmentList{}, err
	}
	normalized, err := NormalizeItems(items)
	if err != nil {
		return EquipmentList{}, err
	}

	now := s.now()
	list = EquipmentList{
		ID:        s.newID(),
		OwnerID:   owner,
		Title:     title,
		Items:     normalized,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, list); err != nil {
		return EquipmentList{}, storeErr(err)
	}
	s.publish(ctx, owner)
	return list, nil
}

// Get returns a list the actor owns.
func (s *Service) Get(ctx context.Context, actor, id string) (EquipmentList, error) {
	return s.authorize(ctx, actor, id)
}

// ListByOwner returns the owner's lists, oldest first.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]EquipmentList, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	out, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// Rename replaces the list title.
func (s *Service) Rename(ctx context.Context, actor, id, title string) (list EquipmentList, err error) {
	defer func() { s.metrics.ListWrite("rename", err) }()

	title, err = NormalizeTitle(title)
	if err != nil {
		return EquipmentList{}, err
	}
	if _, err := s.authorize(ctx, actor, id); err != nil {
		return EquipmentList{}, err
	}
	list, err = s.repo.UpdateTitle(ctx, id, title)
	if err != nil {
		return EquipmentList{}, storeErr(err)
	}
	s.publish(ctx, list.OwnerID)
	return list, nil
}

// AppendItem adds an unchecked item to the end of the list.
func (s *Service) AppendItem(ctx context.Context, actor, id, name string) (list EquipmentList, err error) {
	defer func() { s.metrics.ListWrite("append", err) }()

	name, err = NormalizeItemName(name)
	if err != nil {
		return EquipmentList{}, err
	}
	if _, err := s.authorize(ctx, actor, id); err != nil {
		return EquipmentList{}, err
	}
	list, err = s.repo.AppendItem(ctx, id, EquipmentItem{Name: name})
	if err != nil {
		return EquipmentList{}, storeErr(err)
	}
	s.publish(ctx, list.OwnerID)
	return list, nil
}

// SetItemChecked sets the checked flag of the item at index. Setting the
// current value again is a no-op apart from the version bump.
func (s *Service) SetItemChecked(ctx context.Context, actor, id string, index int, checked bool) (list EquipmentList, err error) {
	defer func() { s.metrics.ListWrite("toggle", err) }()

	if index < 0 {
		return EquipmentList{}, fmt.Errorf("%w: item %d", ErrNotFound, index)
	}
	if _, err := s.authorize(ctx, actor, id); err != nil {
		return EquipmentList{}, err
	}
	list, err = s.repo.SetItemChecked(ctx, id, index, checked)
	if err != nil {
		return EquipmentList{}, storeErr(err)
	}
	s.publish(ctx, list.OwnerID)
	return list, nil
}

// ReplaceItems overwrites the whole item sequence if the stored version still
// equals expectVersion. Zero skips the check.
func (s *Service) ReplaceItems(ctx context.Context, actor, id string, items []EquipmentItem, expectVersion int64) (list EquipmentList, err error) {
	defer func() { s.metrics.ListWrite("replace", err) }()

	if expectVersion < 0 {
		return EquipmentList{}, fmt.Errorf("%w: version must not be negative", ErrValidation)
	}
	cleaned := make([]EquipmentItem, 0, len(items))
	for _, item := range items {
		name, err := NormalizeItemName(item.Name)
		if err != nil {
			return EquipmentList{}, err
		}
		cleaned = append(cleaned, EquipmentItem{Name: name, Checked: item.Checked})
	}
	if _, err := s.authorize(ctx, actor, id); err != nil {
		return EquipmentList{}, err
	}
	list, err = s.repo.ReplaceItems(ctx, id, cleaned, expectVersion)
	if err != nil {
		return EquipmentList{}, storeErr(err)
	}
	s.publish(ctx, list.OwnerID)
	return list, nil
}

// Delete removes the list permanently.
func (s *Service) Delete(ctx context.Context, actor, id string) (err error) {
	defer func() { s.metrics.ListWrite("delete", err) }()

	list, err := s.authorize(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return storeErr(err)
	}
	s.publish(ctx, list.OwnerID)
	return nil
}

// For returns a writer bound to owner.
func (s *Service) For(owner string) Scoped {
	return Scoped{svc: s, owner: owner}
}

func (s *Service) authorize(ctx context.Context, actor, id string) (EquipmentList, error) {
	if strings.TrimSpace(id) == "" {
		return EquipmentList{}, fmt.Errorf("%w: list id is required", ErrValidation)
	}
	list, err := s.repo.Get(ctx, id)
	if err != nil {
		return EquipmentList{}, storeErr(err)
	}
	if actor == "" || list.OwnerID != actor {
		return EquipmentList{}, ErrPermissionDenied
	}
	return list, nil
}

func (s *Service) publish(ctx context.Context, owner string) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(context.WithoutCancel(ctx), owner); err != nil {
		s.logger.Warn("publish list change", slog.String("owner", owner), slog.Any("error", err))
	}
}

// storeErr keeps domain sentinels and context errors intact and classifies
// anything else as the store being unreachable.
func storeErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// Scoped is a list writer bound to one owner.
type Scoped struct {
	svc   *Service
	owner string
}

// Owner returns the bound owner id.
func (w Scoped) Owner() string { return w.owner }

func (w Scoped) Create(ctx context.Context, title string, items []string) (EquipmentList, error) {
	return w.svc.Create(ctx, w.owner, title, items)
}

func (w Scoped) Rename(ctx context.Context, id, title string) (EquipmentList, error) {
	return w.svc.Rename(ctx, w.owner, id, title)
}

func (w Scoped) AppendItem(ctx context.Context, id, name string) (EquipmentList, error) {
	return w.svc.AppendItem(ctx, w.owner, id, name)
}

func (w Scoped) SetItemChecked(ctx context.Context, id string, index int, checked bool) (EquipmentList, error) {
	return w.svc.SetItemChecked(ctx, w.owner, id, index, checked)
}

func (w Scoped) ReplaceItems(ctx context.Context, id string, items []EquipmentItem, expectVersion int64) (EquipmentList, error) {
	return w.svc.ReplaceItems(ctx, w.owner, id, items, expectVersion)
}

func (w Scoped) Delete(ctx context.Context, id string) error {
	return w.svc.Delete(ctx, w.owner, id)
}
