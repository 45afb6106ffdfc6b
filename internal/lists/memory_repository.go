package lists

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]EquipmentList
	now     func() time.Time
}

// NewMemoryRepository builds an in-memory list store for tests and local development.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		storage: make(map[string]EquipmentList),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryRepository) Insert(_ context.Context, list EquipmentList) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[list.ID]; exists {
		return fmt.Errorf("equipment list %s exists", list.ID)
	}
	r.storage[list.ID] = list.Clone()
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (EquipmentList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, ok := r.storage[id]
	if !ok {
		return EquipmentList{}, ErrNotFound
	}
	return list.Clone(), nil
}

func (r *memoryRepository) ListByOwner(_ context.Context, ownerID string) ([]EquipmentList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []EquipmentList{}
	for _, list := range r.storage {
		if list.OwnerID == ownerID {
			out = append(out, list.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepository) UpdateTitle(_ context.Context, id, title string) (EquipmentList, error) {
	return r.update(id, func(list *EquipmentList) error {
		list.Title = title
		return nil
	})
}

func (r *memoryRepository) AppendItem(_ context.Context, id string, item EquipmentItem) (EquipmentList, error) {
	return r.update(id, func(list *EquipmentList) error {
		list.Items = append(list.Items, item)
		return nil
	})
}

func (r *memoryRepository) SetItemChecked(_ context.Context, id string, index int, checked bool) (EquipmentList, error) {
	return r.update(id, func(list *EquipmentList) error {
		if index < 0 || index >= len(list.Items) {
			return fmt.Errorf("%w: list %s item %d", ErrNotFound, id, index)
		}
		list.Items[index].Checked = checked
		return nil
	})
}

func (r *memoryRepository) ReplaceItems(_ context.Context, id string, items []EquipmentItem, expectVersion int64) (EquipmentList, error) {
	return r.update(id, func(list *EquipmentList) error {
		if expectVersion != 0 && list.Version != expectVersion {
			return ErrVersionConflict
		}
		list.Items = append([]EquipmentItem{}, items...)
		return nil
	})
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storage[id]; !ok {
		return ErrNotFound
	}
	delete(r.storage, id)
	return nil
}

func (r *memoryRepository) update(id string, mutate func(*EquipmentList) error) (EquipmentList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.storage[id]
	if !ok {
		return EquipmentList{}, ErrNotFound
	}
	list := stored.Clone()
	if err := mutate(&list); err != nil {
		return EquipmentList{}, err
	}
	list.Version++
	list.UpdatedAt = r.now()
	r.storage[id] = list
	return list.Clone(), nil
}
