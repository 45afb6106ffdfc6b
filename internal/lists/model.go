package lists

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EquipmentItem is a line on a packing list. Items have no identity of their own;
// their index within the parent list is the only address.
type EquipmentItem struct {
	Name    string `json:"name"`
	Checked bool   `json:"checked"`
}

// EquipmentList is a user's packing list with its embedded items.
type EquipmentList struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"userId"`
	Title     string          `json:"listTitle"`
	Items     []EquipmentItem `json:"items"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Completion summarises how many items are checked, formatted "checked/total".
func (l EquipmentList) Completion() string {
	checked := 0
	for _, item := range l.Items {
		if item.Checked {
			checked++
		}
	}
	return fmt.Sprintf("%d/%d", checked, len(l.Items))
}

// MarshalJSON adds the derived completion summary to the wire form.
func (l EquipmentList) MarshalJSON() ([]byte, error) {
	type wire EquipmentList
	w := wire(l)
	if w.Items == nil {
		w.Items = []EquipmentItem{}
	}
	return json.Marshal(struct {
		wire
		Completion string `json:"completion"`
	}{wire: w, Completion: l.Completion()})
}

// Clone returns a deep copy so callers can mutate items without aliasing store state.
func (l EquipmentList) Clone() EquipmentList {
	out := l
	out.Items = append([]EquipmentItem(nil), l.Items...)
	return out
}

// CloneAll deep copies a snapshot.
func CloneAll(in []EquipmentList) []EquipmentList {
	if in == nil {
		return nil
	}
	out := make([]EquipmentList, len(in))
	for i, l := range in {
		out[i] = l.Clone()
	}
	return out
}

// NormalizeTitle trims a list title and rejects blank ones.
func NormalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: list title is required", ErrValidation)
	}
	return title, nil
}

// NormalizeItemName trims an item name and rejects blank ones.
func NormalizeItemName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: item name is required", ErrValidation)
	}
	return name, nil
}

// NormalizeItems trims names, drops blank entries and resets every item to unchecked.
// At least one item must survive.
func NormalizeItems(names []string) ([]EquipmentItem, error) {
	items := make([]EquipmentItem, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		items = append(items, EquipmentItem{Name: name})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	return items, nil
}
