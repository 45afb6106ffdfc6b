package lists

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteRepository stores lists in SQLite, keeping items as a JSON text column
// and mutating it with the JSON1 functions so item writes stay atomic.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository builds a repository over an already-migrated SQLite handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Insert writes a new list document.
func (r *SQLiteRepository) Insert(ctx context.Context, list EquipmentList) error {
	items, err := json.Marshal(itemsOrEmpty(list.Items))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO equipment_lists (id, user_id, list_title, items, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		list.ID, list.OwnerID, list.Title, string(items), list.Version,
		list.CreatedAt.UnixMilli(), list.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert equipment list: %w", err)
	}
	return nil
}

// Get fetches a list by identifier.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (EquipmentList, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+listColumns+` FROM equipment_lists WHERE id = ?`, id)
	return scanSQLiteList(row)
}

// ListByOwner returns every list owned by ownerID, oldest first.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]EquipmentList, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+listColumns+` FROM equipment_lists WHERE user_id = ? ORDER BY created_at ASC, id ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query equipment lists: %w", err)
	}
	defer rows.Close()

	out := []EquipmentList{}
	for rows.Next() {
		list, err := scanSQLiteList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, list)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate equipment lists: %w", err)
	}
	return out, nil
}

// UpdateTitle replaces the title field.
func (r *SQLiteRepository) UpdateTitle(ctx context.Context, id, title string) (EquipmentList, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE equipment_lists SET list_title = ?, version = version + 1, updated_at = ?
		WHERE id = ?
		RETURNING `+listColumns,
		title, r.now().UnixMilli(), id,
	)
	return scanSQLiteList(row)
}

// AppendItem inserts one element at the end of the JSON array.
func (r *SQLiteRepository) AppendItem(ctx context.Context, id string, item EquipmentItem) (EquipmentList, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return EquipmentList{}, err
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE equipment_lists SET items = json_insert(items, '$[#]', json(?)), version = version + 1, updated_at = ?
		WHERE id = ?
		RETURNING `+listColumns,
		string(payload), r.now().UnixMilli(), id,
	)
	return scanSQLiteList(row)
}

// SetItemChecked sets one element's checked flag with json_set.
func (r *SQLiteRepository) SetItemChecked(ctx context.Context, id string, index int, checked bool) (EquipmentList, error) {
	if index < 0 {
		return EquipmentList{}, fmt.Errorf("%w: item %d", ErrNotFound, index)
	}
	flag := "false"
	if checked {
		flag = "true"
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE equipment_lists SET items = json_set(items, '$[' || ? || '].checked', json(?)), version = version + 1, updated_at = ?
		WHERE id = ? AND ? < json_array_length(items)
		RETURNING `+listColumns,
		index, flag, r.now().UnixMilli(), id, index,
	)
	list, err := scanSQLiteList(row)
	if errors.Is(err, ErrNotFound) {
		return EquipmentList{}, fmt.Errorf("%w: list %s item %d", ErrNotFound, id, index)
	}
	return list, err
}

// ReplaceItems overwrites the item array, guarded by the document version.
func (r *SQLiteRepository) ReplaceItems(ctx context.Context, id string, items []EquipmentItem, expectVersion int64) (EquipmentList, error) {
	payload, err := json.Marshal(itemsOrEmpty(items))
	if err != nil {
		return EquipmentList{}, err
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE equipment_lists SET items = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND (? = 0 OR version = ?)
		RETURNING `+listColumns,
		string(payload), r.now().UnixMilli(), id, expectVersion, expectVersion,
	)
	list, err := scanSQLiteList(row)
	if !errors.Is(err, ErrNotFound) {
		return list, err
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM equipment_lists WHERE id = ?)`, id).Scan(&exists); err != nil {
		return EquipmentList{}, fmt.Errorf("failed to check equipment list: %w", err)
	}
	if exists {
		return EquipmentList{}, ErrVersionConflict
	}
	return EquipmentList{}, ErrNotFound
}

// Delete removes a list permanently.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM equipment_lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete equipment list: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteList(row rowScanner) (EquipmentList, error) {
	var (
		list      EquipmentList
		items     string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&list.ID, &list.OwnerID, &list.Title, &items, &list.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EquipmentList{}, ErrNotFound
	}
	if err != nil {
		return EquipmentList{}, fmt.Errorf("failed to scan equipment list: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &list.Items); err != nil {
		return EquipmentList{}, fmt.Errorf("decode items: %w", err)
	}
	list.CreatedAt = time.UnixMilli(createdAt).UTC()
	list.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return list, nil
}
