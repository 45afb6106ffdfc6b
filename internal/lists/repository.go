package lists

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists equipment lists as whole documents. Every successful write
// bumps the document version by one.
type Repository interface {
	Insert(ctx context.Context, list EquipmentList) error
	Get(ctx context.Context, id string) (EquipmentList, error)
	ListByOwner(ctx context.Context, ownerID string) ([]EquipmentList, error)
	UpdateTitle(ctx context.Context, id, title string) (EquipmentList, error)
	// AppendItem and SetItemChecked mutate the stored item sequence in place, so
	// concurrent writers never overwrite each other's changes.
	AppendItem(ctx context.Context, id string, item EquipmentItem) (EquipmentList, error)
	SetItemChecked(ctx context.Context, id string, index int, checked bool) (EquipmentList, error)
	// ReplaceItems swaps the whole item sequence when the stored version equals
	// expectVersion. An expectVersion of zero replaces unconditionally.
	ReplaceItems(ctx context.Context, id string, items []EquipmentItem, expectVersion int64) (EquipmentList, error)
	Delete(ctx context.Context, id string) error
}

const listColumns = `id, user_id, list_title, items, version, created_at, updated_at`

// PostgresRepository stores lists in PostgreSQL with items in a jsonb column.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed list repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert writes a new list document.
func (r *PostgresRepository) Insert(ctx context.Context, list EquipmentList) error {
	listID, err := uuid.Parse(list.ID)
	if err != nil {
		return err
	}
	items, err := json.Marshal(itemsOrEmpty(list.Items))
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO equipment_lists (id, user_id, list_title, items, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		listID, list.OwnerID, list.Title, items, list.Version, list.CreatedAt.UTC(), list.UpdatedAt.UTC())
	return err
}

// Get fetches a list by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (EquipmentList, error) {
	listID, err := uuid.Parse(id)
	if err != nil {
		return EquipmentList{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+listColumns+` FROM equipment_lists WHERE id = $1`, listID)
	return scanPostgresList(row)
}

// ListByOwner returns every list owned by ownerID, oldest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]EquipmentList, error) {
	rows, err := r.db.Query(ctx, `SELECT `+listColumns+` FROM equipment_lists
        WHERE user_id = $1 ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []EquipmentList{}
	for rows.Next() {
		list, err := scanPostgresList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, list)
	}
	return out, rows.Err()
}

// UpdateTitle replaces the title field.
func (r *PostgresRepository) UpdateTitle(ctx context.Context, id, title string) (EquipmentList, error) {
	listID, err := uuid.Parse(id)
	if err != nil {
		return EquipmentList{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `UPDATE equipment_lists
        SET list_title = $2, version = version + 1, updated_at = NOW()
        WHERE id = $1
        RETURNING `+listColumns, listID, title)
	return scanPostgresList(row)
}

// AppendItem concatenates one item onto the stored jsonb array.
func (r *PostgresRepository) AppendItem(ctx context.Context, id string, item EquipmentItem) (EquipmentList, error) {
	listID, err := uuid.Parse(id)
	if err != nil {
		return EquipmentList{}, ErrNotFound
	}
	payload, err := json.Marshal([]EquipmentItem{item})
	if err != nil {
		return EquipmentList{}, err
	}
	row := r.db.QueryRow(ctx, `UPDATE equipment_lists
        SET items = items || $2::jsonb, version = version + 1, updated_at = NOW()
        WHERE id = $1
        RETURNING `+listColumns, listID, payload)
	return scanPostgresList(row)
}

// SetItemChecked flips one element's checked flag with jsonb_set.
func (r *PostgresRepository) SetItemChecked(ctx context.Context, id string, index int, checked bool) (EquipmentList, error) {
	listID, err := uuid.Parse(id)
	if err != nil {
		return EquipmentList{}, ErrNotFound
	}
	if index < 0 {
		return EquipmentList{}, fmt.Errorf("%w: item %d", ErrNotFound, index)
	}
	row := r.db.QueryRow(ctx, `UPDATE equipment_lists
        SET items = jsonb_set(items, ARRAY[$2::text, 'checked'], to_jsonb($3::boolean)),
            version = version + 1, updated_at = NOW()
        WHERE id = $1 AND $4::int < jsonb_array_length(items)
        RETURNING `+listColumns, listID, strconv.Itoa(index), checked, index)
	list, err := scanPostgresList(row)
	if errors.Is(err, ErrNotFound) {
		return EquipmentList{}, fmt.Errorf("%w: list %s item %d", ErrNotFound, id, index)
	}
	return list, err
}

// ReplaceItems overwrites the item array, guarded by the document version.
func (r *PostgresRepository) ReplaceItems(ctx context.Context, id string, items []EquipmentItem, expectVersion int64) (EquipmentList, error) {
	listID, err := uuid.Parse(id)
	if err != nil {
		return EquipmentList{}, ErrNotFound
	}
	payload, err := json.Marshal(itemsOrEmpty(items))
	if err != nil {
		return EquipmentList{}, err
	}
	row := r.db.QueryRow(ctx, `UPDATE equipment_lists
        SET items = $2, version = version + 1, updated_at = NOW()
        WHERE id = $1 AND ($3::bigint = 0 OR version = $3::bigint)
        RETURNING `+listColumns, listID, payload, expectVersion)
	list, err := scanPostgresList(row)
	if !errors.Is(err, ErrNotFound) {
		return list, err
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM equipment_lists WHERE id = $1)`, listID).Scan(&exists); err != nil {
		return EquipmentList{}, err
	}
	if exists {
		return EquipmentList{}, ErrVersionConflict
	}
	return EquipmentList{}, ErrNotFound
}

// Delete removes a list permanently.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	listID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `DELETE FROM equipment_lists WHERE id = $1`, listID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPostgresList(row pgx.Row) (EquipmentList, error) {
	var (
		list      EquipmentList
		id        uuid.UUID
		items     []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&id, &list.OwnerID, &list.Title, &items, &list.Version, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EquipmentList{}, ErrNotFound
		}
		return EquipmentList{}, err
	}
	if err := json.Unmarshal(items, &list.Items); err != nil {
		return EquipmentList{}, fmt.Errorf("decode items: %w", err)
	}
	list.ID = id.String()
	list.CreatedAt = createdAt.UTC()
	list.UpdatedAt = updatedAt.UTC()
	return list, nil
}

func itemsOrEmpty(items []EquipmentItem) []EquipmentItem {
	if items == nil {
		return []EquipmentItem{}
	}
	return items
}
