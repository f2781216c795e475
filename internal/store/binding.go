package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Binding routes key events to an output plugin. A nil Key matches every key.
type Binding struct {
	ID         string          `json:"id"`
	PluginName string          `json:"plugin_name"`
	Key        *int            `json:"key"`
	Config     json.RawMessage `json:"config"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Matches reports whether the binding applies to key.
func (b *Binding) Matches(key int) bool {
	return b.Enabled && (b.Key == nil || *b.Key == key)
}

// BindingRepository provides CRUD operations for bindings.
type BindingRepository struct {
	db *sql.DB
}

// Bindings returns the binding repository for this store.
func (s *Store) Bindings() *BindingRepository {
	return &BindingRepository{db: s.db}
}

// Create inserts a new binding. An empty ID is filled in.
func (r *BindingRepository) Create(b *Binding) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = time.Now()

	config := b.Config
	if config == nil {
		config = json.RawMessage("{}")
	}

	_, err := r.db.Exec(
		`INSERT INTO bindings (id, plugin_name, key, config, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.PluginName, nullableKey(b.Key), string(config), b.Enabled, b.CreatedAt,
	)
	return err
}

func nullableKey(key *int) any {
	if key == nil {
		return nil
	}
	return *key
}

const bindingColumns = `id, plugin_name, key, config, enabled, created_at`

func scanBinding(row interface{ Scan(...any) error }) (*Binding, error) {
	b := &Binding{}
	var key sql.NullInt64
	var config string
	var enabled int

	if err := row.Scan(&b.ID, &b.PluginName, &key, &config, &enabled, &b.CreatedAt); err != nil {
		return nil, err
	}

	if key.Valid {
		k := int(key.Int64)
		b.Key = &k
	}
	b.Config = json.RawMessage(config)
	b.Enabled = enabled != 0
	return b, nil
}

// GetByID retrieves a binding by its ID.
func (r *BindingRepository) GetByID(id string) (*Binding, error) {
	b, err := scanBinding(r.db.QueryRow(`SELECT `+bindingColumns+` FROM bindings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// List retrieves all bindings, oldest first.
func (r *BindingRepository) List() ([]*Binding, error) {
	return r.query(`SELECT ` + bindingColumns + ` FROM bindings ORDER BY created_at, rowid`)
}

// ListForKey returns the enabled bindings that apply to key.
func (r *BindingRepository) ListForKey(key int) ([]*Binding, error) {
	return r.query(
		`SELECT `+bindingColumns+` FROM bindings
		 WHERE enabled = 1 AND (key IS NULL OR key = ?)
		 ORDER BY created_at, rowid`,
		key,
	)
}

func (r *BindingRepository) query(q string, args ...any) ([]*Binding, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []*Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// Update updates an existing binding.
func (r *BindingRepository) Update(b *Binding) error {
	config := b.Config
	if config == nil {
		config = json.RawMessage("{}")
	}

	result, err := r.db.Exec(
		`UPDATE bindings SET plugin_name = ?, key = ?, config = ?, enabled = ? WHERE id = ?`,
		b.PluginName, nullableKey(b.Key), string(config), b.Enabled, b.ID,
	)
	if err != nil {
		return err
	}
	return affected(result)
}

// Delete removes a binding by its ID.
func (r *BindingRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM bindings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(result)
}
