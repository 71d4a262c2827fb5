package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/readmesync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    updated_at TEXT NOT NULL -- RFC3339
);

CREATE TABLE IF NOT EXISTS attributes (
    item_id TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    value TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL,
    PRIMARY KEY (item_id, name)
);
`

type attributeRow struct {
	Kind  string `db:"kind"`
	Value string `db:"value"`
}

type itemRow struct {
	ID        string `db:"id"`
	Status    string `db:"status"`
	UpdatedAt string `db:"updated_at"`
}

// SQLiteStore persists attributes with sqlx. One connection, so writes serialize.
type SQLiteStore struct {
	db   *sqlx.DB
	feed *changeFeed
	once sync.Once
}

// OpenSQLiteStore opens (or creates) the store at path; db.MemoryPath for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	return NewSQLiteStore(conn)
}

func NewSQLiteStore(conn *sqlx.DB) (*SQLiteStore, error) {
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize metadata schema: %w", err)
	}
	return &SQLiteStore{db: conn, feed: newChangeFeed()}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, itemID, attr string) (Value, error) {
	var row attributeRow
	err := s.db.GetContext(ctx, &row, "SELECT kind, value FROM attributes WHERE item_id = ? AND name = ?", itemID, attr)
	if errors.Is(err, sql.ErrNoRows) {
		return Absent(), nil
	}
	if err != nil {
		return Absent(), fmt.Errorf("get attribute %s/%s: %w", itemID, attr, err)
	}

	switch Kind(row.Kind) {
	case KindText:
		return Text(row.Value), nil
	case KindNotFound:
		return NotFound(), nil
	default:
		slog.Warn("metadata unknown attribute kind", "item", itemID, "attr", attr, "kind", row.Kind)
		return Absent(), nil
	}
}

func (s *SQLiteStore) Set(ctx context.Context, itemID, attr string, v Value) error {
	var err error
	if v.Present() {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO attributes (item_id, name, kind, value, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(item_id, name) DO UPDATE SET kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at`,
			itemID, attr, string(v.Kind), v.Text, now(),
		)
	} else {
		_, err = s.db.ExecContext(ctx, "DELETE FROM attributes WHERE item_id = ? AND name = ?", itemID, attr)
	}
	if err != nil {
		return fmt.Errorf("set attribute %s/%s: %w", itemID, attr, err)
	}

	s.feed.notify()
	return nil
}

func (s *SQLiteStore) PutItem(ctx context.Context, item Item) error {
	if _, err := ParseStatus(string(item.Status)); err != nil {
		return err
	}
	updated := item.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, status, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		item.ID, string(item.Status), updated.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put item %s: %w", item.ID, err)
	}

	s.feed.notify()
	return nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, itemID string) (Item, error) {
	var row itemRow
	err := s.db.GetContext(ctx, &row, "SELECT id, status, updated_at FROM items WHERE id = ?", itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item %s: %w", itemID, err)
	}
	return row.item()
}

func (s *SQLiteStore) Items(ctx context.Context) ([]Item, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT id, status, updated_at FROM items ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		item, err := row.item()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *SQLiteStore) Subscribe() (<-chan struct{}, func()) {
	return s.feed.subscribe()
}

func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.feed.close()
		err = s.db.Close()
	})
	return err
}

func (r itemRow) item() (Item, error) {
	updated, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return Item{}, fmt.Errorf("failed to parse stored timestamp for %s: %w", r.ID, err)
	}
	return Item{ID: r.ID, Status: Status(r.Status), UpdatedAt: updated}, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
