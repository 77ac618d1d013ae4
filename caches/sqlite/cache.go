package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	netfirstcache "github.com/dgduncan/go-netfirst-cache"
	"github.com/dgduncan/go-netfirst-cache/caches"
)

var (
	//go:embed create_generations.sql
	queryCreateGenerations string
	//go:embed create_entries.sql
	queryCreateEntries string
	//go:embed insert_generation.sql
	queryInsertGeneration string
	//go:embed list_generations.sql
	queryListGenerations string
	//go:embed delete_generation.sql
	queryDeleteGeneration string
	//go:embed delete_entries.sql
	queryDeleteEntries string
	//go:embed fetch_by_id.sql
	queryFetchByID string
	//go:embed insert_item.sql
	queryInsertItem string
)

// Store implements netfirstcache.Store on an embedded SQLite database. All
// access goes through a single connection, so writes are serialised.
type Store struct {
	db *sql.DB

	now func() time.Time
}

// Open registers the generation if it does not exist yet and returns a handle
// to it.
func (s *Store) Open(ctx context.Context, name string) (netfirstcache.Cache, error) {
	if name == "" {
		return nil, caches.ErrEmptyGeneration
	}

	if _, err := s.db.ExecContext(ctx, queryInsertGeneration, name, s.now().UTC().Unix()); err != nil {
		return nil, fmt.Errorf("creating generation %q: %w", name, err)
	}

	return &Cache{db: s.db, generation: name, now: s.now}, nil
}

// Keys lists every generation name.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryListGenerations)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// Delete removes the generation and its snapshots in one transaction.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, queryDeleteEntries, name); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, queryDeleteGeneration, name)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, tx.Commit()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Cache is one generation stored in SQLite.
type Cache struct {
	db         *sql.DB
	generation string

	now func() time.Time
}

// Match retrieves the snapshot stored under k.
// Returns caches.ErrNoCacheItem if the item doesn't exist.
func (c *Cache) Match(ctx context.Context, k string) (*netfirstcache.Snapshot, error) {
	var (
		snapshot netfirstcache.Snapshot
		storedAt int64
	)
	err := c.db.QueryRowContext(ctx, queryFetchByID, c.generation, k).
		Scan(&snapshot.Key, &snapshot.Response, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, err
	}
	snapshot.StoredAt = time.Unix(storedAt, 0).UTC()

	return &snapshot, nil
}

// Put stores v under k, replacing the previous snapshot. It fails with
// caches.ErrGenerationDeleted when the generation no longer exists.
func (c *Cache) Put(ctx context.Context, k string, v *netfirstcache.Snapshot) error {
	storedAt := v.StoredAt
	if storedAt.IsZero() {
		storedAt = c.now()
	}

	res, err := c.db.ExecContext(ctx, queryInsertItem, c.generation, k, v.Response, storedAt.UTC().Unix())
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", caches.ErrGenerationDeleted, c.generation)
	}

	return nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	for _, q := range []string{queryCreateGenerations, queryCreateEntries} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return err
		}
	}

	return nil
}

// New creates a SQLite store on db, which must have been opened with the
// "sqlite" driver. It limits db to one connection, enables WAL and creates
// the table structure.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, caches.ValidationError{
			Reason: "nil database",
		}
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}

	if err := createTables(ctx, db); err != nil {
		return nil, err
	}

	return &Store{
		db: db,

		now: time.Now,
	}, nil
}

// Open opens the database file at dsn (":memory:" for an in-memory database)
// and returns a store on it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}
