package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	netfirstcache "github.com/dgduncan/go-netfirst-cache"
	"github.com/dgduncan/go-netfirst-cache/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

const foreignKeyViolation = "23503"

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
	//go:embed fetch_by_id.sql
	queryFetchByID string
	//go:embed insert_item.sql
	queryInsertItem string
)

// Store implements netfirstcache.Store using PostgreSQL as the storage backend.
// Every generation is a row in netfirst_generations; deleting it cascades to
// its snapshots in netfirst_entries.
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

	if _, err := s.db.ExecContext(ctx, queryInsertGeneration, name); err != nil {
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

// Delete removes the generation and, through the foreign key, its snapshots.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, queryDeleteGeneration, name)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Cache is one generation stored in PostgreSQL.
type Cache struct {
	db         *sql.DB
	generation string

	now func() time.Time
}

// Match retrieves the snapshot stored under k.
// Returns caches.ErrNoCacheItem if the item doesn't exist.
func (c *Cache) Match(ctx context.Context, k string) (*netfirstcache.Snapshot, error) {
	var snapshot netfirstcache.Snapshot
	err := c.db.QueryRowContext(ctx, queryFetchByID, c.generation, k).
		Scan(&snapshot.Key, &snapshot.Response, &snapshot.StoredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, err
	}

	return &snapshot, nil
}

// Put stores v under k, replacing the previous snapshot.
func (c *Cache) Put(ctx context.Context, k string, v *netfirstcache.Snapshot) error {
	storedAt := v.StoredAt
	if storedAt.IsZero() {
		storedAt = c.now()
	}

	_, err := c.db.ExecContext(ctx, queryInsertItem, c.generation, k, v.Response, storedAt.UTC())

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: %s", caches.ErrGenerationDeleted, c.generation)
	}

	return err
}

func createTables(ctx context.Context, db *sql.DB) error {
	for _, q := range []string{queryCreateGenerations, queryCreateEntries} {
		stmt, err := db.PrepareContext(ctx, q)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx)
		stmt.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

// New creates a new PostgreSQL store. It verifies the database connection and
// creates the necessary table structure.
//
// Returns an error if:
// - The database handle is nil
// - The database connection test fails
// - Table creation fails
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, caches.ValidationError{
			Reason: "nil database",
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if err := createTables(ctx, db); err != nil {
		return nil, err
	}

	return &Store{
		db: db,

		now: time.Now,
	}, nil
}
