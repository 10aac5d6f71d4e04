package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lehigh-university-libraries/cookbook/internal/models"
)

// MemoryDSN keeps the catalog in a private in-memory database.
const MemoryDSN = ":memory:"

const recordColumns = `id, name, page_start, page_end, has_picture`

// Store is the read-mostly recipe catalog backed by SQLite.
// Load must complete before any other method is called.
type Store struct {
	db      *sql.DB
	records *lru.Cache[int64, models.Record]
}

// Open creates or opens the catalog database at dbPath and initializes the schema.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog db directory: %w", err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog db: %w", err)
	}

	if dbPath == MemoryDSN {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init catalog schema: %w", err)
	}

	records, err := lru.New[int64, models.Record](512)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create record cache: %w", err)
	}

	return &Store{db: db, records: records}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS recipes (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			page_start INTEGER NOT NULL,
			page_end INTEGER NOT NULL,
			has_picture BOOLEAN NOT NULL DEFAULT 1
		)`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load replaces the catalog content with the entries of src and returns how
// many records were stored. Ids are assigned sequentially from 1 in source order.
func (s *Store) Load(ctx context.Context, src Source) (int, error) {
	entries, err := src.Entries()
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin catalog load: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipes`); err != nil {
		return 0, fmt.Errorf("failed to clear catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO recipes (name, page_start, page_end, has_picture) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare catalog insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		slog.Debug("Adding recipe to catalog", "name", e.Name, "start", e.Start, "end", e.End, "has_picture", e.HasPicture)
		if _, err := stmt.ExecContext(ctx, e.Name, e.Start, e.End, e.HasPicture); err != nil {
			return 0, fmt.Errorf("failed to insert recipe %q: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit catalog load: %w", err)
	}

	s.records.Purge()
	slog.Info("Catalog loaded", "records", len(entries))

	return len(entries), nil
}

// PickExcluding returns a uniformly random record whose id is not in excluded.
// ok is false when every record is excluded.
func (s *Store) PickExcluding(ctx context.Context, excluded []int64) (models.Record, bool, error) {
	if excluded == nil {
		excluded = []int64{}
	}
	ids, err := json.Marshal(excluded)
	if err != nil {
		return models.Record{}, false, fmt.Errorf("failed to encode excluded ids: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM recipes
		WHERE id NOT IN (SELECT value FROM json_each(?))
		ORDER BY RANDOM() LIMIT 1`, string(ids))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("No recipe left to pick", "excluded", len(excluded))
		return models.Record{}, false, nil
	}
	if err != nil {
		return models.Record{}, false, fmt.Errorf("failed to pick random recipe: %w", err)
	}

	slog.Debug("Picked random recipe", "record_id", rec.ID, "name", rec.Name)
	return rec, true, nil
}

// GetByID returns the record with the given id or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (models.Record, error) {
	if rec, ok := s.records.Get(id); ok {
		return rec, nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM recipes WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to fetch recipe %d: %w", id, err)
	}

	s.records.Add(id, rec)
	return rec, nil
}

// Count returns the number of records in the catalog.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count recipes: %w", err)
	}
	return n, nil
}

// All returns every record ordered by id.
func (s *Store) All(ctx context.Context) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM recipes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.Record, error) {
	var rec models.Record
	err := row.Scan(&rec.ID, &rec.Name, &rec.PageStart, &rec.PageEnd, &rec.HasPicture)
	return rec, err
}
