package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kolabpad/kolabpad/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the SnapshotStore backed by a single SQLite file
// (or ":memory:" for tests). It persists text and language only:
// Snapshot.Revision is not stored, and Load returns it as 0.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens uri (a go-sqlite3 DSN) and applies any pending
// migrations.
func OpenSQLite(uri string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", uri, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	var snap Snapshot
	var language sql.NullString
	snap.ID = id

	err := s.db.QueryRowContext(ctx,
		`SELECT text, language FROM document WHERE id = ?`, id,
	).Scan(&snap.Text, &language)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", id, err)
	}
	if language.Valid {
		snap.Language = language.String
	}
	return &snap, nil
}

func (s *SQLiteStore) Store(ctx context.Context, snap *Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document (id, text, language, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			language = excluded.language,
			updated_at = excluded.updated_at
	`, snap.ID, snap.Text, snap.Language, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: store %s: %w", snap.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document`).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// migrate applies every embedded migrations/*.sql file, in filename
// order, tracking applied versions in schema_migrations.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			filename TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&currentVersion)

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied := 0
	for i, entry := range entries {
		version := i + 1
		if version <= currentVersion {
			continue
		}

		filename := entry.Name()
		logger.Info("store: applying migration %d: %s", version, filename)

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", filename))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", filename, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("migration %s: %w", filename, err)
		}
		if _, err := db.Exec(
			`INSERT INTO schema_migrations (version, filename, applied_at) VALUES (?, ?, ?)`,
			version, filename, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("record migration %s: %w", filename, err)
		}
		applied++
	}

	if applied > 0 {
		logger.Info("store: applied %d migration(s)", applied)
	} else {
		logger.Debug("store: schema up to date at version %d", currentVersion)
	}
	return nil
}
