package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/procurelabs/spachat/internal/domain"
	"github.com/procurelabs/spachat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS identity (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		key TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS manifest_files (
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		size INTEGER NOT NULL,
		modified INTEGER NOT NULL,
		url TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		PRIMARY KEY (position)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetIdentity retrieves the stored device identity.
func (s *SQLiteStore) GetIdentity(ctx context.Context) (*domain.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, created_at FROM identity WHERE id = 1`)

	var id domain.Identity
	var createdAt int64
	err := row.Scan(&id.UserID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity row: %w", err)
	}

	id.CreatedAt = time.Unix(createdAt, 0)
	return &id, nil
}

// SaveIdentity stores the device identity, replacing any existing row.
func (s *SQLiteStore) SaveIdentity(ctx context.Context, id *domain.Identity) error {
	query := `
	INSERT INTO identity (id, user_id, created_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		created_at = excluded.created_at`

	_, err := s.db.ExecContext(ctx, query, id.UserID, id.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// GetCredential retrieves a cached token by key.
func (s *SQLiteStore) GetCredential(ctx context.Context, key string) (*domain.Credential, error) {
	query := `SELECT key, token, expires_at, updated_at FROM credentials WHERE key = ?`
	row := s.db.QueryRowContext(ctx, query, key)

	var cred domain.Credential
	var expiresAt, updatedAt int64
	err := row.Scan(&cred.Key, &cred.Token, &expiresAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential row: %w", err)
	}

	cred.ExpiresAt = time.Unix(expiresAt, 0)
	cred.UpdatedAt = time.Unix(updatedAt, 0)
	return &cred, nil
}

// PutCredential creates or replaces a cached token.
func (s *SQLiteStore) PutCredential(ctx context.Context, cred *domain.Credential) error {
	query := `
	INSERT INTO credentials (key, token, expires_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		token = excluded.token,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		cred.Key, cred.Token, cred.ExpiresAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// SaveManifest replaces the cached manifest wholesale inside one
// transaction. Retries on SQLite concurrency errors.
func (s *SQLiteStore) SaveManifest(ctx context.Context, files []domain.FileEntry) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.saveManifestOnce(ctx, files)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SaveManifest hit SQLite conflict, retrying", "attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return fmt.Errorf("save manifest after %d attempts: %w", maxRetries, err)
}

func (s *SQLiteStore) saveManifestOnce(ctx context.Context, files []domain.FileEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin manifest tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM manifest_files`); err != nil {
		return fmt.Errorf("clear manifest: %w", err)
	}

	now := time.Now().Unix()
	for i, f := range files {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO manifest_files (position, name, size, modified, url, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`,
			i, f.Name, f.Size, f.Modified.Unix(), f.URL, now,
		)
		if err != nil {
			return fmt.Errorf("insert manifest row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit manifest tx: %w", err)
	}
	return nil
}

// GetManifest retrieves the cached manifest snapshot in listing order.
func (s *SQLiteStore) GetManifest(ctx context.Context) ([]domain.FileEntry, time.Time, error) {
	query := `SELECT name, size, modified, url, fetched_at FROM manifest_files ORDER BY position`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query manifest: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close manifest rows", "error", closeErr)
		}
	}()

	var files []domain.FileEntry
	var fetchedAt time.Time
	for rows.Next() {
		var f domain.FileEntry
		var modified, fetched int64
		if err := rows.Scan(&f.Name, &f.Size, &modified, &f.URL, &fetched); err != nil {
			return nil, time.Time{}, fmt.Errorf("scan manifest row: %w", err)
		}
		f.Modified = time.Unix(modified, 0)
		fetchedAt = time.Unix(fetched, 0)
		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("iterate manifest rows: %w", err)
	}

	return files, fetchedAt, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
