package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	quota   int64
	writeMu sync.Mutex // serializes entry writes to avoid SQLITE_BUSY on quota checks
}

// NewSQLite creates a new SQLite-backed repository. A quota of zero or less
// disables the per-profile size limit.
func NewSQLite(dbPath string, quota int64) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, quota: quota}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS profiles (
		profile_id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_last_seen ON profiles(last_seen_at);

	CREATE TABLE IF NOT EXISTS entries (
		profile_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (profile_id, key)
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by id.
func (s *SQLiteStore) GetProfile(ctx context.Context, profileID string) (*domain.Profile, error) {
	query := `
		SELECT profile_id, label, last_seen_at, created_at, updated_at
		FROM profiles WHERE profile_id = ?`

	row := s.db.QueryRowContext(ctx, query, profileID)
	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}
	return profile, nil
}

// UpsertProfile creates or updates a profile record.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile *domain.Profile) error {
	query := `
	INSERT INTO profiles (profile_id, label, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(profile_id) DO UPDATE SET
		label = excluded.label,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		profile.ProfileID, profile.Label, profile.LastSeenAt.Unix(),
		profile.CreatedAt.Unix(), profile.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a profile.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, profileID string, lastSeen time.Time) error {
	query := `UPDATE profiles SET last_seen_at = ?, updated_at = ? WHERE profile_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), profileID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "profile_id", profileID)
	}
	return nil
}

// GetStaleProfiles retrieves profiles idle for longer than ttl.
func (s *SQLiteStore) GetStaleProfiles(ctx context.Context, ttl time.Duration) ([]*domain.Profile, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT profile_id, label, last_seen_at, created_at, updated_at
		FROM profiles WHERE last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query stale profiles: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close stale profile rows", "error", closeErr)
		}
	}()

	var profiles []*domain.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale profile row: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale profiles: %w", err)
	}
	return profiles, nil
}

// DeleteProfile removes a profile and all of its entries in one transaction.
func (s *SQLiteStore) DeleteProfile(ctx context.Context, profileID string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete profile: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE profile_id = ?`, profileID)
	if err != nil {
		return 0, fmt.Errorf("delete profile entries: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("profile entries rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE profile_id = ?`, profileID); err != nil {
		return 0, fmt.Errorf("delete profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete profile: %w", err)
	}
	return removed, nil
}

// GetValue returns the stored value for key.
func (s *SQLiteStore) GetValue(ctx context.Context, profileID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE profile_id = ? AND key = ?`, profileID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get entry %q: %w", key, err)
	}
	return value, true, nil
}

// SetValue overwrites the value for key, enforcing the profile quota.
func (s *SQLiteStore) SetValue(ctx context.Context, profileID, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set entry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.quota > 0 {
		var used int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(CAST(value AS BLOB)) + LENGTH(CAST(key AS BLOB))), 0)
			 FROM entries WHERE profile_id = ? AND key <> ?`, profileID, key,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("measure profile usage: %w", err)
		}
		if used+int64(len(key)+len(value)) > s.quota {
			return fmt.Errorf("set entry %q: %w", key, ErrQuotaExceeded)
		}
	}

	query := `
	INSERT INTO entries (profile_id, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(profile_id, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, query, profileID, key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("set entry %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set entry %q: %w", key, err)
	}
	return nil
}

// DeleteValue removes key.
func (s *SQLiteStore) DeleteValue(ctx context.Context, profileID, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE profile_id = ? AND key = ?`, profileID, key,
	); err != nil {
		return fmt.Errorf("delete entry %q: %w", key, err)
	}
	return nil
}

// ListKeys returns the profile's keys starting with prefix.
func (s *SQLiteStore) ListKeys(ctx context.Context, profileID, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM entries
		 WHERE profile_id = ? AND substr(key, 1, length(?)) = ?
		 ORDER BY key`, profileID, prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close key rows", "error", closeErr)
		}
	}()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.Profile, error) {
	var p domain.Profile
	var lastSeen, createdAt, updatedAt int64
	if err := row.Scan(&p.ProfileID, &p.Label, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.LastSeenAt = time.Unix(lastSeen, 0)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}
