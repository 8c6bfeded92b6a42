package consent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const migrationV1 = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER PRIMARY KEY,
	applied_at_unix_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS consent_records (
	subject_id TEXT NOT NULL,
	purpose TEXT NOT NULL,
	granted INTEGER NOT NULL,
	granted_at_unix_ns INTEGER NOT NULL,
	expires_at_unix_ns INTEGER,
	revoked_at_unix_ns INTEGER,
	metadata TEXT,
	PRIMARY KEY (subject_id, purpose)
);
`

// SQLiteStore persists consent records in a SQLite database.
type SQLiteStore struct {
	tracker

	db        *sql.DB
	closeOnce sync.Once
	closeErr  error
}

// NewSQLiteStore opens (or creates) the database at path. The special path
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("consent database path is empty")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create consent database directory: %w", err)
		}
		// modernc.org/sqlite uses _pragma=name(value) syntax
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open consent database: %w", err)
	}
	// One connection: serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect consent database: %w", err)
	}

	s := &SQLiteStore{tracker: newTracker(opts), db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate consent database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []struct {
		version int
		sql     string
	}{
		{version: 1, sql: migrationV1},
	}

	current := 0
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_meta`).Scan(&current)
	if err != nil && !strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.version, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO schema_meta (version, applied_at_unix_ms) VALUES (?, ?)`,
			m.version, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// Grant upserts the (subject, purpose) record. Last grant wins.
func (s *SQLiteStore) Grant(ctx context.Context, subjectID string, purpose Purpose, opts GrantOptions) error {
	r, err := newGrant(subjectID, purpose, opts, s.clock())
	if err != nil {
		return err
	}

	var meta sql.NullString
	if len(r.Metadata) > 0 {
		raw, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode consent metadata: %w", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consent_records
			(subject_id, purpose, granted, granted_at_unix_ns, expires_at_unix_ns, revoked_at_unix_ns, metadata)
		VALUES (?, ?, 1, ?, ?, NULL, ?)
		ON CONFLICT(subject_id, purpose) DO UPDATE SET
			granted = 1,
			granted_at_unix_ns = excluded.granted_at_unix_ns,
			expires_at_unix_ns = excluded.expires_at_unix_ns,
			revoked_at_unix_ns = NULL,
			metadata = excluded.metadata
	`, subjectID, string(purpose), r.GrantedAt.UnixNano(), nullTime(r.ExpiresAt), meta)
	if err != nil {
		return fmt.Errorf("grant consent: %w", err)
	}

	s.log.Debug("consent granted", zap.String("purpose", string(purpose)))
	s.grantEvent(ctx, r)
	return nil
}

// Revoke withdraws an active grant. It is a no-op for unknown, already
// revoked or empty pairs.
func (s *SQLiteStore) Revoke(ctx context.Context, subjectID string, purpose Purpose) error {
	if checkKey(subjectID, purpose) != nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE consent_records SET granted = 0, revoked_at_unix_ns = ?
		WHERE subject_id = ? AND purpose = ? AND granted = 1
	`, s.clock().UnixNano(), subjectID, string(purpose))
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}

	s.revokeEvent(ctx, subjectID, purpose, n > 0)
	return nil
}

// Check reports whether consent is currently active.
func (s *SQLiteStore) Check(ctx context.Context, subjectID string, purpose Purpose) (bool, error) {
	r, ok, err := s.Get(ctx, subjectID, purpose)
	if err != nil || !ok {
		return false, err
	}
	return r.Active(s.clock()), nil
}

// Get loads the record for (subject, purpose).
func (s *SQLiteStore) Get(ctx context.Context, subjectID string, purpose Purpose) (Record, bool, error) {
	var (
		granted   bool
		grantedAt int64
		expires   sql.NullInt64
		revoked   sql.NullInt64
		meta      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT granted, granted_at_unix_ns, expires_at_unix_ns, revoked_at_unix_ns, metadata
		FROM consent_records WHERE subject_id = ? AND purpose = ?
	`, subjectID, string(purpose)).Scan(&granted, &grantedAt, &expires, &revoked, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load consent: %w", err)
	}

	r := Record{
		SubjectID: subjectID,
		Purpose:   purpose,
		Granted:   granted,
		GrantedAt: time.Unix(0, grantedAt).UTC(),
		ExpiresAt: fromNullTime(expires),
		RevokedAt: fromNullTime(revoked),
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
			return Record{}, false, fmt.Errorf("decode consent metadata: %w", err)
		}
	}
	return r, true, nil
}

// Clear deletes every record.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM consent_records`)
	if err != nil {
		return fmt.Errorf("clear consent: %w", err)
	}
	n, _ := res.RowsAffected()
	s.clearEvent(ctx, n)
	return nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
