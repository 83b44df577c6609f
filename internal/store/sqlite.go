package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailwatch/internal/model"
)

// SQLiteStore is the write-only audit log of sent notifications. The
// poll loop never reads it back; the watermark is the only
// deduplication state the process keeps.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Record appends one sent notification. Missing ID and timestamp are
// filled in.
func (s *SQLiteStore) Record(ctx context.Context, rec model.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO notifications (id, sender, recipient, subject, sent_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Sender, rec.Recipient, rec.Subject, rec.SentAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording notification %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns the newest notifications, most recent first. The poll
// loop never calls it; it backs the /history operator endpoint.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]model.NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var recs []model.NotificationRecord
	err := s.db.SelectContext(ctx, &recs,
		"SELECT * FROM notifications ORDER BY sent_at DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return recs, nil
}

// HistoryHandler serves the newest audit log entries as JSON, so an
// operator can see what was sent without opening the database.
func (s *SQLiteStore) HistoryHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recs, err := s.Recent(r.Context(), 50)
		if err != nil {
			http.Error(w, "listing notifications failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recs)
	})
}
