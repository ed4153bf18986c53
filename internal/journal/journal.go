// Package journal records a diagnostic timeline of scan sessions. The
// default retention mode is ephemeral, which writes nothing anywhere; the
// sqlite-backed modes exist for troubleshooting deployments.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/virsalabs/virsa-core/internal/config"
)

// Entry is one recorded timeline event for a scan session.
type Entry struct {
	ID         int64
	SessionID  string
	Type       string
	SiteID     string
	Confidence float64
	Detail     string
	CreatedAt  time.Time
}

// Event types recorded on the timeline.
const (
	EventStateChange = "state_change"
	EventRecognized  = "recognized"
	EventNarration   = "narration"
	EventError       = "error"
)

// Journal wraps the SQLite-backed session timeline.
type Journal struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Journal, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Journal{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	j := &Journal{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := j.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS scan_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    site_id TEXT,
    confidence REAL,
    detail TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_events_session_created ON scan_events(session_id, created_at);
`
	_, err := j.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes an entry onto the timeline. Ephemeral mode drops it.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if j == nil || j.db == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.clock().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO scan_events(session_id, event_type, site_id, confidence, detail, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Type, e.SiteID, e.Confidence, e.Detail, e.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// ListSession retrieves up to limit entries for a session, oldest first.
func (j *Journal) ListSession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, site_id, confidence, detail, created_at
		 FROM scan_events WHERE session_id = ? ORDER BY id ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.SiteID, &e.Confidence, &e.Detail, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies the configured retention window.
func (j *Journal) Prune(ctx context.Context) error {
	if j == nil || j.db == nil {
		return nil
	}
	if j.cfg.RetentionMode != "persistent" || j.cfg.RetentionDays <= 0 {
		if j.cfg.RetentionMode == "session" {
			_, err := j.db.ExecContext(ctx, `DELETE FROM scan_events`)
			return err
		}
		return nil
	}
	cutoff := j.clock().UTC().AddDate(0, 0, -j.cfg.RetentionDays)
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM scan_events WHERE created_at < ?`, cutoff.Format(time.RFC3339Nano))
	return err
}
