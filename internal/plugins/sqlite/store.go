package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kactivitymanagerd/internal/activities"
	"kactivitymanagerd/internal/resources"
)

// DatabaseFile is the store's file name inside the data directory.
const DatabaseFile = "database.sqlite"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists resource and activity history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database in dataDir and applies
// pending migrations.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("data directory is not configured")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DatabaseFile)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordResourceEvent appends one resource event.
func (s *Store) RecordResourceEvent(ctx context.Context, evt resources.Event) error {
	return s.exec(ctx,
		`INSERT INTO resource_events (activity, application, uri, event_type, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		evt.Activity, evt.Application, evt.URI, evt.Type.String(), evt.Timestamp.UnixMilli(),
	)
}

// RecordActivityEvent appends an activity change and keeps the activities
// table in sync.
func (s *Store) RecordActivityEvent(ctx context.Context, evt activities.Event, at time.Time) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO activity_events (activity, kind, occurred_at) VALUES (?, ?, ?)`,
			evt.Activity.ID, evt.Kind.String(), at.UnixMilli(),
		); err != nil {
			return err
		}
		if evt.Kind == activities.EventRemoved {
			if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, evt.Activity.ID); err != nil {
				return err
			}
		} else if evt.Activity.ID != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO activities (id, name, state, updated_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET name = excluded.name, state = excluded.state, updated_at = excluded.updated_at`,
				evt.Activity.ID, evt.Activity.Name, evt.Activity.State.String(), at.UnixMilli(),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// PruneBefore deletes resource events older than cutoff and returns how many
// rows were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM resource_events WHERE occurred_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune resource events: %w", err)
	}
	return removed, nil
}

// CountResourceEvents returns the number of stored events for activity, or
// for all activities when activity is empty.
func (s *Store) CountResourceEvents(ctx context.Context, activity string) (int, error) {
	query := `SELECT COUNT(1) FROM resource_events`
	args := []any{}
	if activity != "" {
		query += ` WHERE activity = ?`
		args = append(args, activity)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count resource events: %w", err)
	}
	return count, nil
}

// KnownActivities returns the persisted activity names keyed by id.
func (s *Store) KnownActivities(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM activities`)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out[id] = name
	}
	return out, rows.Err()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}
