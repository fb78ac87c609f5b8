// Package calstore is a local SQLite calendar used when no Google calendar
// is configured.
package calstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vthunder/budintel/internal/types"
)

// ErrNotFound is returned when an event does not exist for the user
var ErrNotFound = errors.New("event not found")

// Store holds per-user calendar events
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the calendar database under statePath
func Open(statePath string) (*Store, error) {
	return OpenPath(filepath.Join(statePath, "system", "calendar.db"))
}

// OpenPath opens or creates the calendar database at dbPath
func OpenPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, path: dbPath, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the time source used for updated_at
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		user_id     TEXT NOT NULL,
		id          TEXT NOT NULL,
		summary     TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location    TEXT NOT NULL DEFAULT '',
		start_unix  INTEGER NOT NULL,
		end_unix    INTEGER NOT NULL,
		all_day     INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'confirmed',
		project_id  TEXT NOT NULL DEFAULT '',
		updated_at  INTEGER NOT NULL,
		PRIMARY KEY (user_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_user_start ON events(user_id, start_unix);
	`
	_, err := s.db.Exec(schema)
	return err
}

const eventColumns = `id, summary, description, location, start_unix, end_unix, all_day, status, project_id, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (types.Event, error) {
	var (
		ev                  types.Event
		start, end, updated int64
		allDay              int
	)
	if err := row.Scan(&ev.ID, &ev.Summary, &ev.Description, &ev.Location,
		&start, &end, &allDay, &ev.Status, &ev.ProjectID, &updated); err != nil {
		return types.Event{}, err
	}
	ev.Start = time.Unix(start, 0).UTC()
	ev.End = time.Unix(end, 0).UTC()
	ev.AllDay = allDay != 0
	ev.UpdatedAt = time.Unix(0, updated).UTC()
	return ev, nil
}

func normalize(ev *types.Event) error {
	if ev.Summary == "" {
		return fmt.Errorf("event summary is required")
	}
	if ev.Start.IsZero() {
		return fmt.Errorf("event start time is required")
	}
	if ev.End.IsZero() || !ev.End.After(ev.Start) {
		ev.End = ev.Start.Add(time.Hour)
	}
	if ev.Status == "" {
		ev.Status = "confirmed"
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateEvent inserts ev for userID, assigning an ID when empty
func (s *Store) CreateEvent(ctx context.Context, userID string, ev types.Event) (types.Event, error) {
	if err := normalize(&ev); err != nil {
		return types.Event{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.UpdatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (user_id, `+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, ev.ID, ev.Summary, ev.Description, ev.Location,
		ev.Start.Unix(), ev.End.Unix(), boolInt(ev.AllDay), ev.Status, ev.ProjectID, ev.UpdatedAt.UnixNano())
	if err != nil {
		return types.Event{}, fmt.Errorf("failed to insert event: %w", err)
	}
	return s.GetEvent(ctx, userID, ev.ID)
}

// GetEvent returns one event
func (s *Store) GetEvent(ctx context.Context, userID, id string) (types.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE user_id = ? AND id = ?`, userID, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Event{}, ErrNotFound
	}
	if err != nil {
		return types.Event{}, fmt.Errorf("failed to query event: %w", err)
	}
	return ev, nil
}

// ListEvents returns the user's events overlapping [from, to), ordered by start
func (s *Store) ListEvents(ctx context.Context, userID string, from, to time.Time) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE user_id = ? AND start_unix < ? AND end_unix > ?
		ORDER BY start_unix, id`,
		userID, to.Unix(), from.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpdateEvent replaces an existing event
func (s *Store) UpdateEvent(ctx context.Context, userID string, ev types.Event) (types.Event, error) {
	if ev.ID == "" {
		return types.Event{}, fmt.Errorf("update event: missing ID")
	}
	if err := normalize(&ev); err != nil {
		return types.Event{}, err
	}
	ev.UpdatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET summary = ?, description = ?, location = ?, start_unix = ?, end_unix = ?,
			all_day = ?, status = ?, project_id = ?, updated_at = ?
		WHERE user_id = ? AND id = ?`,
		ev.Summary, ev.Description, ev.Location, ev.Start.Unix(), ev.End.Unix(),
		boolInt(ev.AllDay), ev.Status, ev.ProjectID, ev.UpdatedAt.UnixNano(), userID, ev.ID)
	if err != nil {
		return types.Event{}, fmt.Errorf("failed to update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Event{}, ErrNotFound
	}
	return s.GetEvent(ctx, userID, ev.ID)
}

// DeleteEvent removes an event
func (s *Store) DeleteEvent(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Users returns the IDs of users with at least one event
func (s *Store) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM events ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
