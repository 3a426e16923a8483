// Package store implements the PostgreSQL repositories for events and
// device tokens.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"popup-events/internal/models"
)

const eventColumns = `id, title, description, location, latitude, longitude,
	start_date, end_date, icon, is_recurring, recurrence_rule, recurrence_end_date,
	is_active, is_popup, notify, notified_morning, notified_hour_before,
	created_at, updated_at`

// EventStore persists events and their notification flags.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// ListNotifiable returns active events with notifications enabled whose
// start date is at or after cutoff.
func (s *EventStore) ListNotifiable(ctx context.Context, cutoff time.Time) ([]models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events
		WHERE is_active = true AND notify = true AND start_date >= $1
		ORDER BY start_date ASC`, eventColumns)

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list notifiable events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// SaveNotificationFlags commits the notification flags of the given
// events in a single transaction. Only the two flags are written; the
// update is idempotent.
func (s *EventStore) SaveNotificationFlags(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flag update: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range events {
		_, err := tx.ExecContext(ctx,
			`UPDATE events SET notified_morning = $2, notified_hour_before = $3, updated_at = now() WHERE id = $1`,
			ev.ID, ev.NotifiedMorning, ev.NotifiedHourBefore,
		)
		if err != nil {
			return fmt.Errorf("update flags for event %d: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flag update: %w", err)
	}
	return nil
}

// ListPopups returns active mobile-app-visible events ordered by start date.
func (s *EventStore) ListPopups(ctx context.Context) ([]models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events
		WHERE is_active = true AND is_popup = true
		ORDER BY start_date ASC`, eventColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list popup events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListAll returns every event, newest first (admin view, includes inactive).
func (s *EventStore) ListAll(ctx context.Context) ([]models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events ORDER BY start_date DESC`, eventColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByID returns one event, or nil when no such event exists.
func (s *EventStore) GetByID(ctx context.Context, id int64) (*models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id = $1`, eventColumns)

	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	return ev, nil
}

// Create inserts a new event and fills in its generated fields.
func (s *EventStore) Create(ctx context.Context, ev *models.Event) error {
	err := s.db.QueryRowContext(ctx, `INSERT INTO events
		(title, description, location, latitude, longitude, start_date, end_date, icon,
		 is_recurring, recurrence_rule, recurrence_end_date, is_active, is_popup, notify,
		 notified_morning, notified_hour_before)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,false,false)
		RETURNING id, created_at, updated_at`,
		ev.Title, ev.Description, ev.Location, ev.Latitude, ev.Longitude,
		ev.StartDate, ev.EndDate, ev.Icon,
		ev.IsRecurring, nullString(ev.RecurrenceRule), ev.RecurrenceEndDate,
		ev.IsActive, ev.IsPopup, ev.Notify,
	).Scan(&ev.ID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// Update rewrites an existing event. When resetFlags is set (the start
// date was edited) both notification flags are cleared so the scheduler
// treats the event as fresh.
func (s *EventStore) Update(ctx context.Context, ev *models.Event, resetFlags bool) error {
	if resetFlags {
		ev.NotifiedMorning = false
		ev.NotifiedHourBefore = false
	}

	res, err := s.db.ExecContext(ctx, `UPDATE events SET
		title = $2, description = $3, location = $4, latitude = $5, longitude = $6,
		start_date = $7, end_date = $8, icon = $9,
		is_recurring = $10, recurrence_rule = $11, recurrence_end_date = $12,
		is_active = $13, is_popup = $14, notify = $15,
		notified_morning = $16, notified_hour_before = $17,
		updated_at = now()
		WHERE id = $1`,
		ev.ID, ev.Title, ev.Description, ev.Location, ev.Latitude, ev.Longitude,
		ev.StartDate, ev.EndDate, ev.Icon,
		ev.IsRecurring, nullString(ev.RecurrenceRule), ev.RecurrenceEndDate,
		ev.IsActive, ev.IsPopup, ev.Notify,
		ev.NotifiedMorning, ev.NotifiedHourBefore,
	)
	if err != nil {
		return fmt.Errorf("update event %d: %w", ev.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an event.
func (s *EventStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var ev models.Event
	var description, location, icon, rule sql.NullString
	var latitude, longitude sql.NullFloat64
	var endDate, recurrenceEnd sql.NullTime

	err := row.Scan(
		&ev.ID, &ev.Title, &description, &location, &latitude, &longitude,
		&ev.StartDate, &endDate, &icon, &ev.IsRecurring, &rule, &recurrenceEnd,
		&ev.IsActive, &ev.IsPopup, &ev.Notify, &ev.NotifiedMorning, &ev.NotifiedHourBefore,
		&ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Description = description.String
	ev.Location = location.String
	ev.Latitude = latitude.Float64
	ev.Longitude = longitude.Float64
	ev.Icon = icon.String
	ev.RecurrenceRule = rule.String
	if endDate.Valid {
		t := endDate.Time
		ev.EndDate = &t
	}
	if recurrenceEnd.Valid {
		t := recurrenceEnd.Time
		ev.RecurrenceEndDate = &t
	}
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	var out []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
