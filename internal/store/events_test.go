// internal/store/events_test.go
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popup-events/internal/models"
)

var eventCols = []string{
	"id", "title", "description", "location", "latitude", "longitude",
	"start_date", "end_date", "icon", "is_recurring", "recurrence_rule", "recurrence_end_date",
	"is_active", "is_popup", "notify", "notified_morning", "notified_hour_before",
	"created_at", "updated_at",
}

func newEventStore(t *testing.T) (*EventStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEventStore(db), mock
}

func eventRow(id int64, title string, start time.Time) []driverValue {
	now := time.Now()
	return []driverValue{
		id, title, "desc", "Town Square", 40.7, -74.0,
		start, nil, "cart", false, nil, nil,
		true, true, true, false, false,
		now, now,
	}
}

type driverValue = driver.Value

func TestEventStore_ListNotifiable(t *testing.T) {
	store, mock := newEventStore(t)

	start := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	cutoff := start.Add(-time.Hour)

	rows := sqlmock.NewRows(eventCols).
		AddRow(eventRow(1, "Saturday Market", start)...).
		AddRow(eventRow(2, "Night Bazaar", start.Add(2*time.Hour))...)

	mock.ExpectQuery(`SELECT (.+) FROM events\s+WHERE is_active = true AND notify = true AND start_date >= \$1`).
		WithArgs(cutoff).
		WillReturnRows(rows)

	events, err := store.ListNotifiable(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Saturday Market", events[0].Title)
	assert.Equal(t, "Town Square", events[0].Location)
	assert.Nil(t, events[0].EndDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_SaveNotificationFlags(t *testing.T) {
	store, mock := newEventStore(t)

	events := []*models.Event{
		{ID: 1, NotifiedMorning: true},
		{ID: 2, NotifiedMorning: true, NotifiedHourBefore: true},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE events SET notified_morning = \$2, notified_hour_before = \$3`).
		WithArgs(int64(1), true, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE events SET notified_morning = \$2, notified_hour_before = \$3`).
		WithArgs(int64(2), true, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveNotificationFlags(context.Background(), events))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_SaveNotificationFlags_RollsBackOnFailure(t *testing.T) {
	store, mock := newEventStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE events SET notified_morning`).
		WithArgs(int64(1), true, false).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := store.SaveNotificationFlags(context.Background(), []*models.Event{{ID: 1, NotifiedMorning: true}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_SaveNotificationFlags_EmptyIsNoop(t *testing.T) {
	store, mock := newEventStore(t)

	require.NoError(t, store.SaveNotificationFlags(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_GetByID_NotFound(t *testing.T) {
	store, mock := newEventStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM events WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(eventCols))

	ev, err := store.GetByID(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, ev)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_Create(t *testing.T) {
	store, mock := newEventStore(t)

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO events`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))

	ev := &models.Event{
		Title:     "New Market",
		StartDate: time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC),
		IsActive:  true,
		IsPopup:   true,
		Notify:    true,
	}
	require.NoError(t, store.Create(context.Background(), ev))
	assert.Equal(t, int64(7), ev.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_Update_ResetsFlagsOnStartDateEdit(t *testing.T) {
	store, mock := newEventStore(t)

	ev := &models.Event{
		ID:                 7,
		Title:              "Moved Market",
		StartDate:          time.Date(2025, 7, 2, 14, 0, 0, 0, time.UTC),
		IsActive:           true,
		NotifiedMorning:    true,
		NotifiedHourBefore: true,
	}

	mock.ExpectExec(`UPDATE events SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Update(context.Background(), ev, true))

	// The moved event notifies again.
	assert.False(t, ev.NotifiedMorning)
	assert.False(t, ev.NotifiedHourBefore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_Update_NotFound(t *testing.T) {
	store, mock := newEventStore(t)

	mock.ExpectExec(`UPDATE events SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), &models.Event{ID: 404}, false)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_Delete(t *testing.T) {
	store, mock := newEventStore(t)

	mock.ExpectExec(`DELETE FROM events WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}
