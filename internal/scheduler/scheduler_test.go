// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popup-events/internal/common/logger"
	"popup-events/internal/models"
)

// fakeStore holds events in memory and records flag saves.
type fakeStore struct {
	events    []models.Event
	saveCalls int
	saveErr   error
}

func (f *fakeStore) ListNotifiable(ctx context.Context, cutoff time.Time) ([]models.Event, error) {
	var out []models.Event
	for _, ev := range f.events {
		if ev.IsActive && ev.Notify && !ev.StartDate.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveNotificationFlags(ctx context.Context, dirty []*models.Event) error {
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	for _, d := range dirty {
		for i := range f.events {
			if f.events[i].ID == d.ID {
				f.events[i].NotifiedMorning = d.NotifiedMorning
				f.events[i].NotifiedHourBefore = d.NotifiedHourBefore
			}
		}
	}
	return nil
}

// fakeSink records pushes, optionally failing for selected titles.
type fakeSink struct {
	sent    []string
	failFor map[string]bool
}

func (f *fakeSink) Send(ctx context.Context, title, body string) (int, error) {
	if f.failFor[title] {
		return 0, errors.New("transport down")
	}
	f.sent = append(f.sent, title)
	return 3, nil
}

func eastern(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func newTestScheduler(t *testing.T, store *fakeStore, sink *fakeSink) *Scheduler {
	return New(store, sink, eastern(t), logger.NewNoOpLogger())
}

func notifiableEvent(id int64, start time.Time) models.Event {
	return models.Event{
		ID:        id,
		Title:     "Saturday Market",
		StartDate: start,
		IsActive:  true,
		IsPopup:   true,
		Notify:    true,
	}
}

func TestTick_MorningTrigger(t *testing.T) {
	// 2025-06-10 18:00 UTC is 14:00 in New York.
	start := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		now       time.Time
		wantFired int
	}{
		{
			name:      "fires after 7am local on event day",
			now:       time.Date(2025, 6, 10, 11, 30, 0, 0, time.UTC), // 07:30 ET
			wantFired: 1,
		},
		{
			name:      "holds before 7am local",
			now:       time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC), // 06:00 ET
			wantFired: 0,
		},
		{
			name:      "holds the day before",
			now:       time.Date(2025, 6, 9, 15, 0, 0, 0, time.UTC),
			wantFired: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{events: []models.Event{notifiableEvent(1, start)}}
			sink := &fakeSink{}
			sched := newTestScheduler(t, store, sink)

			fired, err := sched.Tick(context.Background(), tt.now)
			require.NoError(t, err)
			assert.Len(t, fired, tt.wantFired)
			if tt.wantFired > 0 {
				assert.Equal(t, TriggerMorning, fired[0].Trigger)
			}
		})
	}
}

func TestTick_HourBeforeTrigger(t *testing.T) {
	start := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		now      time.Time
		wantSoon bool
	}{
		{name: "fires 45 minutes out", now: start.Add(-45 * time.Minute), wantSoon: true},
		{name: "fires exactly one hour out", now: start.Add(-time.Hour), wantSoon: true},
		{name: "holds 75 minutes out", now: start.Add(-75 * time.Minute), wantSoon: false},
		{name: "never fires after start", now: start.Add(5 * time.Minute), wantSoon: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{events: []models.Event{notifiableEvent(1, start)}}
			sink := &fakeSink{}
			sched := newTestScheduler(t, store, sink)

			fired, err := sched.Tick(context.Background(), tt.now)
			require.NoError(t, err)

			var gotSoon bool
			for _, f := range fired {
				if f.Trigger == TriggerHourBefore {
					gotSoon = true
				}
			}
			assert.Equal(t, tt.wantSoon, gotSoon)
		})
	}
}

func TestTick_Idempotent(t *testing.T) {
	start := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	now := start.Add(-30 * time.Minute) // both triggers due: 13:30 ET, 30 min out

	store := &fakeStore{events: []models.Event{notifiableEvent(1, start)}}
	sink := &fakeSink{}
	sched := newTestScheduler(t, store, sink)

	fired, err := sched.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Len(t, fired, 2)

	// Same instant again: flags are set, nothing re-sends.
	fired, err = sched.Tick(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Len(t, sink.sent, 2)
}

func TestTick_FailureIsolation(t *testing.T) {
	start := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	now := start.Add(-30 * time.Minute)

	broken := notifiableEvent(1, start)
	broken.Title = "Broken Event"
	healthy := notifiableEvent(2, start)

	store := &fakeStore{events: []models.Event{broken, healthy}}
	sink := &fakeSink{failFor: map[string]bool{
		"Today: Broken Event":         true,
		"Starting Soon: Broken Event": true,
	}}
	sched := newTestScheduler(t, store, sink)

	fired, err := sched.Tick(context.Background(), now)
	require.NoError(t, err)

	// Only the healthy event fired, and only its flags moved.
	require.Len(t, fired, 2)
	for _, f := range fired {
		assert.Equal(t, int64(2), f.EventID)
	}
	assert.False(t, store.events[0].NotifiedMorning)
	assert.False(t, store.events[0].NotifiedHourBefore)
	assert.True(t, store.events[1].NotifiedMorning)
	assert.True(t, store.events[1].NotifiedHourBefore)

	// A later tick retries the failed event once the transport recovers.
	sink.failFor = nil
	fired, err = sched.Tick(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, fired, 2)
	for _, f := range fired {
		assert.Equal(t, int64(1), f.EventID)
	}
}

func TestTick_SkipsStaleEvents(t *testing.T) {
	now := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)

	stale := notifiableEvent(1, now.Add(-2*time.Hour))
	store := &fakeStore{events: []models.Event{stale}}
	sink := &fakeSink{}
	sched := newTestScheduler(t, store, sink)

	fired, err := sched.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Empty(t, sink.sent)
}

func TestTick_BatchedFlagPersistence(t *testing.T) {
	start := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	now := start.Add(-30 * time.Minute)

	store := &fakeStore{events: []models.Event{
		notifiableEvent(1, start),
		notifiableEvent(2, start),
		notifiableEvent(3, start),
	}}
	sink := &fakeSink{}
	sched := newTestScheduler(t, store, sink)

	fired, err := sched.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Len(t, fired, 6)

	// One flag commit for the whole tick, not one per event.
	assert.Equal(t, 1, store.saveCalls)
}

func TestTick_PersistFailureSurfacesButKeepsSummary(t *testing.T) {
	start := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	now := start.Add(-30 * time.Minute)

	store := &fakeStore{
		events:  []models.Event{notifiableEvent(1, start)},
		saveErr: errors.New("deadlock"),
	}
	sink := &fakeSink{}
	sched := newTestScheduler(t, store, sink)

	fired, err := sched.Tick(context.Background(), now)
	require.Error(t, err)
	// The sends happened; the caller still sees what went out.
	assert.Len(t, fired, 2)
}

func TestMessage_Format(t *testing.T) {
	sched := newTestScheduler(t, &fakeStore{}, &fakeSink{})

	ev := &models.Event{
		Title:     "Holiday Bazaar",
		Location:  "Town Square",
		StartDate: time.Date(2025, 12, 6, 19, 4, 0, 0, time.UTC), // 02:04 PM ET
	}

	title, body := sched.message(ev, TriggerMorning)
	assert.Equal(t, "Today: Holiday Bazaar", title)
	assert.Equal(t, "Join us today at 02:04 PM at Town Square!", body)

	title, body = sched.message(ev, TriggerHourBefore)
	assert.Equal(t, "Starting Soon: Holiday Bazaar", title)
	assert.Equal(t, "We're setting up now at Town Square. See you in about an hour!", body)

	ev.Location = ""
	_, body = sched.message(ev, TriggerHourBefore)
	assert.Equal(t, "We're setting up now. See you in about an hour!", body)
}
