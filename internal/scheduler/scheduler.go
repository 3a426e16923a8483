// Package scheduler scans upcoming events and sends the two one-shot
// push notifications each event gets: one on the morning of the event
// and one an hour before it starts.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"popup-events/internal/common/logger"
	"popup-events/internal/common/metrics"
	"popup-events/internal/models"
)

// Trigger kinds reported in the tick summary.
const (
	TriggerMorning    = "morning"
	TriggerHourBefore = "hour_before"
)

// morningHour is the earliest local hour at which the day-of notification
// may fire.
const morningHour = 7

// EventStore is the persistence collaborator. Ordering of the candidate
// query result is not significant.
type EventStore interface {
	// ListNotifiable returns active events with notifications enabled
	// whose start date is at or after cutoff.
	ListNotifiable(ctx context.Context, cutoff time.Time) ([]models.Event, error)
	// SaveNotificationFlags commits the notification flags of the given
	// events in one transaction. It must touch nothing but the flags.
	SaveNotificationFlags(ctx context.Context, events []*models.Event) error
}

// NotificationSink delivers a push to all registered recipients and
// reports how many deliveries succeeded. A low or zero count is not an
// error; only transport failure is.
type NotificationSink interface {
	Send(ctx context.Context, title, body string) (int, error)
}

// Sent describes one notification fired during a tick.
type Sent struct {
	EventID int64  `json:"event_id"`
	Trigger string `json:"trigger"`
	Title   string `json:"title"`
}

// Scheduler evaluates notification triggers against the clock. It holds
// no locks and no mutable state of its own: the caller is responsible
// for ensuring at most one Tick runs at a time (see Lock), and the
// notified flags on the event rows are the sole dedup mechanism.
type Scheduler struct {
	store EventStore
	sink  NotificationSink
	local *time.Location
	log   logger.Logger
}

func New(store EventStore, sink NotificationSink, local *time.Location, log logger.Logger) *Scheduler {
	return &Scheduler{
		store: store,
		sink:  sink,
		local: local,
		log:   log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
}

// Tick runs one scan-and-send cycle at the given instant and returns a
// summary of what fired. It is idempotent: calling it again without an
// intervening clock change re-sends nothing, because each trigger flips
// its flag after a successful send and flags never reset here.
//
// Flag persistence is batched after all sends complete. A crash between
// a send and the commit can therefore produce a duplicate notification
// on the next tick; that window is accepted.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]Sent, error) {
	metrics.SchedulerTicks.Inc()
	started := time.Now()
	defer func() {
		metrics.SchedulerTickDuration.Observe(time.Since(started).Seconds())
	}()

	nowUTC := now.UTC()
	nowLocal := nowUTC.In(s.local)

	// Events that started more than an hour ago are past saving; no backfill.
	events, err := s.store.ListNotifiable(ctx, nowUTC.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("list notifiable events: %w", err)
	}

	var fired []Sent
	var dirty []*models.Event

	for i := range events {
		ev := &events[i]
		changed := false

		if s.morningDue(ev, nowLocal) {
			if s.send(ctx, ev, TriggerMorning) {
				ev.NotifiedMorning = true
				changed = true
				fired = append(fired, Sent{EventID: ev.ID, Trigger: TriggerMorning, Title: ev.Title})
			}
		}

		if s.hourBeforeDue(ev, nowUTC) {
			if s.send(ctx, ev, TriggerHourBefore) {
				ev.NotifiedHourBefore = true
				changed = true
				fired = append(fired, Sent{EventID: ev.ID, Trigger: TriggerHourBefore, Title: ev.Title})
			}
		}

		if changed {
			dirty = append(dirty, ev)
		}
	}

	if len(dirty) > 0 {
		if err := s.store.SaveNotificationFlags(ctx, dirty); err != nil {
			// The sends went out but the flags did not stick; the next
			// tick will re-send. Surface the error, keep the summary.
			s.log.Error("persist notification flags", map[string]interface{}{
				"error":  err,
				"events": len(dirty),
			})
			return fired, fmt.Errorf("save notification flags: %w", err)
		}
	}

	return fired, nil
}

// morningDue reports whether the day-of notification should fire: the
// event starts today in the reference time zone, it is at or past the
// morning hour, and the notification has not been sent.
func (s *Scheduler) morningDue(ev *models.Event, nowLocal time.Time) bool {
	if ev.NotifiedMorning {
		return false
	}
	startLocal := ev.StartDate.In(s.local)
	sameDay := startLocal.Year() == nowLocal.Year() && startLocal.YearDay() == nowLocal.YearDay()
	return sameDay && nowLocal.Hour() >= morningHour
}

// hourBeforeDue reports whether the event starts within the next hour.
// An event that already started never fires this trigger.
func (s *Scheduler) hourBeforeDue(ev *models.Event, nowUTC time.Time) bool {
	if ev.NotifiedHourBefore {
		return false
	}
	until := ev.StartDate.Sub(nowUTC)
	return until > 0 && until <= time.Hour
}

// send delivers one notification and reports success. A transport error
// is logged and isolated: it neither sets the flag (so the next tick
// retries) nor stops evaluation of the remaining events.
func (s *Scheduler) send(ctx context.Context, ev *models.Event, trigger string) bool {
	title, body := s.message(ev, trigger)

	delivered, err := s.sink.Send(ctx, title, body)
	if err != nil {
		metrics.NotificationsFailed.WithLabelValues(trigger).Inc()
		s.log.Error("push send failed", map[string]interface{}{
			"error":   err,
			"eventId": ev.ID,
			"trigger": trigger,
		})
		return false
	}

	metrics.NotificationsSent.WithLabelValues(trigger).Inc()
	s.log.Info("notification sent", map[string]interface{}{
		"eventId":   ev.ID,
		"trigger":   trigger,
		"title":     title,
		"delivered": delivered,
	})
	return true
}

func (s *Scheduler) message(ev *models.Event, trigger string) (string, string) {
	location := ""
	if ev.Location != "" {
		location = " at " + ev.Location
	}

	switch trigger {
	case TriggerMorning:
		startLocal := ev.StartDate.In(s.local)
		return fmt.Sprintf("Today: %s", ev.Title),
			fmt.Sprintf("Join us today at %s%s!", startLocal.Format("03:04 PM"), location)
	default:
		return fmt.Sprintf("Starting Soon: %s", ev.Title),
			fmt.Sprintf("We're setting up now%s. See you in about an hour!", location)
	}
}
