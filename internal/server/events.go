package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "popup-events/internal/common/errors"
	"popup-events/internal/models"
	"popup-events/internal/recurrence"
)

type sentSummary struct {
	EventID int64  `json:"event_id"`
	Trigger string `json:"trigger"`
}

// handleCheckNotifications runs one notification cycle on demand. The
// Redis lock keeps a concurrent cron tick or a second caller from
// double-sending.
func (s *Server) handleCheckNotifications(w http.ResponseWriter, r *http.Request) {
	ok, err := s.guard.Acquire(r.Context())
	if err != nil {
		s.log.Error("acquire tick lock", map[string]interface{}{"error": err})
		s.writeError(w, http.StatusInternalServerError, "lock unavailable")
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"success": false,
			"error":   apperrors.NewTickAlreadyActiveError(),
		})
		return
	}
	defer func() {
		if err := s.guard.Release(r.Context()); err != nil {
			s.log.Warn("release tick lock", map[string]interface{}{"error": err})
		}
	}()

	sent, err := s.ticker.Tick(r.Context(), s.now())
	if err != nil {
		s.log.Error("notification tick", map[string]interface{}{"error": err})
		s.writeError(w, http.StatusInternalServerError, "notification check failed")
		return
	}

	summaries := make([]sentSummary, 0, len(sent))
	for _, n := range sent {
		summaries = append(summaries, sentSummary{EventID: n.EventID, Trigger: n.Trigger})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"run_id":             uuid.NewString(),
		"notifications_sent": summaries,
	})
}

// handlePublicEvents returns the display surface: active popup events
// with recurring ones expanded into concrete upcoming instances.
func (s *Server) handlePublicEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.ListPopups(r.Context())
	if err != nil {
		s.log.Error("list popup events", map[string]interface{}{"error": err})
		s.writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	now := s.now()
	until := now.AddDate(0, 0, s.cfg.Events.DisplayWindowDays)

	out := make([]models.EventInstance, 0, len(events))
	for _, ev := range events {
		if ev.IsRecurring && recurrence.KnownRule(ev.RecurrenceRule) {
			out = append(out, recurrence.Expand(&ev, now, until)...)
			continue
		}
		// One-off events, including rows with an unrecognized recurrence
		// rule, stay visible until they end.
		end := ev.StartDate
		if ev.EndDate != nil {
			end = *ev.EndDate
		}
		if end.Before(now) {
			continue
		}
		out = append(out, recurrence.Expand(&ev, now, until)...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.ListAll(r.Context())
	if err != nil {
		s.log.Error("list events", map[string]interface{}{"error": err})
		s.writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

type eventPayload struct {
	ID                *int64   `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Location          string   `json:"location"`
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	StartDate         string   `json:"start_date"`
	EndDate           string   `json:"end_date"`
	Icon              string   `json:"icon"`
	IsRecurring       bool     `json:"is_recurring"`
	RecurrenceRule    string   `json:"recurrence_rule"`
	RecurrenceEndDate string   `json:"recurrence_end_date"`
	IsActive          *bool    `json:"is_active"`
	IsPopup           *bool    `json:"is_popup"`
	Notify            *bool    `json:"notify"`
}

// handleUpsertEvent creates or updates an event. Editing a start date
// re-arms the notification flags so the moved event notifies again.
func (s *Server) handleUpsertEvent(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if errs := validateEventPayload(raw); len(errs) > 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   apperrors.NewEventValidationFailedError(strings.Join(errs, "; ")),
			"details": errs,
		})
		return
	}

	buf, _ := json.Marshal(raw)
	var p eventPayload
	if err := json.Unmarshal(buf, &p); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	if p.ID == nil {
		s.createEvent(w, r, &p, raw)
		return
	}
	s.updateEvent(w, r, *p.ID, &p, raw)
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request, p *eventPayload, raw map[string]interface{}) {
	ev, err := p.toEvent(&models.Event{IsActive: true, IsPopup: true, Notify: true}, raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.events.Create(r.Context(), ev); err != nil {
		s.log.Error("create event", map[string]interface{}{"error": err})
		s.writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}
	s.announce(r, ev)
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "event": ev})
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request, id int64, p *eventPayload, raw map[string]interface{}) {
	existing, err := s.events.GetByID(r.Context(), id)
	if err != nil {
		s.log.Error("load event", map[string]interface{}{"event_id": id, "error": err})
		s.writeError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	if existing == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": apperrors.NewEventNotFoundError(id)})
		return
	}

	prevStart := existing.StartDate
	ev, err := p.toEvent(existing, raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resetFlags := !ev.StartDate.Equal(prevStart)

	if err := s.events.Update(r.Context(), ev, resetFlags); err != nil {
		s.log.Error("update event", map[string]interface{}{"event_id": id, "error": err})
		s.writeError(w, http.StatusInternalServerError, "failed to update event")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "event": ev})
}

// announce pushes a one-time heads-up when a new active popup event is
// created, independent of the scheduled morning and hour-before sends.
func (s *Server) announce(r *http.Request, ev *models.Event) {
	if s.sink == nil || !ev.IsActive || !ev.IsPopup || !ev.Notify {
		return
	}
	title := s.cfg.Events.AnnounceTitle
	body := "New event: " + ev.Title
	if ev.Location != "" {
		body += " at " + ev.Location
	}
	if n, err := s.sink.Send(r.Context(), title, body); err != nil {
		s.log.Warn("announce push", map[string]interface{}{"event_id": ev.ID, "error": err})
	} else {
		s.log.Info("announce push sent", map[string]interface{}{"event_id": ev.ID, "devices": n})
	}
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	if err := s.events.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": apperrors.NewEventNotFoundError(id)})
			return
		}
		s.log.Error("delete event", map[string]interface{}{"event_id": id, "error": err})
		s.writeError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// toEvent folds the payload into base. Fields absent from the request
// keep their existing values so partial updates work.
func (p *eventPayload) toEvent(base *models.Event, raw map[string]interface{}) (*models.Event, error) {
	ev := *base

	if _, ok := raw["title"]; ok {
		ev.Title = p.Title
	}
	if ev.Title == "" {
		ev.Title = "New Event"
	}
	if _, ok := raw["description"]; ok {
		ev.Description = p.Description
	}
	if _, ok := raw["location"]; ok {
		ev.Location = p.Location
	}
	if _, ok := raw["latitude"]; ok {
		ev.Latitude = 0
		if p.Latitude != nil {
			ev.Latitude = *p.Latitude
		}
	}
	if _, ok := raw["longitude"]; ok {
		ev.Longitude = 0
		if p.Longitude != nil {
			ev.Longitude = *p.Longitude
		}
	}
	if _, ok := raw["icon"]; ok {
		ev.Icon = p.Icon
	}
	if _, ok := raw["is_recurring"]; ok {
		ev.IsRecurring = p.IsRecurring
	}
	if _, ok := raw["recurrence_rule"]; ok {
		ev.RecurrenceRule = p.RecurrenceRule
	}
	if p.IsActive != nil {
		ev.IsActive = *p.IsActive
	}
	if p.IsPopup != nil {
		ev.IsPopup = *p.IsPopup
	}
	if p.Notify != nil {
		ev.Notify = *p.Notify
	}

	if _, ok := raw["start_date"]; ok {
		t, err := parseEventTime(p.StartDate)
		if err != nil {
			return nil, err
		}
		ev.StartDate = t
	}
	if _, ok := raw["end_date"]; ok {
		if p.EndDate == "" {
			ev.EndDate = nil
		} else {
			t, err := parseEventTime(p.EndDate)
			if err != nil {
				return nil, err
			}
			ev.EndDate = &t
		}
	}
	if _, ok := raw["recurrence_end_date"]; ok {
		if p.RecurrenceEndDate == "" {
			ev.RecurrenceEndDate = nil
		} else {
			t, err := parseEventTime(p.RecurrenceEndDate)
			if err != nil {
				return nil, err
			}
			ev.RecurrenceEndDate = &t
		}
	}

	return &ev, nil
}

func parseEventTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t.UTC(), nil
	}
	// Date-only values come in from the admin form.
	t, err = time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errInvalidTimestamp(s)
	}
	return t.UTC(), nil
}
