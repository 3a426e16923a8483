// internal/models/event.go
package models

import "time"

// Recurrence rules recognized by the expander. Anything else is treated
// as non-recurring.
const (
	RuleWeekly   = "weekly"
	RuleBiweekly = "biweekly"
	RuleMonthly  = "monthly"
)

// DefaultEventDuration is assumed when an event has no end date.
const DefaultEventDuration = 4 * time.Hour

// Event is a stored calendar record, possibly recurring, representing a
// pop-up market or an internal appointment.
type Event struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`

	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`

	Icon string `json:"icon"`

	IsRecurring       bool       `json:"is_recurring"`
	RecurrenceRule    string     `json:"recurrence_rule,omitempty"`
	RecurrenceEndDate *time.Time `json:"recurrence_end_date,omitempty"`

	IsActive bool `json:"is_active"`
	IsPopup  bool `json:"is_popup"`
	Notify   bool `json:"notify"`

	// Notification flags are monotonic: once true they are never reset by
	// the scheduler. Only an admin edit of start_date clears them.
	NotifiedMorning    bool `json:"-"`
	NotifiedHourBefore bool `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// Duration returns the event's length, falling back to the default when
// no end date is stored.
func (e *Event) Duration() time.Duration {
	if e.EndDate == nil {
		return DefaultEventDuration
	}
	return e.EndDate.Sub(e.StartDate)
}

// EventInstance is one concrete occurrence of a (possibly recurring)
// event within a display window. Instances are derived on demand and
// never persisted; notification state lives only on the parent Event.
type EventInstance struct {
	Event
	InstanceID string `json:"instance_id,omitempty"`
}
