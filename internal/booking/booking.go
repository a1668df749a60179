// Package booking persists the concierge's reservation state: calendar
// events, confirmed reservations, reminders and simulated payments.
//
// Persistence sits behind the [Store] interface. [MemoryStore] is the
// default zero-setup implementation; [PostgresStore] is used when a DSN
// is configured. Calendar conflict detection lives in this package too
// ([CheckAvailability]) so the HTTP calendar endpoint and the
// check_calendar tool share one implementation.
package booking

import (
	"context"
	"time"
)

// Event is a single calendar entry the concierge checks reservations
// against.
type Event struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Reservation is a confirmed restaurant booking.
type Reservation struct {
	ID              string    `json:"id"`
	Confirmation    string    `json:"confirmationNumber"`
	Restaurant      string    `json:"restaurant"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	PartySize       int       `json:"partySize"`
	SpecialRequests string    `json:"specialRequests,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Reminder is a note the user asked to be reminded about, typically to
// cancel a reservation if plans change.
type Reminder struct {
	ID           string        `json:"id"`
	Text         string        `json:"text"`
	RemindBefore time.Duration `json:"remindBefore"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Payment records a simulated deposit charge.
type Payment struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description,omitempty"`
	Last4       string    `json:"last4"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store is the persistence boundary for the booking domain.
// All methods are safe for concurrent use.
type Store interface {
	// AddEvent stores a calendar event. An empty ID is assigned one.
	AddEvent(ctx context.Context, ev Event) error
	// Events returns all events with Start in [from, to), ordered
	// chronologically.
	Events(ctx context.Context, from, to time.Time) ([]Event, error)

	// CreateReservation stores a confirmed reservation.
	CreateReservation(ctx context.Context, r Reservation) error
	// Reservations returns all reservations, newest first.
	Reservations(ctx context.Context) ([]Reservation, error)

	AddReminder(ctx context.Context, rem Reminder) error
	Reminders(ctx context.Context) ([]Reminder, error)

	RecordPayment(ctx context.Context, p Payment) error

	// Close releases any underlying resources.
	Close()
}
