package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process [Store] used when no postgres_dsn is
// configured. State is lost on restart.
type MemoryStore struct {
	mu           sync.RWMutex
	events       []Event
	reservations []Reservation
	reminders    []Reminder
	payments     []Payment
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SeedDemoEvents populates the store with the demo calendar used when no
// real calendar backend is wired up: a standup and a dinner tomorrow, a
// yoga class the day after.
func (m *MemoryStore) SeedDemoEvents(now time.Time) {
	day := func(offset, hour, min int) time.Time {
		d := now.AddDate(0, 0, offset)
		return time.Date(d.Year(), d.Month(), d.Day(), hour, min, 0, 0, now.Location())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events,
		Event{ID: "1", Title: "Team Standup", Start: day(1, 9, 0), End: day(1, 9, 30)},
		Event{ID: "2", Title: "Dinner with Sarah", Start: day(1, 19, 0), End: day(1, 21, 0)},
		Event{ID: "3", Title: "Yoga Class", Start: day(2, 18, 0), End: day(2, 19, 0)},
	)
}

// AddEvent implements [Store].
func (m *MemoryStore) AddEvent(_ context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events implements [Store].
func (m *MemoryStore) Events(_ context.Context, from, to time.Time) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, ev := range m.events {
		if !ev.Start.Before(from) && ev.Start.Before(to) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// CreateReservation implements [Store].
func (m *MemoryStore) CreateReservation(_ context.Context, r Reservation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations = append(m.reservations, r)
	return nil
}

// Reservations implements [Store].
func (m *MemoryStore) Reservations(_ context.Context) ([]Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reservation, len(m.reservations))
	copy(out, m.reservations)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AddReminder implements [Store].
func (m *MemoryStore) AddReminder(_ context.Context, rem Reminder) error {
	if rem.ID == "" {
		rem.ID = uuid.NewString()
	}
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders = append(m.reminders, rem)
	return nil
}

// Reminders implements [Store].
func (m *MemoryStore) Reminders(_ context.Context) ([]Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reminder, len(m.reminders))
	copy(out, m.reminders)
	return out, nil
}

// RecordPayment implements [Store].
func (m *MemoryStore) RecordPayment(_ context.Context, p Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, p)
	return nil
}

// Payments returns all recorded payments. Not part of [Store]; used by
// tests and diagnostics.
func (m *MemoryStore) Payments() []Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Payment, len(m.payments))
	copy(out, m.payments)
	return out
}

// Close implements [Store]. It is a no-op for the in-memory store.
func (m *MemoryStore) Close() {}
