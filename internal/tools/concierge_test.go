package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Damitimo/Google-Reserva/internal/booking"
)

var testNow = time.Date(2026, time.March, 11, 12, 0, 0, 0, time.UTC)

func newTestConcierge(t *testing.T, seed bool) (*Concierge, *booking.MemoryStore) {
	t.Helper()
	store := booking.NewMemoryStore()
	if seed {
		store.SeedDemoEvents(testNow)
	}
	c := NewConcierge(store,
		WithConciergeLogger(discardLogger()),
		withClock(func() time.Time { return testNow }),
	)
	return c, store
}

func TestCheckCalendarFree(t *testing.T) {
	t.Parallel()

	c, _ := newTestConcierge(t, true)
	got, err := c.CheckCalendar(context.Background(), map[string]any{
		"date": "tomorrow",
		"time": "12pm",
	})
	if err != nil {
		t.Fatalf("CheckCalendar: %v", err)
	}
	if got["available"] != true {
		t.Errorf("response = %v, want available", got)
	}
}

func TestCheckCalendarConflict(t *testing.T) {
	t.Parallel()

	c, _ := newTestConcierge(t, true)
	got, err := c.CheckCalendar(context.Background(), map[string]any{
		"date": "tomorrow",
		"time": "7pm",
	})
	if err != nil {
		t.Fatalf("CheckCalendar: %v", err)
	}
	if got["available"] != false {
		t.Fatalf("response = %v, want a conflict with the 7pm dinner", got)
	}
	if got["conflict"] != "Dinner with Sarah" {
		t.Errorf("conflict = %v, want Dinner with Sarah", got["conflict"])
	}
	msg, _ := got["message"].(string)
	if !strings.Contains(msg, "Dinner with Sarah") || !strings.Contains(msg, "5:00 PM") {
		t.Errorf("message = %q, want the conflict and an alternative time", msg)
	}
}

func TestCheckCalendarDefaultsToTomorrowSevenPM(t *testing.T) {
	t.Parallel()

	c, _ := newTestConcierge(t, true)
	got, err := c.CheckCalendar(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("CheckCalendar: %v", err)
	}
	// Tomorrow 7pm collides with the seeded dinner.
	if got["available"] != false {
		t.Errorf("response = %v, want the default slot to hit the seeded dinner", got)
	}
}

func TestMakeReservation(t *testing.T) {
	t.Parallel()

	c, store := newTestConcierge(t, false)
	got, err := c.MakeReservation(context.Background(), map[string]any{
		"restaurant_name":  "Bestia",
		"date":             "tomorrow",
		"time":             "7pm",
		"party_size":       float64(4),
		"special_requests": "corner booth",
	})
	if err != nil {
		t.Fatalf("MakeReservation: %v", err)
	}
	if got["success"] != true {
		t.Fatalf("response = %v, want success", got)
	}
	conf, _ := got["confirmationNumber"].(string)
	if !strings.HasPrefix(conf, "RES") || len(conf) != 9 {
		t.Errorf("confirmationNumber = %q, want RES followed by six digits", conf)
	}

	reservations, err := store.Reservations(context.Background())
	if err != nil {
		t.Fatalf("Reservations: %v", err)
	}
	if len(reservations) != 1 {
		t.Fatalf("got %d stored reservations, want 1", len(reservations))
	}
	r := reservations[0]
	if r.Restaurant != "Bestia" || r.PartySize != 4 || r.SpecialRequests != "corner booth" {
		t.Errorf("stored reservation = %+v", r)
	}
	if r.Confirmation != conf {
		t.Errorf("stored confirmation %q != returned %q", r.Confirmation, conf)
	}

	// The booking also lands on the calendar, so the same slot now
	// conflicts.
	check, err := c.CheckCalendar(context.Background(), map[string]any{"date": "tomorrow", "time": "7pm"})
	if err != nil {
		t.Fatalf("CheckCalendar: %v", err)
	}
	if check["available"] != false {
		t.Errorf("slot still reads available after booking: %v", check)
	}
	if check["conflict"] != "Dinner at Bestia" {
		t.Errorf("conflict = %v, want the new booking", check["conflict"])
	}
}

func TestMakeReservationMissingArgs(t *testing.T) {
	t.Parallel()

	c, _ := newTestConcierge(t, false)
	if _, err := c.MakeReservation(context.Background(), map[string]any{"date": "tomorrow"}); err == nil {
		t.Fatal("expected an error without restaurant_name and time")
	}
}

func TestProcessPayment(t *testing.T) {
	t.Parallel()

	c, store := newTestConcierge(t, false)
	got, err := c.ProcessPayment(context.Background(), map[string]any{
		"amount":      float64(25),
		"description": "reservation deposit",
	})
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if got["success"] != true || got["last4"] != "4242" {
		t.Fatalf("response = %v, want a simulated charge on card 4242", got)
	}
	if got["message"] != "Successfully charged $25.00 to card ending in 4242." {
		t.Errorf("message = %v", got["message"])
	}

	payments := store.Payments()
	if len(payments) != 1 || payments[0].Amount != 25 {
		t.Errorf("stored payments = %+v", payments)
	}
}

func TestProcessPaymentRejectsMissingAmount(t *testing.T) {
	t.Parallel()

	c, _ := newTestConcierge(t, false)
	if _, err := c.ProcessPayment(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected an error without an amount")
	}
}

func TestSetReminder(t *testing.T) {
	t.Parallel()

	c, store := newTestConcierge(t, false)
	got, err := c.SetReminder(context.Background(), map[string]any{
		"reminder_text":         "Cancel Bestia if plans change",
		"remind_before_minutes": float64(60),
	})
	if err != nil {
		t.Fatalf("SetReminder: %v", err)
	}
	if got["success"] != true {
		t.Fatalf("response = %v, want success", got)
	}

	reminders, err := store.Reminders(context.Background())
	if err != nil {
		t.Fatalf("Reminders: %v", err)
	}
	if len(reminders) != 1 || reminders[0].RemindBefore != time.Hour {
		t.Fatalf("stored reminders = %+v", reminders)
	}
}

func TestRegisterAllAdvertisesFourTools(t *testing.T) {
	t.Parallel()

	c, _ := newTestConcierge(t, false)
	reg := NewRegistry(discardLogger())
	c.RegisterAll(reg)

	decls := reg.Declarations()
	if len(decls) != 4 {
		t.Fatalf("got %d declarations, want 4", len(decls))
	}
	want := []string{"check_calendar", "make_reservation", "process_payment", "set_reminder"}
	for i, name := range want {
		if decls[i].Name != name {
			t.Errorf("decls[%d] = %q, want %q", i, decls[i].Name, name)
		}
	}
}
