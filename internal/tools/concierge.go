package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Damitimo/Google-Reserva/internal/booking"
	"github.com/Damitimo/Google-Reserva/pkg/live"
)

// Concierge owns the restaurant-reservation tool handlers and their
// shared booking store.
type Concierge struct {
	store booking.Store
	log   *slog.Logger

	slot      time.Duration
	openHour  int
	closeHour int

	now func() time.Time
}

// ConciergeOption configures a [Concierge].
type ConciergeOption func(*Concierge)

// WithHours overrides the dinner-service window used for alternative
// time suggestions.
func WithHours(openHour, closeHour int) ConciergeOption {
	return func(c *Concierge) {
		c.openHour = openHour
		c.closeHour = closeHour
	}
}

// WithSlotDuration overrides how long a reservation blocks the calendar.
func WithSlotDuration(d time.Duration) ConciergeOption {
	return func(c *Concierge) {
		if d > 0 {
			c.slot = d
		}
	}
}

// WithConciergeLogger sets the logger. Defaults to [slog.Default].
func WithConciergeLogger(log *slog.Logger) ConciergeOption {
	return func(c *Concierge) { c.log = log }
}

func withClock(now func() time.Time) ConciergeOption {
	return func(c *Concierge) { c.now = now }
}

// NewConcierge returns a Concierge backed by store.
func NewConcierge(store booking.Store, opts ...ConciergeOption) *Concierge {
	c := &Concierge{
		store:     store,
		log:       slog.Default(),
		slot:      booking.DefaultSlotDuration,
		openHour:  booking.DefaultOpenHour,
		closeHour: booking.DefaultCloseHour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterAll registers the four concierge tools on r.
func (c *Concierge) RegisterAll(r *Registry) {
	r.Register(checkCalendarDecl, c.CheckCalendar)
	r.Register(makeReservationDecl, c.MakeReservation)
	r.Register(processPaymentDecl, c.ProcessPayment)
	r.Register(setReminderDecl, c.SetReminder)
}

// CheckCalendar handles the check_calendar tool: it resolves the spoken
// date and time, pulls that day's events and reports a conflict with
// alternative suggestions, or a free slot.
func (c *Concierge) CheckCalendar(ctx context.Context, args map[string]any) (map[string]any, error) {
	date := stringArg(args, "date")
	if date == "" {
		date = "tomorrow"
	}
	timeStr := stringArg(args, "time")
	if timeStr == "" {
		timeStr = "7pm"
	}

	requested := booking.ParseDateTime(date, timeStr, c.now())
	dayStart := time.Date(requested.Year(), requested.Month(), requested.Day(), 0, 0, 0, 0, requested.Location())

	events, err := c.store.Events(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("tools: check calendar: %w", err)
	}

	avail := booking.CheckAvailability(events, requested, c.slot, c.openHour, c.closeHour)
	if avail.Available {
		return map[string]any{
			"available": true,
			"message":   "The user is free at this time.",
		}, nil
	}

	conflictTitle := "another event"
	if avail.Conflict != nil {
		conflictTitle = avail.Conflict.Title
	}
	return map[string]any{
		"available":      false,
		"conflict":       conflictTitle,
		"suggestedTimes": avail.SuggestedTimes,
		"message": fmt.Sprintf("The user has %q at that time. Suggest these alternative times: %s",
			conflictTitle, strings.Join(avail.SuggestedTimes, ", ")),
	}, nil
}

// MakeReservation handles the make_reservation tool. The confirmed
// booking is persisted along with a calendar event so later
// check_calendar calls see it.
func (c *Concierge) MakeReservation(ctx context.Context, args map[string]any) (map[string]any, error) {
	restaurant := stringArg(args, "restaurant_name")
	date := stringArg(args, "date")
	timeStr := stringArg(args, "time")
	if restaurant == "" || date == "" || timeStr == "" {
		return nil, fmt.Errorf("tools: make reservation: restaurant_name, date and time are required")
	}
	partySize := 2
	if n, ok := numberArg(args, "party_size"); ok && n > 0 {
		partySize = int(n)
	}

	now := c.now()
	confirmation := fmt.Sprintf("RES%06d", now.UnixMilli()%1_000_000)

	res := booking.Reservation{
		Confirmation:    confirmation,
		Restaurant:      restaurant,
		Date:            date,
		Time:            timeStr,
		PartySize:       partySize,
		SpecialRequests: stringArg(args, "special_requests"),
		CreatedAt:       now,
	}
	if err := c.store.CreateReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("tools: make reservation: %w", err)
	}

	start := booking.ParseDateTime(date, timeStr, now)
	ev := booking.Event{
		Title: fmt.Sprintf("Dinner at %s", restaurant),
		Start: start,
		End:   start.Add(c.slot),
	}
	if err := c.store.AddEvent(ctx, ev); err != nil {
		// The reservation itself succeeded; a missing calendar entry is
		// not worth failing the call over.
		c.log.Warn("could not add reservation to calendar", "error", err)
	}

	c.log.Info("reservation confirmed",
		"restaurant", restaurant, "date", date, "time", timeStr,
		"party_size", partySize, "confirmation", confirmation)

	return map[string]any{
		"success":            true,
		"confirmationNumber": confirmation,
		"restaurant":         restaurant,
		"date":               date,
		"time":               timeStr,
		"partySize":          partySize,
		"message":            fmt.Sprintf("Reservation confirmed! Confirmation number: %s", confirmation),
	}, nil
}

// ProcessPayment handles the process_payment tool. Charges are
// simulated against a card ending in 4242 and recorded for the session.
func (c *Concierge) ProcessPayment(ctx context.Context, args map[string]any) (map[string]any, error) {
	amount, ok := numberArg(args, "amount")
	if !ok || amount <= 0 {
		return nil, fmt.Errorf("tools: process payment: a positive amount is required")
	}

	p := booking.Payment{
		Amount:      amount,
		Description: stringArg(args, "description"),
		Last4:       "4242",
		CreatedAt:   c.now(),
	}
	if err := c.store.RecordPayment(ctx, p); err != nil {
		return nil, fmt.Errorf("tools: process payment: %w", err)
	}

	c.log.Info("payment processed", "amount", amount, "description", p.Description)

	return map[string]any{
		"success": true,
		"amount":  amount,
		"last4":   "4242",
		"message": fmt.Sprintf("Successfully charged $%.2f to card ending in 4242.", amount),
	}, nil
}

// SetReminder handles the set_reminder tool.
func (c *Concierge) SetReminder(ctx context.Context, args map[string]any) (map[string]any, error) {
	text := stringArg(args, "reminder_text")
	if text == "" {
		return nil, fmt.Errorf("tools: set reminder: reminder_text is required")
	}

	rem := booking.Reminder{Text: text, CreatedAt: c.now()}
	if mins, ok := numberArg(args, "remind_before_minutes"); ok && mins > 0 {
		rem.RemindBefore = time.Duration(mins) * time.Minute
	}
	if err := c.store.AddReminder(ctx, rem); err != nil {
		return nil, fmt.Errorf("tools: set reminder: %w", err)
	}

	c.log.Info("reminder set", "text", text, "remind_before", rem.RemindBefore)

	return map[string]any{
		"success":      true,
		"reminderText": text,
		"message":      fmt.Sprintf("Reminder set: %q", text),
	}, nil
}

// ── Declarations ─────────────────────────────────────────────────────────────

var checkCalendarDecl = live.ToolDeclaration{
	Name: "check_calendar",
	Description: "Check if the user is free at a specific date and time. " +
		"Always call this before confirming a reservation.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date": map[string]any{
				"type":        "string",
				"description": `The date to check (e.g., "tomorrow", "Friday", "2024-03-15")`,
			},
			"time": map[string]any{
				"type":        "string",
				"description": `The time to check (e.g., "7pm", "19:30")`,
			},
		},
		"required": []string{"date", "time"},
	},
}

var makeReservationDecl = live.ToolDeclaration{
	Name: "make_reservation",
	Description: "Complete a restaurant reservation after confirming availability " +
		"and getting user approval.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"restaurant_name": map[string]any{"type": "string", "description": "Name of the restaurant"},
			"date":            map[string]any{"type": "string", "description": "Reservation date"},
			"time":            map[string]any{"type": "string", "description": "Reservation time"},
			"party_size":      map[string]any{"type": "number", "description": "Number of guests"},
			"special_requests": map[string]any{
				"type":        "string",
				"description": "Any special requests or dietary restrictions",
			},
		},
		"required": []string{"restaurant_name", "date", "time", "party_size"},
	},
}

var processPaymentDecl = live.ToolDeclaration{
	Name:        "process_payment",
	Description: "Process payment for a reservation deposit or prepayment.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"amount":      map[string]any{"type": "number", "description": "Amount to charge in dollars"},
			"description": map[string]any{"type": "string", "description": "Payment description"},
		},
		"required": []string{"amount"},
	},
}

var setReminderDecl = live.ToolDeclaration{
	Name:        "set_reminder",
	Description: "Set a reminder for the user (e.g., to cancel reservation if plans change).",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reminder_text": map[string]any{
				"type":        "string",
				"description": "What to remind the user about",
			},
			"remind_before_minutes": map[string]any{
				"type":        "number",
				"description": "How many minutes before the event to remind",
			},
		},
		"required": []string{"reminder_text"},
	},
}
