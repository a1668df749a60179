package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const ddlBooking = `
CREATE TABLE IF NOT EXISTS calendar_events (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL,
    start_at    TIMESTAMPTZ  NOT NULL,
    end_at      TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calendar_events_start_at
    ON calendar_events (start_at);

CREATE TABLE IF NOT EXISTS reservations (
    id               TEXT         PRIMARY KEY,
    confirmation     TEXT         NOT NULL,
    restaurant       TEXT         NOT NULL,
    date             TEXT         NOT NULL,
    time             TEXT         NOT NULL,
    party_size       INT          NOT NULL,
    special_requests TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reminders (
    id                TEXT         PRIMARY KEY,
    text              TEXT         NOT NULL,
    remind_before_ns  BIGINT       NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payments (
    id          TEXT         PRIMARY KEY,
    amount      DOUBLE PRECISION NOT NULL,
    description TEXT         NOT NULL DEFAULT '',
    last4       TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// PostgresStore is the [Store] implementation backed by a PostgreSQL
// database via pgx. All operations are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore establishes a connection pool to the database at dsn
// and runs [Migrate] to ensure all booking tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("booking: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("booking: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("booking: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("booking: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates all booking tables and indexes if they do not already
// exist. It is idempotent and safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlBooking); err != nil {
		return fmt.Errorf("booking: apply schema: %w", err)
	}
	return nil
}

// AddEvent implements [Store].
func (s *PostgresStore) AddEvent(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO calendar_events (id, title, start_at, end_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, start_at = EXCLUDED.start_at, end_at = EXCLUDED.end_at`

	if _, err := s.pool.Exec(ctx, q, ev.ID, ev.Title, ev.Start, ev.End); err != nil {
		return fmt.Errorf("booking: add event: %w", err)
	}
	return nil
}

// Events implements [Store].
func (s *PostgresStore) Events(ctx context.Context, from, to time.Time) ([]Event, error) {
	const q = `
		SELECT id, title, start_at, end_at
		FROM   calendar_events
		WHERE  start_at >= $1 AND start_at < $2
		ORDER  BY start_at`

	rows, err := s.pool.Query(ctx, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("booking: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Start, &ev.End); err != nil {
			return nil, fmt.Errorf("booking: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking: list events: %w", err)
	}
	return out, nil
}

// CreateReservation implements [Store].
func (s *PostgresStore) CreateReservation(ctx context.Context, r Reservation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	const q = `
		INSERT INTO reservations
		    (id, confirmation, restaurant, date, time, party_size, special_requests, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		r.ID, r.Confirmation, r.Restaurant, r.Date, r.Time, r.PartySize, r.SpecialRequests, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("booking: create reservation: %w", err)
	}
	return nil
}

// Reservations implements [Store].
func (s *PostgresStore) Reservations(ctx context.Context) ([]Reservation, error) {
	const q = `
		SELECT id, confirmation, restaurant, date, time, party_size, special_requests, created_at
		FROM   reservations
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("booking: list reservations: %w", err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.Confirmation, &r.Restaurant, &r.Date, &r.Time,
			&r.PartySize, &r.SpecialRequests, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("booking: scan reservation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking: list reservations: %w", err)
	}
	return out, nil
}

// AddReminder implements [Store].
func (s *PostgresStore) AddReminder(ctx context.Context, rem Reminder) error {
	if rem.ID == "" {
		rem.ID = uuid.NewString()
	}
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = time.Now()
	}
	const q = `
		INSERT INTO reminders (id, text, remind_before_ns, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, rem.ID, rem.Text, rem.RemindBefore.Nanoseconds(), rem.CreatedAt); err != nil {
		return fmt.Errorf("booking: add reminder: %w", err)
	}
	return nil
}

// Reminders implements [Store].
func (s *PostgresStore) Reminders(ctx context.Context) ([]Reminder, error) {
	const q = `
		SELECT id, text, remind_before_ns, created_at
		FROM   reminders
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("booking: list reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var (
			rem      Reminder
			beforeNS int64
		)
		if err := rows.Scan(&rem.ID, &rem.Text, &beforeNS, &rem.CreatedAt); err != nil {
			return nil, fmt.Errorf("booking: scan reminder: %w", err)
		}
		rem.RemindBefore = time.Duration(beforeNS)
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking: list reminders: %w", err)
	}
	return out, nil
}

// RecordPayment implements [Store].
func (s *PostgresStore) RecordPayment(ctx context.Context, p Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	const q = `
		INSERT INTO payments (id, amount, description, last4, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.pool.Exec(ctx, q, p.ID, p.Amount, p.Description, p.Last4, p.CreatedAt); err != nil {
		return fmt.Errorf("booking: record payment: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
