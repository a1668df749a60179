package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector keeps a voice session running: it starts the session and,
// when the transport drops it, restarts with exponential backoff. A
// clean shutdown via ctx cancellation is not retried, and a missing API
// key is treated as permanent.
type Reconnector struct {
	session    *Session
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	log        *slog.Logger
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// MaxRetries is the number of consecutive failed restarts before
	// giving up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial delay between restart attempts. Doubles
	// each attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the restart delay. Defaults to
	// 30s if zero.
	MaxBackoff time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// NewReconnector wraps session with restart supervision.
func NewReconnector(session *Session, cfg ReconnectorConfig) *Reconnector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconnector{
		session:    session,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		log:        cfg.Logger,
	}
}

// Run blocks until ctx is cancelled or the retry budget is exhausted.
// Each successful session resets the budget.
func (r *Reconnector) Run(ctx context.Context) error {
	retries := 0
	backoff := r.backoff

	for {
		err := r.session.Start(ctx)
		switch {
		case err == nil:
			retries = 0
			backoff = r.backoff

			select {
			case <-ctx.Done():
				if closeErr := r.session.Close(); closeErr != nil {
					r.log.Warn("session close error", "err", closeErr)
				}
				return ctx.Err()
			case <-r.session.Done():
				r.log.Warn("voice session dropped, reconnecting")
			}

		case errors.Is(err, ErrNoAPIKey):
			return err

		case ctx.Err() != nil:
			return ctx.Err()

		default:
			r.log.Warn("voice session start failed", "err", err, "attempt", retries+1)
		}

		retries++
		if retries > r.maxRetries {
			return fmt.Errorf("voice: giving up after %d reconnect attempts", r.maxRetries)
		}

		r.log.Info("retrying voice session", "backoff", backoff, "attempt", retries)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, r.maxBackoff)
	}
}
