package events

import (
	"context"
	"time"

	"wallet-migrator/internal/interfaces"
	"wallet-migrator/internal/models"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a forwarded tracking write.
const DefaultTimeout = 2 * time.Second

// TrackingEmitter logs migration events and forwards them to a wrapped
// emitter. Forwarding is best effort: failures are logged, never returned.
type TrackingEmitter struct {
	WrappedEmitter interfaces.EventEmitter
	Timeout        time.Duration
	Logger         *zerolog.Logger
}

func NewTrackingEmitter(wrapped interfaces.EventEmitter, timeout time.Duration, logger *zerolog.Logger) *TrackingEmitter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TrackingEmitter{WrappedEmitter: wrapped, Timeout: timeout, Logger: logger}
}

// EmitEvent logs the event and forwards it to the wrapped emitter
func (t *TrackingEmitter) EmitEvent(ctx context.Context, event models.MigrationEvent) error {
	entry := t.Logger.Info().
		Str("sessionId", event.SessionID).
		Str("userId", event.UserID).
		Str("step", event.Step).
		Time("timestamp", event.Timestamp)
	if event.FailureKind != "" {
		entry = entry.Str("failureKind", event.FailureKind).Str("error", event.Error)
	}
	if len(event.TxHashes) > 0 {
		entry = entry.Strs("txHashes", event.TxHashes)
	}
	entry.Msg("Migration event")

	if t.WrappedEmitter == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.Timeout)
	defer cancel()
	if err := t.WrappedEmitter.EmitEvent(ctx, event); err != nil {
		t.Logger.Warn().
			Err(err).
			Str("sessionId", event.SessionID).
			Str("step", event.Step).
			Msg("Failed to forward migration event")
	}
	return nil
}
