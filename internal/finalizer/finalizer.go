package finalizer

import (
	"context"
	"fmt"
	"time"

	"wallet-migrator/internal/backend"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Deprecator records wallet deprecations on the backend
type Deprecator interface {
	Deprecate(ctx context.Context, req backend.DeprecateRequest) (*backend.DeprecateResponse, error)
}

// Finalizer marks the old wallet as replaced, retrying transient failures
type Finalizer struct {
	backend    Deprecator
	maxRetries int
	retryDelay time.Duration
	logger     *zerolog.Logger
}

func New(b Deprecator, maxRetries int, retryDelay time.Duration, logger *zerolog.Logger) *Finalizer {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Finalizer{backend: b, maxRetries: maxRetries, retryDelay: retryDelay, logger: logger}
}

// Finalize sends the deprecation record. txHash is null when no batch
// confirmed, otherwise the first confirmed hash; all of them go in txHashes.
func (f *Finalizer) Finalize(ctx context.Context, userID string, oldAddress, newAddress common.Address, txHashes []string) error {
	req := backend.DeprecateRequest{
		OldAddress: oldAddress.Hex(),
		NewAddress: newAddress.Hex(),
		TxHashes:   append([]string{}, txHashes...),
		UserID:     userID,
	}
	if len(txHashes) > 0 {
		first := txHashes[0]
		req.TxHash = &first
	}

	var err error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		var resp *backend.DeprecateResponse
		resp, err = f.backend.Deprecate(ctx, req)
		if err == nil {
			f.logger.Info().
				Str("userId", userID).
				Str("oldAddress", req.OldAddress).
				Str("newAddress", req.NewAddress).
				Int("txHashes", len(req.TxHashes)).
				Bool("created", resp.Created).
				Msg("Old wallet deprecated")
			return nil
		}
		if !backend.IsTransient(err) || ctx.Err() != nil || attempt == f.maxRetries {
			break
		}

		f.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("Deprecate failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.retryDelay):
		}
	}
	return fmt.Errorf("finalize migration: %w", err)
}
