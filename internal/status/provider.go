package status

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Fetcher reads the backend's migration status for a user
type Fetcher interface {
	MigrationStatus(ctx context.Context, userID string) (bool, error)
}

// LegacyFunds is what is known about the legacy smart wallet's balances
type LegacyFunds int

const (
	FundsUnknown LegacyFunds = iota
	FundsEmpty
	FundsPresent
)

// WalletState is the wallet context of one user
type WalletState struct {
	UserID string
	EOA    common.Address
	// Legacy is the zero address when the user never had a smart wallet.
	Legacy      common.Address
	LegacyFunds LegacyFunds
}

func (w WalletState) HasLegacy() bool {
	return w.Legacy != (common.Address{})
}

type entry struct {
	completed bool
	fetchedAt time.Time
}

// Provider answers which wallet a user should be addressed by. Statuses are
// cached for ttl; a completed migration is cached until invalidated.
type Provider struct {
	fetcher Fetcher
	ttl     time.Duration
	logger  *zerolog.Logger

	mu       sync.RWMutex
	entries  map[string]entry
	// gens is bumped by Invalidate so fetches started earlier do not
	// repopulate the cache.
	gens     map[string]uint64
	inflight singleflight.Group
	now      func() time.Time
}

func NewProvider(fetcher Fetcher, ttl time.Duration, logger *zerolog.Logger) *Provider {
	return &Provider{
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
		now:     time.Now,
	}
}

// MigrationCompleted returns the user's migration status. When the backend
// cannot be reached a previously fetched value is served instead.
func (p *Provider) MigrationCompleted(ctx context.Context, userID string) (bool, error) {
	p.mu.RLock()
	cached, ok := p.entries[userID]
	p.mu.RUnlock()
	if ok && (cached.completed || p.now().Sub(cached.fetchedAt) < p.ttl) {
		return cached.completed, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := p.inflight.DoChan(userID, func() (interface{}, error) {
		p.mu.RLock()
		gen := p.gens[userID]
		p.mu.RUnlock()

		completed, err := p.fetcher.MigrationStatus(shared, userID)
		if err != nil {
			return false, err
		}
		p.mu.Lock()
		if p.gens[userID] == gen {
			p.entries[userID] = entry{completed: completed, fetchedAt: p.now()}
		}
		p.mu.Unlock()
		return completed, nil
	})

	select {
	case <-ctx.Done():
		if ok {
			return cached.completed, nil
		}
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if ok {
				p.logger.Warn().
					Err(res.Err).
					Str("userId", userID).
					Msg("Migration status fetch failed, serving cached value")
				return cached.completed, nil
			}
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

// Invalidate forces the next lookup for userID to hit the backend.
func (p *Provider) Invalidate(userID string) {
	p.mu.Lock()
	delete(p.entries, userID)
	p.gens[userID]++
	p.mu.Unlock()
	p.inflight.Forget(userID)
}

// ShouldUseEOA reports whether the user should be addressed by the new
// wallet. A failed status lookup falls back to the legacy wallet unless it
// is known to hold nothing.
func (p *Provider) ShouldUseEOA(ctx context.Context, state WalletState) bool {
	if !state.HasLegacy() {
		return true
	}
	completed, err := p.MigrationCompleted(ctx, state.UserID)
	if err != nil {
		p.logger.Debug().
			Err(err).
			Str("userId", state.UserID).
			Msg("Migration status unknown")
		return state.LegacyFunds == FundsEmpty
	}
	return completed
}

// ActiveAddress returns the address the user acts with.
func (p *Provider) ActiveAddress(ctx context.Context, state WalletState) common.Address {
	if p.ShouldUseEOA(ctx, state) {
		return state.EOA
	}
	return state.Legacy
}
