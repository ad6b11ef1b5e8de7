package balances

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"wallet-migrator/internal/interfaces"
	"wallet-migrator/internal/models"
	"wallet-migrator/internal/networks"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// RateSource prices a network's pegged currency in USD
type RateSource interface {
	GetRate(ctx context.Context, network models.NetworkName) *decimal.Decimal
}

// Aggregator reads token balances for one address across every registered
// network. Concurrent calls for the same address share one fetch.
type Aggregator struct {
	registry *networks.Registry
	chains   interfaces.ChainProvider
	rates    RateSource
	logger   *zerolog.Logger

	inflight singleflight.Group
	now      func() time.Time
}

func NewAggregator(registry *networks.Registry, chains interfaces.ChainProvider, rates RateSource, logger *zerolog.Logger) *Aggregator {
	return &Aggregator{
		registry: registry,
		chains:   chains,
		rates:    rates,
		logger:   logger,
		now:      time.Now,
	}
}

// FetchAllNetworkBalances returns one snapshot per registered network, in
// registry order. Failures are recorded on the snapshot and never returned.
func (a *Aggregator) FetchAllNetworkBalances(ctx context.Context, address common.Address) []models.BalanceSnapshot {
	key := strings.ToLower(address.Hex())

	// The shared fetch must outlive any single caller's cancellation.
	shared := context.WithoutCancel(ctx)
	ch := a.inflight.DoChan(key, func() (interface{}, error) {
		return a.fetchAll(shared, address), nil
	})

	select {
	case <-ctx.Done():
		return a.failAll(address, ctx.Err())
	case res := <-ch:
		snapshots := res.Val.([]models.BalanceSnapshot)
		out := make([]models.BalanceSnapshot, len(snapshots))
		for i, s := range snapshots {
			out[i] = s.Clone()
		}
		return out
	}
}

func (a *Aggregator) fetchAll(ctx context.Context, address common.Address) []models.BalanceSnapshot {
	descs := a.registry.All()
	snapshots := make([]models.BalanceSnapshot, len(descs))

	var wg sync.WaitGroup
	for i, desc := range descs {
		wg.Add(1)
		go func(i int, desc models.NetworkDescriptor) {
			defer wg.Done()
			snapshots[i] = a.fetchNetwork(ctx, desc, address)
		}(i, desc)
	}
	wg.Wait()

	failed := 0
	for _, s := range snapshots {
		if !s.OK() {
			failed++
		}
	}
	a.logger.Info().
		Str("address", address.Hex()).
		Int("networks", len(snapshots)).
		Int("failed", failed).
		Str("total", Total(snapshots).StringFixed(2)).
		Msg("Fetched balances")
	return snapshots
}

func (a *Aggregator) fetchNetwork(ctx context.Context, desc models.NetworkDescriptor, address common.Address) models.BalanceSnapshot {
	snapshot := models.BalanceSnapshot{
		Network:   desc.Name,
		ChainID:   desc.ChainID,
		Address:   address,
		Balances:  map[string]models.TokenBalance{},
		Total:     decimal.Zero,
		FetchedAt: a.now(),
	}

	balances, err := a.readBalances(ctx, desc, address)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("network", desc.Name.String()).
			Str("address", address.Hex()).
			Msg("Failed to fetch network balances")
		snapshot.Err = err
		return snapshot
	}
	snapshot.Balances = balances

	var rate *decimal.Decimal
	rateLoaded := false
	for _, b := range balances {
		if !b.Token.IsPegged() {
			snapshot.Total = snapshot.Total.Add(b.Amount)
			continue
		}
		if b.Amount.IsZero() {
			continue
		}
		if !rateLoaded {
			if a.rates != nil {
				rate = a.rates.GetRate(ctx, desc.Name)
			}
			rateLoaded = true
		}
		if rate == nil || rate.Sign() <= 0 {
			snapshot.Total = snapshot.Total.Add(b.Amount)
			snapshot.Approximate = true
			continue
		}
		snapshot.Total = snapshot.Total.Add(b.Amount.Div(*rate))
	}
	return snapshot
}

// readBalances fails as a whole when any token read fails so a snapshot is
// never partially populated.
func (a *Aggregator) readBalances(ctx context.Context, desc models.NetworkDescriptor, address common.Address) (map[string]models.TokenBalance, error) {
	client, err := a.chains.Get(ctx, desc.Name)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.TokenBalance, len(desc.Tokens))
	for _, token := range desc.Tokens {
		raw, err := client.TokenBalance(ctx, token.Address, address)
		if err != nil {
			return nil, fmt.Errorf("%s balance: %w", token.Symbol, err)
		}
		decimals, err := client.TokenDecimals(ctx, token.Address)
		if err != nil {
			return nil, fmt.Errorf("%s decimals: %w", token.Symbol, err)
		}
		out[token.Symbol] = models.TokenBalance{
			Token:    token,
			Decimals: decimals,
			Amount:   decimal.NewFromBigInt(raw, -int32(decimals)),
		}
	}
	return out, nil
}

func (a *Aggregator) failAll(address common.Address, err error) []models.BalanceSnapshot {
	descs := a.registry.All()
	out := make([]models.BalanceSnapshot, len(descs))
	for i, desc := range descs {
		out[i] = models.BalanceSnapshot{
			Network:   desc.Name,
			ChainID:   desc.ChainID,
			Address:   address,
			Balances:  map[string]models.TokenBalance{},
			Total:     decimal.Zero,
			Err:       err,
			FetchedAt: a.now(),
		}
	}
	return out
}

// Total sums the USD-equivalent totals of successful snapshots.
func Total(snapshots []models.BalanceSnapshot) decimal.Decimal {
	total := decimal.Zero
	for _, s := range snapshots {
		if s.OK() {
			total = total.Add(s.Total)
		}
	}
	return total
}

func AllFailed(snapshots []models.BalanceSnapshot) bool {
	for _, s := range snapshots {
		if s.OK() {
			return false
		}
	}
	return true
}

func AnyFailed(snapshots []models.BalanceSnapshot) bool {
	for _, s := range snapshots {
		if !s.OK() {
			return true
		}
	}
	return false
}

// Approximate reports whether any snapshot total includes an unconverted amount.
func Approximate(snapshots []models.BalanceSnapshot) bool {
	for _, s := range snapshots {
		if s.Approximate {
			return true
		}
	}
	return false
}

// WithFunds returns the successful snapshots holding a non-zero token balance.
func WithFunds(snapshots []models.BalanceSnapshot) []models.BalanceSnapshot {
	var out []models.BalanceSnapshot
	for _, s := range snapshots {
		if s.HasFunds() {
			out = append(out, s)
		}
	}
	return out
}

// CloneAll deep-copies a snapshot slice.
func CloneAll(snapshots []models.BalanceSnapshot) []models.BalanceSnapshot {
	if snapshots == nil {
		return nil
	}
	out := make([]models.BalanceSnapshot, len(snapshots))
	for i, s := range snapshots {
		out[i] = s.Clone()
	}
	return out
}
