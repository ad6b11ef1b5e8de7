package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"wallet-migrator/internal/models"
	"wallet-migrator/internal/networks"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const cacheTTL = 5 * time.Minute

type latestRates struct {
	Result string                     `json:"result"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Resolver looks up how many units of a pegged currency one USD buys
type Resolver struct {
	baseURL  string
	apiKey   string
	registry *networks.Registry
	client   *http.Client
	logger   *zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedRate
	now   func() time.Time
}

func NewResolver(baseURL, apiKey string, timeout time.Duration, registry *networks.Registry, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		registry: registry,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		cache:    make(map[string]cachedRate),
		now:      time.Now,
	}
}

// GetRate returns the USD rate of the network's pegged currency, or nil when
// the network has none or the lookup fails.
func (r *Resolver) GetRate(ctx context.Context, network models.NetworkName) *decimal.Decimal {
	desc, ok := r.registry.Get(network)
	if !ok {
		return nil
	}
	currency := desc.PeggedCurrency()
	if currency == "" {
		return nil
	}

	r.mu.Lock()
	cached, ok := r.cache[currency]
	r.mu.Unlock()
	if ok && r.now().Sub(cached.fetchedAt) < cacheTTL {
		rate := cached.rate
		return &rate
	}

	rate, err := r.fetch(ctx, currency)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("network", network.String()).
			Str("currency", currency).
			Msg("Exchange rate unavailable")
		return nil
	}

	r.mu.Lock()
	r.cache[currency] = cachedRate{rate: rate, fetchedAt: r.now()}
	r.mu.Unlock()
	return &rate
}

func (r *Resolver) fetch(ctx context.Context, currency string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/latest/USD", nil)
	if err != nil {
		return decimal.Zero, err
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate service returned status: %d", resp.StatusCode)
	}

	var body latestRates
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode rates: %w", err)
	}
	if body.Result != "" && body.Result != "success" {
		return decimal.Zero, fmt.Errorf("rate service result: %s", body.Result)
	}

	rate, ok := body.Rates[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s", currency)
	}
	if rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("invalid rate for %s: %s", currency, rate)
	}
	return rate, nil
}
