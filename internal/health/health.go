package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"wallet-migrator/internal/interfaces"
	"wallet-migrator/internal/models"

	"github.com/rs/zerolog"
)

type NetworkStatus struct {
	Name      string    `json:"name"`
	LastBlock uint64    `json:"last_block"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is a dependency that must answer for the service to be ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker tracks readiness of the service and the networks it reads
type Checker struct {
	ready    int32
	mu       sync.RWMutex
	networks map[string]*NetworkStatus
	pingers  map[string]Pinger
	interval time.Duration
	logger   *zerolog.Logger
}

func NewChecker(interval time.Duration, logger *zerolog.Logger) *Checker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Checker{
		networks: make(map[string]*NetworkStatus),
		pingers:  make(map[string]Pinger),
		interval: interval,
		logger:   logger,
	}
}

func (c *Checker) SetReady(ready bool) {
	if ready {
		atomic.StoreInt32(&c.ready, 1)
	} else {
		atomic.StoreInt32(&c.ready, 0)
	}
}

// AddComponent registers a dependency checked on every readiness probe.
func (c *Checker) AddComponent(name string, p Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingers[name] = p
}

func (c *Checker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (c *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&c.ready) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready"))
		return
	}

	c.mu.RLock()
	pingers := make(map[string]Pinger, len(c.pingers))
	for name, p := range c.pingers {
		pingers[name] = p
	}
	networks := make([]NetworkStatus, 0, len(c.networks))
	for _, s := range c.networks {
		networks = append(networks, *s)
	}
	c.mu.RUnlock()
	sort.Slice(networks, func(i, j int) bool { return networks[i].Name < networks[j].Name })

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(pingers))
	for name, p := range pingers {
		if err := p.Ping(ctx); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	response := map[string]interface{}{
		"status":     "Ready",
		"components": components,
		"networks":   networks,
	}
	if status != http.StatusOK {
		response["status"] = "Not Ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// RegisterNetwork polls the network's block head until ctx is done.
// Network failures are reported but never affect readiness.
func (c *Checker) RegisterNetwork(ctx context.Context, name models.NetworkName, reader interfaces.ChainReader) {
	c.probe(ctx, name, reader)
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.probe(ctx, name, reader)
			}
		}
	}()
}

func (c *Checker) probe(ctx context.Context, name models.NetworkName, reader interfaces.ChainReader) {
	status := &NetworkStatus{Name: name.String(), CheckedAt: time.Now()}

	head, err := reader.BlockHead(ctx)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("network", name.String()).
			Msg("Error getting latest block")
		status.Error = err.Error()
		c.mu.RLock()
		if prev, ok := c.networks[name.String()]; ok {
			status.LastBlock = prev.LastBlock
		}
		c.mu.RUnlock()
	} else {
		status.LastBlock = head
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.networks[name.String()] = status
}

// Networks returns the latest status of every registered network.
func (c *Checker) Networks() map[string]NetworkStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]NetworkStatus, len(c.networks))
	for k, v := range c.networks {
		out[k] = *v
	}
	return out
}
