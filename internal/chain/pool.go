package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wallet-migrator/internal/interfaces"
	"wallet-migrator/internal/models"
	"wallet-migrator/internal/networks"

	"github.com/rs/zerolog"
)

var _ interfaces.ChainProvider = (*Pool)(nil)

// Pool lazily dials one Client per registered network
type Pool struct {
	registry *networks.Registry
	timeout  time.Duration
	logger   *zerolog.Logger

	mu      sync.Mutex
	clients map[models.NetworkName]*Client
}

func NewPool(registry *networks.Registry, timeout time.Duration, logger *zerolog.Logger) *Pool {
	return &Pool{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		clients:  make(map[models.NetworkName]*Client),
	}
}

// Get returns the client for a network, dialling it on first use.
func (p *Pool) Get(_ context.Context, network models.NetworkName) (interfaces.ChainClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[network]; ok {
		return c, nil
	}

	desc, ok := p.registry.Get(network)
	if !ok {
		return nil, fmt.Errorf("network %s is not registered", network)
	}

	c, err := Dial(desc, p.timeout, p.logger)
	if err != nil {
		return nil, err
	}
	p.clients[network] = c

	p.logger.Info().
		Str("network", network.String()).
		Msg("Connected to network RPC")
	return c, nil
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, c := range p.clients {
		c.Close()
		delete(p.clients, name)
	}
}
