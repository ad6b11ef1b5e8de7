package networks

import (
	"wallet-migrator/internal/config"
	"wallet-migrator/internal/models"
)

// Registry is the immutable set of networks a migration runs against
type Registry struct {
	ordered []models.NetworkDescriptor
	byName  map[models.NetworkName]int
}

// New builds a registry from the built-in descriptors, applying per-network
// overrides. When enabled is non-empty only those networks are registered.
func New(overrides map[models.NetworkName]config.NetworkConfig, enabled []models.NetworkName) *Registry {
	names := enabled
	if len(names) == 0 {
		names = models.AllNetworks
	}

	var descriptors []models.NetworkDescriptor
	for _, name := range names {
		desc, ok := defaultDescriptors[name]
		if !ok {
			continue
		}
		descriptors = append(descriptors, applyOverride(desc, overrides[name]))
	}
	return FromDescriptors(descriptors...)
}

// FromDescriptors builds a registry from explicit descriptors, keeping order.
func FromDescriptors(descriptors ...models.NetworkDescriptor) *Registry {
	r := &Registry{byName: make(map[models.NetworkName]int, len(descriptors))}
	for _, d := range descriptors {
		if _, dup := r.byName[d.Name]; dup {
			continue
		}
		d.Tokens = append([]models.Token(nil), d.Tokens...)
		r.byName[d.Name] = len(r.ordered)
		r.ordered = append(r.ordered, d)
	}
	return r
}

func applyOverride(desc models.NetworkDescriptor, cfg config.NetworkConfig) models.NetworkDescriptor {
	if cfg.RpcEndpoint != "" {
		desc.RpcEndpoint = cfg.RpcEndpoint
	}
	if cfg.ExplorerBaseURL != "" {
		desc.ExplorerBaseURL = cfg.ExplorerBaseURL
	}
	desc.ApiKey = cfg.ApiKey
	desc.RateLimit = cfg.RateLimit
	desc.BundlerURL = cfg.BundlerURL
	desc.PaymasterURL = cfg.PaymasterURL
	if desc.PaymasterURL == "" {
		desc.PaymasterURL = desc.BundlerURL
	}
	return desc
}

// All returns the registered networks in registry order.
func (r *Registry) All() []models.NetworkDescriptor {
	out := make([]models.NetworkDescriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) Get(name models.NetworkName) (models.NetworkDescriptor, bool) {
	i, ok := r.byName[name]
	if !ok {
		return models.NetworkDescriptor{}, false
	}
	return r.ordered[i], true
}

func (r *Registry) ByChainID(chainID uint64) (models.NetworkDescriptor, bool) {
	for _, d := range r.ordered {
		if d.ChainID == chainID {
			return d, true
		}
	}
	return models.NetworkDescriptor{}, false
}

func (r *Registry) Names() []models.NetworkName {
	out := make([]models.NetworkName, 0, len(r.ordered))
	for _, d := range r.ordered {
		out = append(out, d.Name)
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.ordered)
}
