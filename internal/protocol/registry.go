package protocol

import (
	"fmt"

	"github.com/card-capture/ccd/internal/config"
	"github.com/card-capture/ccd/internal/transport"
)

// Registry holds one adapter per configured protocol version.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds adapters for every version in the service config.
func NewRegistry(service config.ServiceConfig, client *transport.Client, opener URLOpener) *Registry {
	adapters := make(map[string]Adapter, len(service.Versions))
	for id, cfg := range service.Versions {
		switch id {
		case config.VersionDebug:
			adapters[id] = NewDebugAdapter(cfg, opener)
		case config.VersionStandard:
			adapters[id] = NewStandardAdapter(cfg, client)
		case config.VersionCardFirst:
			adapters[id] = NewCardFirstAdapter(cfg, client)
		}
	}
	return &Registry{adapters: adapters}
}

// Get returns the adapter for a version ID.
func (r *Registry) Get(id string) (Adapter, error) {
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("unknown protocol version %q", id)
	}
	return adapter, nil
}

// IDs lists the registered version IDs.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}
