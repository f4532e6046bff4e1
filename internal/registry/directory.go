package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sonatahq/sonata/internal/backend"
	"github.com/sonatahq/sonata/internal/events"
	"github.com/sonatahq/sonata/internal/logging"
	"github.com/sonatahq/sonata/pkg/models"
)

// ErrServiceNotFound is returned when an unknown service ID is requested.
var ErrServiceNotFound = errors.New("service not found")

// Directory resolves service IDs to running backend services and feeds the
// capability registry at registration time. Capability probing is decided
// once per registration: services implementing backend.CapabilityProvider
// declare their own capabilities, everything else falls back to the static
// table.
type Directory struct {
	mu       sync.RWMutex
	services map[string]backend.Service

	registry *Registry
	static   StaticTable
	emitter  *events.Emitter
	logger   logging.Logger
}

// NewDirectory creates a directory feeding the given registry. The static
// table supplies capabilities for services that do not declare their own;
// emitter and logger may be nil.
func NewDirectory(reg *Registry, static StaticTable, emitter *events.Emitter, logger logging.Logger) *Directory {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Directory{
		services: make(map[string]backend.Service),
		registry: reg,
		static:   static,
		emitter:  emitter,
		logger:   logger,
	}
}

// RegisterService adds a service to the directory and registers its
// capabilities. Returns an error when neither the service nor the static
// table declares any capability for it.
func (d *Directory) RegisterService(svc backend.Service) error {
	caps := d.capabilitiesFor(svc)
	if len(caps) == 0 {
		return fmt.Errorf("service %s declares no capabilities and has no static table entry", svc.ID())
	}

	d.mu.Lock()
	d.services[svc.ID()] = svc
	d.mu.Unlock()

	d.registry.Register(svc.ID(), caps)
	d.logger.Info("service registered", "service_id", svc.ID(), "capabilities", len(caps))

	if d.emitter != nil {
		ev := events.New(events.TypeServiceLoaded)
		ev.ServiceID = svc.ID()
		ev.Metrics = map[string]float64{"capabilities": float64(len(caps))}
		d.emitter.Emit(ev)
	}
	return nil
}

// capabilitiesFor probes the optional capability interface, falling back to
// the static table.
func (d *Directory) capabilitiesFor(svc backend.Service) []models.ModelCapability {
	if provider, ok := svc.(backend.CapabilityProvider); ok {
		if caps := provider.GetCapabilities(); len(caps) > 0 {
			return caps
		}
	}
	return d.static[svc.ID()]
}

// ListServiceIDs returns the IDs of all registered services.
func (d *Directory) ListServiceIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.services))
	for id := range d.services {
		ids = append(ids, id)
	}
	return ids
}

// GetService returns the service for the ID or ErrServiceNotFound.
func (d *Directory) GetService(id string) (backend.Service, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	svc, ok := d.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	return svc, nil
}

// ReloadStatic swaps the static table and re-registers capabilities for
// every directory service that relies on it. Services declaring their own
// capabilities are unaffected.
func (d *Directory) ReloadStatic(static StaticTable) {
	d.mu.Lock()
	d.static = static
	services := make([]backend.Service, 0, len(d.services))
	for _, svc := range d.services {
		services = append(services, svc)
	}
	d.mu.Unlock()

	for _, svc := range services {
		if _, ok := svc.(backend.CapabilityProvider); ok {
			continue
		}
		if caps := static[svc.ID()]; len(caps) > 0 {
			d.registry.Register(svc.ID(), caps)
			d.logger.Info("static capabilities reloaded", "service_id", svc.ID())
		}
	}
}
