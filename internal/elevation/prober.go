package elevation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/altiroute/altiroute_core/internal/models"
	"github.com/altiroute/altiroute_core/internal/provider"
)

// RegionalEstimatesEntry is the synthetic always-available status entry
const RegionalEstimatesEntry = "regional estimates"

const defaultProbeTimeout = 5 * time.Second

// Prober exercises every registered provider with a fixed test coordinate
// and reports availability. Purely diagnostic; it never touches route state.
type Prober struct {
	resolver *Resolver
	registry *provider.Registry
	refCoord models.Coordinate
	timeout  time.Duration
}

// NewProber creates a prober over the resolver's provider table.
// The reference coordinate defaults to central Toulouse.
func NewProber(resolver *Resolver, registry *provider.Registry) *Prober {
	return &Prober{
		resolver: resolver,
		registry: registry,
		refCoord: models.Coordinate{Lat: 43.6047, Lng: 1.4442},
		timeout:  defaultProbeTimeout,
	}
}

// ProbeAll checks every provider concurrently and partitions them into
// available and unavailable sets, regional estimates always first
func (p *Prober) ProbeAll(ctx context.Context) models.ServiceStatus {
	providers := p.registry.All()
	results := make([]models.ProviderStatus, len(providers))

	var wg sync.WaitGroup
	for i, desc := range providers {
		wg.Add(1)
		go func(i int, desc provider.Descriptor) {
			defer wg.Done()
			results[i] = p.probe(ctx, desc)
		}(i, desc)
	}
	wg.Wait()

	status := models.ServiceStatus{
		Available: []string{RegionalEstimatesEntry},
		Details: []models.ProviderStatus{
			{Name: RegionalEstimatesEntry, Available: true},
		},
		CheckedAt: time.Now().UTC(),
	}

	for _, r := range results {
		status.Details = append(status.Details, r)
		if r.Available {
			status.Available = append(status.Available, r.Name)
		} else {
			status.Unavailable = append(status.Unavailable, r.Name)
		}
	}

	return status
}

// probe runs a single provider attempt with the shorter probe timeout
func (p *Prober) probe(ctx context.Context, desc provider.Descriptor) models.ProviderStatus {
	probeDesc := desc
	probeDesc.Timeout = p.timeout

	_, failure := p.resolver.attempt(ctx, probeDesc, p.refCoord)
	if failure != nil {
		return models.ProviderStatus{
			Name:      string(desc.Key),
			Available: false,
			Reason:    fmt.Sprintf("%s: %s", failure.Kind, failure.Detail),
		}
	}

	return models.ProviderStatus{Name: string(desc.Key), Available: true}
}
