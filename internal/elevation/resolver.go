package elevation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/altiroute/altiroute_core/internal/models"
	"github.com/altiroute/altiroute_core/internal/provider"
	"github.com/altiroute/altiroute_core/internal/regional"
	"golang.org/x/time/rate"
)

const (
	// maxResponseBytes caps how much of a provider response we read
	maxResponseBytes = 1 << 20

	defaultRetryBackoff   = 1 * time.Second
	defaultRequestsPerSec = 5
)

// LookupCache caches resolved elevations keyed by coordinate and selector.
// The stored value carries the provider that actually answered, so a hit
// reports the same source a fresh resolve would. Implementations must be
// safe for concurrent use; a nil cache disables caching entirely.
type LookupCache interface {
	Get(ctx context.Context, lat, lng float64, key models.ElevationSource) (models.CachedElevation, bool)
	Set(ctx context.Context, lat, lng float64, key models.ElevationSource, value models.CachedElevation)
}

// LookupDeduper is optionally implemented by a LookupCache that can
// serialize concurrent identical lookups. BeginLookup reports whether the
// caller now owns the lookup; a non-owner calls AwaitLookup to pick up the
// owner's result, and the owner calls EndLookup when its value is stored.
type LookupDeduper interface {
	BeginLookup(ctx context.Context, lat, lng float64, key models.ElevationSource) bool
	AwaitLookup(ctx context.Context, lat, lng float64, key models.ElevationSource) (models.CachedElevation, bool)
	EndLookup(ctx context.Context, lat, lng float64, key models.ElevationSource)
}

// AttemptFailure records why one provider attempt failed, for advisory
// messaging and logs only
type AttemptFailure struct {
	Provider models.ElevationSource `json:"provider"`
	Kind     models.FailureKind     `json:"kind"`
	Detail   string                 `json:"detail"`
}

// Result is the outcome of a resolve. Altitude is always usable; Fallback
// tells whether it came from the regional estimator rather than a provider.
type Result struct {
	Altitude int                    `json:"altitude"`
	Source   models.ElevationSource `json:"source"`
	Fallback bool                   `json:"fallback"`
	Failures []AttemptFailure       `json:"failures,omitempty"`
}

// ResolverConfig tunes the resolver. Zero values select sane defaults.
type ResolverConfig struct {
	Client         *http.Client
	Cache          LookupCache
	RequestsPerSec int
	RetryBackoff   time.Duration
}

// Resolver turns a coordinate into an altitude by trying elevation
// providers in order and degrading to the regional estimator. Resolve
// never fails from the caller's perspective.
type Resolver struct {
	registry  *provider.Registry
	estimator *regional.Estimator
	client    *http.Client
	cache     LookupCache
	limiter   *rate.Limiter
	backoff   time.Duration
}

// NewResolver creates a resolver over the given provider table and
// regional estimator
func NewResolver(registry *provider.Registry, estimator *regional.Estimator, cfg ResolverConfig) *Resolver {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = defaultRequestsPerSec
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	return &Resolver{
		registry:  registry,
		estimator: estimator,
		client:    client,
		cache:     cfg.Cache,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		backoff:   backoff,
	}
}

// Resolve returns an altitude for the coordinate using the requested
// source. "auto" walks the provider table in affinity/priority order with
// one retry sweep; a named provider gets exactly one attempt; invalid
// coordinates and "regional" skip the network entirely.
func (r *Resolver) Resolve(ctx context.Context, coord models.Coordinate, source models.ElevationSource) Result {
	if !coord.Valid() {
		return r.regionalResult(coord, nil)
	}

	if source == models.SourceRegional {
		return r.regionalResult(coord, nil)
	}

	if source != models.SourceAuto {
		return r.resolveExplicit(ctx, coord, source)
	}

	return r.resolveAuto(ctx, coord)
}

// resolveExplicit issues exactly one attempt against a named provider and
// falls back to the regional estimate on any failure
func (r *Resolver) resolveExplicit(ctx context.Context, coord models.Coordinate, source models.ElevationSource) Result {
	desc, ok := r.registry.Get(source)
	if !ok {
		log.Printf("Unknown elevation source %q, using regional estimate", source)
		return r.regionalResult(coord, nil)
	}

	if v, ok := r.cachedLookup(ctx, coord, source); ok {
		return Result{Altitude: v.Altitude, Source: v.Source}
	}

	release, awaited := r.dedupLookup(ctx, coord, source)
	if awaited != nil {
		return Result{Altitude: awaited.Altitude, Source: awaited.Source}
	}
	defer release()

	alt, failure := r.attempt(ctx, desc, coord)
	if failure != nil {
		log.Printf("Provider %s failed (%s): %s", desc.Key, failure.Kind, failure.Detail)
		return r.regionalResult(coord, []AttemptFailure{*failure})
	}

	rounded := int(math.Round(alt))
	r.storeLookup(ctx, coord, source, models.CachedElevation{Altitude: rounded, Source: source})
	return Result{Altitude: rounded, Source: source}
}

// resolveAuto sweeps providers in affinity/priority order, retrying the
// whole sweep once after a fixed backoff before giving up
func (r *Resolver) resolveAuto(ctx context.Context, coord models.Coordinate) Result {
	if v, ok := r.cachedLookup(ctx, coord, models.SourceAuto); ok {
		return Result{Altitude: v.Altitude, Source: v.Source}
	}

	release, awaited := r.dedupLookup(ctx, coord, models.SourceAuto)
	if awaited != nil {
		return Result{Altitude: awaited.Altitude, Source: awaited.Source}
	}
	defer release()

	order := r.providerOrder(coord)
	var failures []AttemptFailure

	for attempt := 0; attempt <= 1; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.backoff):
			case <-ctx.Done():
				return r.regionalResult(coord, failures)
			}
		}

		for _, desc := range order {
			alt, failure := r.attempt(ctx, desc, coord)
			if failure != nil {
				failures = append(failures, *failure)
				continue
			}

			rounded := int(math.Round(alt))
			r.storeLookup(ctx, coord, models.SourceAuto, models.CachedElevation{Altitude: rounded, Source: desc.Key})
			return Result{Altitude: rounded, Source: desc.Key, Failures: failures}
		}
	}

	log.Printf("All providers failed for (%.4f, %.4f), using regional estimate", coord.Lat, coord.Lng)
	return r.regionalResult(coord, failures)
}

// providerOrder sorts the table so providers whose region affinity matches
// the coordinate come first, then by ascending static priority
func (r *Resolver) providerOrder(coord models.Coordinate) []provider.Descriptor {
	order := r.registry.All()

	rank := func(d provider.Descriptor) int {
		switch d.Affinity {
		case models.AffinityFrance:
			if regional.InFrance(coord.Lat, coord.Lng) {
				return 0
			}
		case models.AffinityEurope:
			if regional.InEurope(coord.Lat, coord.Lng) {
				return 1
			}
		}
		return 2
	}

	sort.SliceStable(order, func(i, j int) bool {
		ri, rj := rank(order[i]), rank(order[j])
		if ri != rj {
			return ri < rj
		}
		return order[i].Priority < order[j].Priority
	})

	return order
}

// attempt issues one timed request against a provider. The per-request
// deadline comes from the descriptor and is independent of any caller
// deadline already on ctx.
func (r *Resolver) attempt(ctx context.Context, desc provider.Descriptor, coord models.Coordinate) (float64, *AttemptFailure) {
	reqCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
	defer cancel()

	if err := r.limiter.Wait(reqCtx); err != nil {
		return 0, &AttemptFailure{Provider: desc.Key, Kind: models.FailureTimeout, Detail: "rate limiter wait aborted"}
	}

	var body io.Reader
	if desc.BuildBody != nil {
		body = strings.NewReader(desc.BuildBody(coord.Lat, coord.Lng))
	}

	req, err := http.NewRequestWithContext(reqCtx, desc.Method, desc.BuildURL(coord.Lat, coord.Lng), body)
	if err != nil {
		return 0, &AttemptFailure{Provider: desc.Key, Kind: models.FailureMalformed, Detail: err.Error()}
	}
	for k, v := range desc.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		kind := models.FailureNetwork
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			kind = models.FailureTimeout
		}
		return 0, &AttemptFailure{Provider: desc.Key, Kind: kind, Detail: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, &AttemptFailure{Provider: desc.Key, Kind: models.FailureAuth, Detail: resp.Status}
	case resp.StatusCode >= 500:
		return 0, &AttemptFailure{Provider: desc.Key, Kind: models.FailureServer, Detail: resp.Status}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, &AttemptFailure{Provider: desc.Key, Kind: models.FailureNetwork, Detail: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, &AttemptFailure{Provider: desc.Key, Kind: models.FailureNetwork, Detail: err.Error()}
	}

	alt, err := desc.Parse(data)
	if err != nil {
		return 0, &AttemptFailure{Provider: desc.Key, Kind: models.FailureMalformed, Detail: err.Error()}
	}

	return alt, nil
}

func (r *Resolver) regionalResult(coord models.Coordinate, failures []AttemptFailure) Result {
	return Result{
		Altitude: r.estimator.Altitude(coord.Lat, coord.Lng),
		Source:   models.SourceRegional,
		Fallback: true,
		Failures: failures,
	}
}

func (r *Resolver) cachedLookup(ctx context.Context, coord models.Coordinate, key models.ElevationSource) (models.CachedElevation, bool) {
	if r.cache == nil {
		return models.CachedElevation{}, false
	}
	return r.cache.Get(ctx, coord.Lat, coord.Lng, key)
}

func (r *Resolver) storeLookup(ctx context.Context, coord models.Coordinate, key models.ElevationSource, value models.CachedElevation) {
	if r.cache == nil {
		return
	}
	r.cache.Set(ctx, coord.Lat, coord.Lng, key, value)
}

// dedupLookup coordinates with other resolves of the same coordinate when
// the cache supports it. Either the returned release func must be called
// after the value is stored, or the awaited value is the answer. When the
// lock holder vanishes without publishing a value, the caller resolves
// live on its own.
func (r *Resolver) dedupLookup(ctx context.Context, coord models.Coordinate, key models.ElevationSource) (func(), *models.CachedElevation) {
	dedup, ok := r.cache.(LookupDeduper)
	if !ok {
		return func() {}, nil
	}

	if dedup.BeginLookup(ctx, coord.Lat, coord.Lng, key) {
		return func() { dedup.EndLookup(ctx, coord.Lat, coord.Lng, key) }, nil
	}

	if v, ok := dedup.AwaitLookup(ctx, coord.Lat, coord.Lng, key); ok {
		return func() {}, &v
	}
	return func() {}, nil
}

// Estimator exposes the regional estimator for callers that need the
// no-network path directly
func (r *Resolver) Estimator() *regional.Estimator {
	return r.estimator
}

// String implements fmt.Stringer for log lines
func (f AttemptFailure) String() string {
	return fmt.Sprintf("%s: %s (%s)", f.Provider, f.Kind, f.Detail)
}
