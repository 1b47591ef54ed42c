package elevation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/altiroute/altiroute_core/internal/models"
	"github.com/altiroute/altiroute_core/internal/provider"
	"github.com/altiroute/altiroute_core/internal/regional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCoord = models.Coordinate{Lat: 43.6047, Lng: 1.4442}

// countingServer returns an httptest server that counts hits and replies
// with the given status and body
func countingServer(t *testing.T, status int, body string) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// testDescriptor builds a GET descriptor pointing at a test server
func testDescriptor(key models.ElevationSource, url string, priority int, affinity models.RegionAffinity) provider.Descriptor {
	return provider.Descriptor{
		Key:      key,
		Name:     string(key),
		Method:   "GET",
		Timeout:  500 * time.Millisecond,
		Priority: priority,
		Affinity: affinity,
		BuildURL: func(lat, lng float64) string { return url },
		Parse: func(body []byte) (float64, error) {
			var v float64
			if _, err := fmt.Sscanf(string(body), "%f", &v); err != nil {
				return 0, fmt.Errorf("bad test body %q", body)
			}
			return v, nil
		},
	}
}

func newTestResolver(registry *provider.Registry) *Resolver {
	estimator := regional.NewEstimatorWithRandom(func() float64 { return 0.5 })
	return NewResolver(registry, estimator, ResolverConfig{
		RequestsPerSec: 1000,
		RetryBackoff:   10 * time.Millisecond,
	})
}

func TestResolveGuards(t *testing.T) {
	srv, hits := countingServer(t, 200, "146.0")
	registry := provider.NewRegistry([]provider.Descriptor{
		testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone),
	})
	r := newTestResolver(registry)

	t.Run("Invalid latitude skips the network", func(t *testing.T) {
		res := r.Resolve(context.Background(), models.Coordinate{Lat: 91, Lng: 0}, models.SourceAuto)
		assert.True(t, res.Fallback)
		assert.Equal(t, models.SourceRegional, res.Source)
		assert.EqualValues(t, 0, atomic.LoadInt64(hits))
	})

	t.Run("Invalid longitude skips the network", func(t *testing.T) {
		res := r.Resolve(context.Background(), models.Coordinate{Lat: 0, Lng: 181}, models.SourceAuto)
		assert.True(t, res.Fallback)
		assert.EqualValues(t, 0, atomic.LoadInt64(hits))
	})

	t.Run("Regional source skips the network", func(t *testing.T) {
		res := r.Resolve(context.Background(), testCoord, models.SourceRegional)
		assert.True(t, res.Fallback)
		assert.Equal(t, models.SourceRegional, res.Source)
		assert.EqualValues(t, 0, atomic.LoadInt64(hits))

		// Toulouse band: 150 + gradient
		assert.GreaterOrEqual(t, res.Altitude, 150)
		assert.LessOrEqual(t, res.Altitude, 185)
	})
}

func TestResolveExplicitProvider(t *testing.T) {
	t.Run("Success returns rounded elevation", func(t *testing.T) {
		srv, hits := countingServer(t, 200, "146.7")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone),
		})
		r := newTestResolver(registry)

		res := r.Resolve(context.Background(), testCoord, models.SourceSRTM30m)
		assert.Equal(t, 147, res.Altitude)
		assert.Equal(t, models.SourceSRTM30m, res.Source)
		assert.False(t, res.Fallback)
		assert.EqualValues(t, 1, atomic.LoadInt64(hits))
	})

	t.Run("Failure makes at most one attempt then falls back", func(t *testing.T) {
		srv, hits := countingServer(t, 500, "oops")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone),
		})
		r := newTestResolver(registry)

		res := r.Resolve(context.Background(), testCoord, models.SourceSRTM30m)
		assert.True(t, res.Fallback)
		assert.Equal(t, models.SourceRegional, res.Source)
		assert.EqualValues(t, 1, atomic.LoadInt64(hits))

		require.Len(t, res.Failures, 1)
		assert.Equal(t, models.FailureServer, res.Failures[0].Kind)
	})

	t.Run("Unknown source falls back without network", func(t *testing.T) {
		srv, hits := countingServer(t, 200, "146.0")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone),
		})
		r := newTestResolver(registry)

		res := r.Resolve(context.Background(), testCoord, "no-such-provider")
		assert.True(t, res.Fallback)
		assert.EqualValues(t, 0, atomic.LoadInt64(hits))
	})
}

func TestResolveAuto(t *testing.T) {
	t.Run("Falls through to the next provider", func(t *testing.T) {
		bad, badHits := countingServer(t, 503, "down")
		good, goodHits := countingServer(t, 200, "212.2")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceSRTM30m, bad.URL, 1, models.AffinityNone),
			testDescriptor(models.SourceASTER, good.URL, 2, models.AffinityNone),
		})
		r := newTestResolver(registry)

		res := r.Resolve(context.Background(), testCoord, models.SourceAuto)
		assert.Equal(t, 212, res.Altitude)
		assert.Equal(t, models.SourceASTER, res.Source)
		assert.False(t, res.Fallback)
		assert.EqualValues(t, 1, atomic.LoadInt64(badHits))
		assert.EqualValues(t, 1, atomic.LoadInt64(goodHits))

		// The earlier failure is still reported for messaging
		require.Len(t, res.Failures, 1)
		assert.Equal(t, models.SourceSRTM30m, res.Failures[0].Provider)
	})

	t.Run("Retries the sweep exactly once before regional fallback", func(t *testing.T) {
		a, aHits := countingServer(t, 500, "down")
		b, bHits := countingServer(t, 500, "down")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceSRTM30m, a.URL, 1, models.AffinityNone),
			testDescriptor(models.SourceASTER, b.URL, 2, models.AffinityNone),
		})
		r := newTestResolver(registry)

		res := r.Resolve(context.Background(), testCoord, models.SourceAuto)
		assert.True(t, res.Fallback)
		assert.Equal(t, models.SourceRegional, res.Source)

		// Two full sweeps: each provider hit exactly twice
		assert.EqualValues(t, 2, atomic.LoadInt64(aHits))
		assert.EqualValues(t, 2, atomic.LoadInt64(bHits))
		assert.Len(t, res.Failures, 4)
	})
}

func TestProviderOrder(t *testing.T) {
	registry := provider.NewRegistry([]provider.Descriptor{
		testDescriptor(models.SourceSRTM30m, "http://invalid", 1, models.AffinityNone),
		testDescriptor(models.SourceEUDEM, "http://invalid", 2, models.AffinityEurope),
		testDescriptor(models.SourceIGNRGEAlti, "http://invalid", 4, models.AffinityFrance),
		testDescriptor(models.SourceASTER, "http://invalid", 5, models.AffinityNone),
	})
	r := newTestResolver(registry)

	keys := func(order []provider.Descriptor) []models.ElevationSource {
		out := make([]models.ElevationSource, len(order))
		for i, d := range order {
			out[i] = d.Key
		}
		return out
	}

	t.Run("France coordinate promotes the france provider", func(t *testing.T) {
		order := keys(r.providerOrder(testCoord))
		assert.Equal(t, []models.ElevationSource{
			models.SourceIGNRGEAlti,
			models.SourceEUDEM,
			models.SourceSRTM30m,
			models.SourceASTER,
		}, order)
	})

	t.Run("Europe coordinate promotes the europe provider", func(t *testing.T) {
		berlin := models.Coordinate{Lat: 52.52, Lng: 13.405}
		order := keys(r.providerOrder(berlin))
		assert.Equal(t, []models.ElevationSource{
			models.SourceEUDEM,
			models.SourceSRTM30m,
			models.SourceIGNRGEAlti,
			models.SourceASTER,
		}, order)
	})

	t.Run("Elsewhere falls back to static priority", func(t *testing.T) {
		denver := models.Coordinate{Lat: 39.74, Lng: -104.99}
		order := keys(r.providerOrder(denver))
		assert.Equal(t, []models.ElevationSource{
			models.SourceSRTM30m,
			models.SourceEUDEM,
			models.SourceIGNRGEAlti,
			models.SourceASTER,
		}, order)
	})
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   models.FailureKind
	}{
		{"Unauthorized", 401, "key required", models.FailureAuth},
		{"Forbidden", 403, "denied", models.FailureAuth},
		{"Server error", 502, "bad gateway", models.FailureServer},
		{"Malformed body", 200, "not-a-number", models.FailureMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := countingServer(t, tt.status, tt.body)
			registry := provider.NewRegistry([]provider.Descriptor{
				testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone),
			})
			r := newTestResolver(registry)

			res := r.Resolve(context.Background(), testCoord, models.SourceSRTM30m)
			require.Len(t, res.Failures, 1)
			assert.Equal(t, tt.kind, res.Failures[0].Kind)
		})
	}

	t.Run("Timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(2 * time.Second)
		}))
		t.Cleanup(srv.Close)

		desc := testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone)
		desc.Timeout = 50 * time.Millisecond
		r := newTestResolver(provider.NewRegistry([]provider.Descriptor{desc}))

		res := r.Resolve(context.Background(), testCoord, models.SourceSRTM30m)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, models.FailureTimeout, res.Failures[0].Kind)
	})

	t.Run("Unreachable host", func(t *testing.T) {
		desc := testDescriptor(models.SourceSRTM30m, "http://127.0.0.1:1", 1, models.AffinityNone)
		r := newTestResolver(provider.NewRegistry([]provider.Descriptor{desc}))

		res := r.Resolve(context.Background(), testCoord, models.SourceSRTM30m)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, models.FailureNetwork, res.Failures[0].Kind)
	})
}

// memoryCache is a minimal LookupCache for tests
type memoryCache struct {
	values map[string]models.CachedElevation
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]models.CachedElevation{}}
}

func (m *memoryCache) key(lat, lng float64, source models.ElevationSource) string {
	return fmt.Sprintf("%.6f:%.6f:%s", lat, lng, source)
}

func (m *memoryCache) Get(_ context.Context, lat, lng float64, source models.ElevationSource) (models.CachedElevation, bool) {
	v, ok := m.values[m.key(lat, lng, source)]
	return v, ok
}

func (m *memoryCache) Set(_ context.Context, lat, lng float64, source models.ElevationSource, value models.CachedElevation) {
	m.values[m.key(lat, lng, source)] = value
}

func TestResolveCaching(t *testing.T) {
	t.Run("Explicit provider hit skips the network", func(t *testing.T) {
		srv, hits := countingServer(t, 200, "146.0")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone),
		})
		r := NewResolver(registry, regional.NewEstimator(), ResolverConfig{
			Cache:          newMemoryCache(),
			RequestsPerSec: 1000,
			RetryBackoff:   10 * time.Millisecond,
		})

		first := r.Resolve(context.Background(), testCoord, models.SourceSRTM30m)
		second := r.Resolve(context.Background(), testCoord, models.SourceSRTM30m)

		assert.Equal(t, first.Altitude, second.Altitude)
		assert.EqualValues(t, 1, atomic.LoadInt64(hits))
	})

	t.Run("Auto hit keeps reporting the winning provider", func(t *testing.T) {
		srv, hits := countingServer(t, 200, "212.0")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceASTER, srv.URL, 1, models.AffinityNone),
		})
		r := NewResolver(registry, regional.NewEstimator(), ResolverConfig{
			Cache:          newMemoryCache(),
			RequestsPerSec: 1000,
			RetryBackoff:   10 * time.Millisecond,
		})

		first := r.Resolve(context.Background(), testCoord, models.SourceAuto)
		second := r.Resolve(context.Background(), testCoord, models.SourceAuto)

		assert.Equal(t, models.SourceASTER, first.Source)
		assert.Equal(t, models.SourceASTER, second.Source)
		assert.Equal(t, first.Altitude, second.Altitude)
		assert.EqualValues(t, 1, atomic.LoadInt64(hits))
	})
}

// dedupCache scripts the lock side of a shared lookup cache
type dedupCache struct {
	memoryCache
	owns       bool
	awaitValue *models.CachedElevation

	begun   int
	awaited int
	ended   int
}

func (d *dedupCache) BeginLookup(context.Context, float64, float64, models.ElevationSource) bool {
	d.begun++
	return d.owns
}

func (d *dedupCache) AwaitLookup(context.Context, float64, float64, models.ElevationSource) (models.CachedElevation, bool) {
	d.awaited++
	if d.awaitValue != nil {
		return *d.awaitValue, true
	}
	return models.CachedElevation{}, false
}

func (d *dedupCache) EndLookup(context.Context, float64, float64, models.ElevationSource) {
	d.ended++
}

func newDedupResolver(registry *provider.Registry, cache *dedupCache) *Resolver {
	cache.values = map[string]models.CachedElevation{}
	return NewResolver(registry, regional.NewEstimator(), ResolverConfig{
		Cache:          cache,
		RequestsPerSec: 1000,
		RetryBackoff:   10 * time.Millisecond,
	})
}

func TestResolveLookupDedup(t *testing.T) {
	t.Run("Owner resolves, stores and releases", func(t *testing.T) {
		srv, hits := countingServer(t, 200, "146.0")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone),
		})
		cache := &dedupCache{owns: true}
		r := newDedupResolver(registry, cache)

		res := r.Resolve(context.Background(), testCoord, models.SourceAuto)
		assert.Equal(t, 146, res.Altitude)
		assert.EqualValues(t, 1, atomic.LoadInt64(hits))
		assert.Equal(t, 1, cache.begun)
		assert.Equal(t, 1, cache.ended)
		assert.Equal(t, 0, cache.awaited)

		stored, ok := cache.Get(context.Background(), testCoord.Lat, testCoord.Lng, models.SourceAuto)
		assert.True(t, ok)
		assert.Equal(t, models.SourceSRTM30m, stored.Source)
	})

	t.Run("Non-owner picks up the in-flight result without a network call", func(t *testing.T) {
		srv, hits := countingServer(t, 200, "146.0")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone),
		})
		cache := &dedupCache{
			owns:       false,
			awaitValue: &models.CachedElevation{Altitude: 212, Source: models.SourceASTER},
		}
		r := newDedupResolver(registry, cache)

		res := r.Resolve(context.Background(), testCoord, models.SourceAuto)
		assert.Equal(t, 212, res.Altitude)
		assert.Equal(t, models.SourceASTER, res.Source)
		assert.EqualValues(t, 0, atomic.LoadInt64(hits))
		assert.Equal(t, 1, cache.awaited)
		assert.Equal(t, 0, cache.ended)
	})

	t.Run("Abandoned lock falls through to a live resolve", func(t *testing.T) {
		srv, hits := countingServer(t, 200, "146.0")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone),
		})
		cache := &dedupCache{owns: false, awaitValue: nil}
		r := newDedupResolver(registry, cache)

		res := r.Resolve(context.Background(), testCoord, models.SourceAuto)
		assert.Equal(t, 146, res.Altitude)
		assert.EqualValues(t, 1, atomic.LoadInt64(hits))
	})

	t.Run("Explicit provider mode uses the same dedup path", func(t *testing.T) {
		srv, hits := countingServer(t, 200, "146.0")
		registry := provider.NewRegistry([]provider.Descriptor{
			testDescriptor(models.SourceSRTM30m, srv.URL, 1, models.AffinityNone),
		})
		cache := &dedupCache{
			owns:       false,
			awaitValue: &models.CachedElevation{Altitude: 147, Source: models.SourceSRTM30m},
		}
		r := newDedupResolver(registry, cache)

		res := r.Resolve(context.Background(), testCoord, models.SourceSRTM30m)
		assert.Equal(t, 147, res.Altitude)
		assert.Equal(t, models.SourceSRTM30m, res.Source)
		assert.EqualValues(t, 0, atomic.LoadInt64(hits))
	})
}
