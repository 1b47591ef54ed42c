package elevation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/altiroute/altiroute_core/internal/geo"
	"github.com/altiroute/altiroute_core/internal/models"
)

// ErrInsufficientWaypoints is returned when a profile is requested for
// fewer than two waypoints. It is the only hard error the elevation
// subsystem surfaces to callers.
var ErrInsufficientWaypoints = errors.New("at least two waypoints are required")

const (
	defaultThrottleEvery = 10
	defaultThrottleDelay = 100 * time.Millisecond
	defaultBuildTimeout  = 60 * time.Second
)

// ProfileConfig tunes the profile builder. Zero values select defaults.
type ProfileConfig struct {
	SpacingM      float64
	ThrottleEvery int
	ThrottleDelay time.Duration
	BuildTimeout  time.Duration
}

// ProfileBuilder densifies a route at fixed spacing and resolves an
// altitude for every sample, producing an AltitudeProfile with running
// distance and gain/loss/min/max statistics
type ProfileBuilder struct {
	resolver      *Resolver
	spacing       float64
	throttleEvery int
	throttleDelay time.Duration
	buildTimeout  time.Duration
}

// NewProfileBuilder creates a builder over the given resolver
func NewProfileBuilder(resolver *Resolver, cfg ProfileConfig) *ProfileBuilder {
	spacing := cfg.SpacingM
	if spacing <= 0 {
		spacing = geo.DefaultSpacingM
	}
	every := cfg.ThrottleEvery
	if every <= 0 {
		every = defaultThrottleEvery
	}
	delay := cfg.ThrottleDelay
	if delay <= 0 {
		delay = defaultThrottleDelay
	}
	timeout := cfg.BuildTimeout
	if timeout <= 0 {
		timeout = defaultBuildTimeout
	}

	return &ProfileBuilder{
		resolver:      resolver,
		spacing:       spacing,
		throttleEvery: every,
		throttleDelay: delay,
		buildTimeout:  timeout,
	}
}

// Build produces an altitude profile for the waypoints, resolving every
// densified sample in auto mode. If the overall ceiling elapses before the
// network resolution finishes, a fully regional-estimate profile is
// substituted so the caller always gets a structurally valid result.
func (b *ProfileBuilder) Build(ctx context.Context, waypoints []models.Coordinate) (*models.AltitudeProfile, error) {
	if len(waypoints) < 2 {
		return nil, ErrInsufficientWaypoints
	}

	coords := b.densify(waypoints)

	ctx, cancel := context.WithTimeout(ctx, b.buildTimeout)
	defer cancel()

	altitudes := make([]int, len(coords))
	for i, c := range coords {
		if ctx.Err() != nil {
			log.Printf("Profile build ceiling reached after %d/%d points, substituting regional profile", i, len(coords))
			return b.buildRegional(waypoints), nil
		}

		altitudes[i] = b.resolver.Resolve(ctx, c, models.SourceAuto).Altitude

		// Courtesy pacing so remote providers are not hammered
		if (i+1)%b.throttleEvery == 0 && i+1 < len(coords) {
			select {
			case <-time.After(b.throttleDelay):
			case <-ctx.Done():
				log.Printf("Profile build ceiling reached after %d/%d points, substituting regional profile", i+1, len(coords))
				return b.buildRegional(waypoints), nil
			}
		}
	}

	return assembleProfile(coords, altitudes), nil
}

// BuildRegional produces a profile from regional estimates only, with no
// network calls. Used directly when live data is known to be unavailable.
func (b *ProfileBuilder) BuildRegional(waypoints []models.Coordinate) (*models.AltitudeProfile, error) {
	if len(waypoints) < 2 {
		return nil, ErrInsufficientWaypoints
	}
	return b.buildRegional(waypoints), nil
}

func (b *ProfileBuilder) buildRegional(waypoints []models.Coordinate) *models.AltitudeProfile {
	coords := b.densify(waypoints)
	altitudes := make([]int, len(coords))
	estimator := b.resolver.Estimator()
	for i, c := range coords {
		altitudes[i] = estimator.Altitude(c.Lat, c.Lng)
	}
	return assembleProfile(coords, altitudes)
}

// densify interpolates every consecutive waypoint pair at the configured
// spacing without double-counting shared segment boundaries
func (b *ProfileBuilder) densify(waypoints []models.Coordinate) []models.Coordinate {
	var coords []models.Coordinate
	for i := 1; i < len(waypoints); i++ {
		segment := geo.Interpolate(waypoints[i-1], waypoints[i], b.spacing)
		if i > 1 {
			segment = segment[1:]
		}
		coords = append(coords, segment...)
	}
	return coords
}

// assembleProfile computes running distance and aggregate statistics over
// matched coordinate/altitude slices
func assembleProfile(coords []models.Coordinate, altitudes []int) *models.AltitudeProfile {
	profile := &models.AltitudeProfile{
		Points:      make([]models.AltitudePoint, 0, len(coords)),
		MinAltitude: altitudes[0],
		MaxAltitude: altitudes[0],
	}

	var distance float64
	for i, c := range coords {
		if i > 0 {
			distance += geo.Distance(coords[i-1], c)

			delta := altitudes[i] - altitudes[i-1]
			if delta > 0 {
				profile.ElevationGain += delta
			} else {
				profile.ElevationLoss += -delta
			}
		}

		if altitudes[i] < profile.MinAltitude {
			profile.MinAltitude = altitudes[i]
		}
		if altitudes[i] > profile.MaxAltitude {
			profile.MaxAltitude = altitudes[i]
		}

		profile.Points = append(profile.Points, models.AltitudePoint{
			Lat:      c.Lat,
			Lng:      c.Lng,
			Altitude: altitudes[i],
			Distance: distance,
		})
	}

	profile.TotalDistance = distance
	return profile
}
