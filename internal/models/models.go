package models

import "time"

// ElevationSource identifies an elevation data source selectable by the client
type ElevationSource string

const (
	SourceAuto          ElevationSource = "auto"
	SourceSRTM30m       ElevationSource = "opentopodata-srtm30m"
	SourceEUDEM         ElevationSource = "opentopodata-eudem"
	SourceOpenElevation ElevationSource = "open-elevation"
	SourceIGNRGEAlti    ElevationSource = "ign-rge-alti"
	SourceASTER         ElevationSource = "opentopodata-aster"
	SourceRegional      ElevationSource = "regional"
)

// RegionAffinity tags a provider with the region it covers best
type RegionAffinity string

const (
	AffinityNone   RegionAffinity = ""
	AffinityFrance RegionAffinity = "france"
	AffinityEurope RegionAffinity = "europe"
)

// FailureKind classifies why a provider attempt failed
// Drives advisory messaging only; never surfaced as a hard error
type FailureKind string

const (
	FailureCORS      FailureKind = "cors_blocked"
	FailureNetwork   FailureKind = "network_unreachable"
	FailureTimeout   FailureKind = "timeout"
	FailureAuth      FailureKind = "auth_required"
	FailureMalformed FailureKind = "malformed_response"
	FailureServer    FailureKind = "server_error"
)

// Coordinate is an immutable geographic position
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is within geographic bounds
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// RoutePoint is a single user-placed location with metadata
// Timestamps are assigned as index * 10 seconds at creation time
type RoutePoint struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Altitude  int     `json:"altitude"`
	Timestamp int     `json:"timestamp"`
	Name      string  `json:"name"`
}

// Coordinate returns the point's position as a Coordinate value
func (p RoutePoint) Coordinate() Coordinate {
	return Coordinate{Lat: p.Lat, Lng: p.Lng}
}

// Trajectory is the exported form of a route
type Trajectory struct {
	Points        []RoutePoint `json:"points"`
	TotalDistance float64      `json:"totalDistance"`
	TotalTime     int          `json:"totalTime"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// AltitudePoint is a densified profile sample with cumulative distance
type AltitudePoint struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Altitude int     `json:"altitude"`
	Distance float64 `json:"distance"`
}

// AltitudeProfile is a distance-annotated altitude curve derived from a route
// Invariants: MinAltitude <= every point altitude <= MaxAltitude,
// ElevationGain >= 0, ElevationLoss >= 0, and TotalDistance equals the sum
// of consecutive point-to-point distances
type AltitudeProfile struct {
	Points        []AltitudePoint `json:"points"`
	TotalDistance float64         `json:"totalDistance"`
	ElevationGain int             `json:"elevationGain"`
	ElevationLoss int             `json:"elevationLoss"`
	MinAltitude   int             `json:"minAltitude"`
	MaxAltitude   int             `json:"maxAltitude"`
}

// CachedElevation is a resolved lookup as stored by the elevation cache.
// Source records the provider that actually answered, so cache hits keep
// reporting it instead of the selector key they were stored under.
type CachedElevation struct {
	Altitude int             `json:"altitude"`
	Source   ElevationSource `json:"source"`
}

// ProviderStatus is the probe result for a single provider
type ProviderStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// ServiceStatus partitions providers into available and unavailable sets
// The synthetic "regional estimates" entry is always first and always available
type ServiceStatus struct {
	Available   []string         `json:"available"`
	Unavailable []string         `json:"unavailable"`
	Details     []ProviderStatus `json:"details"`
	CheckedAt   time.Time        `json:"checked_at"`
}

// ProfileMetadata describes an exported detailed profile
type ProfileMetadata struct {
	TotalDistance float64   `json:"totalDistance"`
	ElevationGain int       `json:"elevationGain"`
	ElevationLoss int       `json:"elevationLoss"`
	MinAltitude   int       `json:"minAltitude"`
	MaxAltitude   int       `json:"maxAltitude"`
	PointCount    int       `json:"pointCount"`
	Resolution    string    `json:"resolution"`
	Source        string    `json:"source"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// ProfileExport is the detailed profile file format
type ProfileExport struct {
	Metadata ProfileMetadata `json:"metadata"`
	Points   []AltitudePoint `json:"points"`
}
