package provider

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/altiroute/altiroute_core/internal/models"
)

// Descriptor describes one elevation provider as plain data: how to build
// a request for a coordinate and how to parse an elevation out of the
// response body. The resolver treats the table as immutable configuration.
type Descriptor struct {
	Key       models.ElevationSource
	Name      string
	Method    string
	Timeout   time.Duration
	Priority  int
	Affinity  models.RegionAffinity
	Headers   map[string]string
	BuildURL  func(lat, lng float64) string
	BuildBody func(lat, lng float64) string
	Parse     func(body []byte) (float64, error)
}

// Registry is an ordered, immutable list of provider descriptors
type Registry struct {
	providers []Descriptor
	byKey     map[models.ElevationSource]Descriptor
}

// NewRegistry builds a registry from the given descriptors
func NewRegistry(providers []Descriptor) *Registry {
	byKey := make(map[models.ElevationSource]Descriptor, len(providers))
	for _, p := range providers {
		byKey[p.Key] = p
	}
	return &Registry{providers: providers, byKey: byKey}
}

// DefaultRegistry returns the production provider table
func DefaultRegistry() *Registry {
	return NewRegistry(defaultProviders())
}

// All returns the descriptors in registration order
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.providers))
	copy(out, r.providers)
	return out
}

// Get looks up a provider by its selector key
func (r *Registry) Get(key models.ElevationSource) (Descriptor, bool) {
	d, ok := r.byKey[key]
	return d, ok
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	return len(r.providers)
}

// openTopoDataResponse is shared by all Open Topo Data datasets
type openTopoDataResponse struct {
	Results []struct {
		Elevation *float64 `json:"elevation"`
	} `json:"results"`
}

// parseOpenTopoData handles the results[0].elevation shape used by
// Open Topo Data and open-elevation alike
func parseOpenTopoData(body []byte) (float64, error) {
	var resp openTopoDataResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decoding elevation response: %w", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Elevation == nil {
		return 0, fmt.Errorf("no elevation in response")
	}
	return *resp.Results[0].Elevation, nil
}

// ignFeatureResponse is the WMS GetFeatureInfo GeoJSON-like shape returned
// by the IGN RGE ALTI service
type ignFeatureResponse struct {
	Features []struct {
		Properties struct {
			GrayIndex *float64 `json:"GRAY_INDEX"`
		} `json:"properties"`
	} `json:"features"`
}

func parseIGN(body []byte) (float64, error) {
	var resp ignFeatureResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decoding GetFeatureInfo response: %w", err)
	}
	if len(resp.Features) == 0 || resp.Features[0].Properties.GrayIndex == nil {
		return 0, fmt.Errorf("no GRAY_INDEX in response")
	}
	return *resp.Features[0].Properties.GrayIndex, nil
}

func openTopoDataURL(dataset string) func(lat, lng float64) string {
	return func(lat, lng float64) string {
		return fmt.Sprintf("https://api.opentopodata.org/v1/%s?locations=%.6f,%.6f", dataset, lat, lng)
	}
}

func ignGetFeatureInfoURL(lat, lng float64) string {
	// Single-pixel GetFeatureInfo query centered on the coordinate.
	// WMS 1.3.0 with EPSG:4326 takes the BBOX in lat,lng axis order.
	const d = 0.0005
	return fmt.Sprintf(
		"https://data.geopf.fr/wms-r/wms?SERVICE=WMS&VERSION=1.3.0&REQUEST=GetFeatureInfo"+
			"&LAYERS=ELEVATION.ELEVATIONGRIDCOVERAGE.HIGHRES&QUERY_LAYERS=ELEVATION.ELEVATIONGRIDCOVERAGE.HIGHRES"+
			"&STYLES=&FORMAT=image/png&INFO_FORMAT=application/json&CRS=EPSG:4326"+
			"&BBOX=%.6f,%.6f,%.6f,%.6f&WIDTH=101&HEIGHT=101&I=50&J=50",
		lat-d, lng-d, lat+d, lng+d,
	)
}

// defaultProviders is the production table. Order matters only as a
// tiebreaker; auto mode sorts by affinity match then ascending priority.
func defaultProviders() []Descriptor {
	return []Descriptor{
		{
			Key:      models.SourceSRTM30m,
			Name:     "Open Topo Data (SRTM 30m)",
			Method:   "GET",
			Timeout:  6 * time.Second,
			Priority: 1,
			BuildURL: openTopoDataURL("srtm30m"),
			Parse:    parseOpenTopoData,
		},
		{
			Key:      models.SourceEUDEM,
			Name:     "Open Topo Data (EU-DEM 25m)",
			Method:   "GET",
			Timeout:  8 * time.Second,
			Priority: 2,
			Affinity: models.AffinityEurope,
			BuildURL: openTopoDataURL("eudem25m"),
			Parse:    parseOpenTopoData,
		},
		{
			Key:      models.SourceOpenElevation,
			Name:     "Open-Elevation",
			Method:   "POST",
			Timeout:  6 * time.Second,
			Priority: 3,
			Headers:  map[string]string{"Content-Type": "application/json"},
			BuildURL: func(lat, lng float64) string {
				return "https://api.open-elevation.com/api/v1/lookup"
			},
			BuildBody: func(lat, lng float64) string {
				return fmt.Sprintf(`{"locations":[{"latitude":%.6f,"longitude":%.6f}]}`, lat, lng)
			},
			Parse: parseOpenTopoData,
		},
		{
			Key:      models.SourceIGNRGEAlti,
			Name:     "IGN RGE ALTI",
			Method:   "GET",
			Timeout:  8 * time.Second,
			Priority: 4,
			Affinity: models.AffinityFrance,
			BuildURL: ignGetFeatureInfoURL,
			Parse:    parseIGN,
		},
		{
			Key:      models.SourceASTER,
			Name:     "Open Topo Data (ASTER 30m)",
			Method:   "GET",
			Timeout:  6 * time.Second,
			Priority: 5,
			BuildURL: openTopoDataURL("aster30m"),
			Parse:    parseOpenTopoData,
		},
	}
}
