package regional

import (
	"math"
	"math/rand"
)

// Toulouse city center, reference point for the local distance gradient
const (
	toulouseCenterLat = 43.6047
	toulouseCenterLng = 1.4442
)

// box is an inclusive lat/lng bounding box
type box struct {
	minLat, maxLat float64
	minLng, maxLng float64
}

func (b box) contains(lat, lng float64) bool {
	return lat >= b.minLat && lat <= b.maxLat && lng >= b.minLng && lng <= b.maxLng
}

var (
	toulouseBox = box{43.4, 43.8, 1.2, 1.7}
	franceBox   = box{41.3, 51.1, -5.2, 9.6}
	europeBox   = box{35, 70, -10, 40}

	// French mountain ranges and notable terrain bands
	alpsFranceBox    = box{44.0, 46.5, 5.5, 7.5}
	pyreneesBox      = box{42.5, 43.4, -1.5, 3.0}
	massifCentralBox = box{44.5, 46.0, 2.0, 4.0}
	vosgesBox        = box{47.8, 48.6, 6.5, 7.5}
	parisBasinBox    = box{48.0, 49.5, 1.5, 3.5}

	// European sub-bands
	scandinaviaBox = box{55, 70, 4, 32}
	alpsEuropeBox  = box{45.5, 48.0, 6.0, 16.0}
	ukIrelandBox   = box{50, 59, -10, 2}
)

// InFrance reports whether the coordinate falls in the France mainland box
func InFrance(lat, lng float64) bool {
	return franceBox.contains(lat, lng)
}

// InEurope reports whether the coordinate falls in the broader Europe box
func InEurope(lat, lng float64) bool {
	return europeBox.contains(lat, lng)
}

// Estimator produces heuristic no-network altitude estimates keyed by
// geographic bounding boxes. The random source is injectable so tests can
// pin the jitter; bounds are part of the contract, exact values are not.
type Estimator struct {
	random func() float64
}

// NewEstimator creates an estimator backed by the default random source
func NewEstimator() *Estimator {
	return &Estimator{random: rand.Float64}
}

// NewEstimatorWithRandom creates an estimator with a custom random source
// random must return values in [0, 1)
func NewEstimatorWithRandom(random func() float64) *Estimator {
	return &Estimator{random: random}
}

// Altitude returns a plausible altitude in meters for any coordinate,
// including out-of-range ones. Rule precedence: Toulouse gradient, France
// sub-regions, Europe sub-bands, global latitude bands.
func (e *Estimator) Altitude(lat, lng float64) int {
	switch {
	case toulouseBox.contains(lat, lng):
		return e.toulouseAltitude(lat, lng)
	case franceBox.contains(lat, lng):
		return e.franceAltitude(lat, lng)
	case europeBox.contains(lat, lng):
		return e.europeAltitude(lat, lng)
	default:
		return e.globalAltitude(lat)
	}
}

// toulouseAltitude grows with straight-line degree distance from the city
// center: 150 m downtown, +100 m per degree outward
func (e *Estimator) toulouseAltitude(lat, lng float64) int {
	dLat := lat - toulouseCenterLat
	dLng := lng - toulouseCenterLng
	dist := math.Sqrt(dLat*dLat + dLng*dLng)
	return int(math.Round(150 + 100*dist))
}

func (e *Estimator) franceAltitude(lat, lng float64) int {
	switch {
	case alpsFranceBox.contains(lat, lng):
		return int(800 + e.random()*400)
	case pyreneesBox.contains(lat, lng):
		return int(600 + e.random()*300)
	case massifCentralBox.contains(lat, lng):
		return int(500 + e.random()*300)
	case vosgesBox.contains(lat, lng):
		return int(400 + e.random()*200)
	case lng <= -1.0 || (lat <= 43.5 && lng >= 3.0):
		// Atlantic and Mediterranean coastal strips
		return int(10 + e.random()*50)
	case parisBasinBox.contains(lat, lng):
		return int(100 + e.random()*80)
	default:
		return int(200 + e.random()*100)
	}
}

func (e *Estimator) europeAltitude(lat, lng float64) int {
	switch {
	case scandinaviaBox.contains(lat, lng):
		return int(300 + e.random()*400)
	case alpsEuropeBox.contains(lat, lng):
		return int(1000 + e.random()*800)
	case ukIrelandBox.contains(lat, lng):
		return int(100 + e.random()*200)
	default:
		return 300
	}
}

func (e *Estimator) globalAltitude(lat float64) int {
	abs := math.Abs(lat)
	switch {
	case abs <= 23.5:
		return int(200 + e.random()*300)
	case abs <= 55:
		return int(300 + e.random()*400)
	case abs <= 66.5:
		return int(400 + e.random()*500)
	default:
		return 1500
	}
}
