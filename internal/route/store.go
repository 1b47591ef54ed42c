package route

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/altiroute/altiroute_core/internal/geo"
	"github.com/altiroute/altiroute_core/internal/models"
	"github.com/google/uuid"
)

// ErrPointNotFound is returned when an id does not match any route point
var ErrPointNotFound = errors.New("route point not found")

// timestampStepSec is the synthetic time assigned per point index
const timestampStepSec = 10

// Store owns the in-memory route point list. Every mutation swaps in a
// freshly built slice under the lock, so snapshots handed out earlier stay
// valid and late-arriving elevation results apply safely by point id.
type Store struct {
	mu     sync.RWMutex
	points []models.RoutePoint
}

// NewStore creates an empty route store
func NewStore() *Store {
	return &Store{}
}

// Points returns a snapshot of the current route
func (s *Store) Points() []models.RoutePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RoutePoint, len(s.points))
	copy(out, s.points)
	return out
}

// Len returns the number of points in the route
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Add appends a new point with a generated id, an index-derived timestamp
// and a default display name, returning the created point
func (s *Store) Add(lat, lng float64, altitude int, name string) models.RoutePoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := len(s.points)
	if name == "" {
		name = fmt.Sprintf("Point %d", index+1)
	}

	point := models.RoutePoint{
		ID:        uuid.NewString(),
		Lat:       lat,
		Lng:       lng,
		Altitude:  altitude,
		Timestamp: index * timestampStepSec,
		Name:      name,
	}

	next := make([]models.RoutePoint, index, index+1)
	copy(next, s.points)
	s.points = append(next, point)
	return point
}

// PointUpdate carries the mutable fields of a point; nil means unchanged
type PointUpdate struct {
	Name      *string
	Altitude  *int
	Timestamp *int
}

// Update applies an edit to the point with the given id
func (s *Store) Update(id string, update PointUpdate) (models.RoutePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]models.RoutePoint, len(s.points))
	copy(next, s.points)

	for i := range next {
		if next[i].ID != id {
			continue
		}
		if update.Name != nil {
			next[i].Name = *update.Name
		}
		if update.Altitude != nil {
			next[i].Altitude = *update.Altitude
		}
		if update.Timestamp != nil {
			next[i].Timestamp = *update.Timestamp
		}
		s.points = next
		return next[i], nil
	}

	return models.RoutePoint{}, ErrPointNotFound
}

// SetAltitude applies a resolved altitude to the matching point. A missing
// id is not an error: the point may have been removed while the lookup was
// in flight, in which case the result is simply discarded.
func (s *Store) SetAltitude(id string, altitude int) bool {
	alt := altitude
	_, err := s.Update(id, PointUpdate{Altitude: &alt})
	return err == nil
}

// Remove deletes the point with the given id and reassigns the remaining
// timestamps from their new indices
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]models.RoutePoint, 0, len(s.points))
	found := false
	for _, p := range s.points {
		if p.ID == id {
			found = true
			continue
		}
		p.Timestamp = len(next) * timestampStepSec
		next = append(next, p)
	}

	if !found {
		return ErrPointNotFound
	}
	s.points = next
	return nil
}

// Clear removes every point
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = nil
}

// ReplaceAll swaps the entire route for the given points, used by import
func (s *Store) ReplaceAll(points []models.RoutePoint) {
	next := make([]models.RoutePoint, len(points))
	copy(next, points)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = next
}

// TotalDistance returns the sum of consecutive point distances in meters
func (s *Store) TotalDistance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for i := 1; i < len(s.points); i++ {
		total += geo.Distance(s.points[i-1].Coordinate(), s.points[i].Coordinate())
	}
	return total
}

// Trajectory builds the exportable form of the current route
func (s *Store) Trajectory() models.Trajectory {
	points := s.Points()

	var total float64
	for i := 1; i < len(points); i++ {
		total += geo.Distance(points[i-1].Coordinate(), points[i].Coordinate())
	}

	totalTime := 0
	if len(points) > 0 {
		totalTime = points[len(points)-1].Timestamp
	}

	return models.Trajectory{
		Points:        points,
		TotalDistance: total,
		TotalTime:     totalTime,
		CreatedAt:     time.Now().UTC(),
	}
}
