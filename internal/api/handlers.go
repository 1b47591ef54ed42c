package api

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/altiroute/altiroute_core/internal/cache"
	"github.com/altiroute/altiroute_core/internal/elevation"
	"github.com/altiroute/altiroute_core/internal/middleware"
	"github.com/altiroute/altiroute_core/internal/models"
	"github.com/altiroute/altiroute_core/internal/route"
	"github.com/altiroute/altiroute_core/internal/trajectory"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// API bundles the elevation subsystem behind HTTP handlers. Dependencies
// are injected so tests can stand up mock providers.
type API struct {
	resolver *elevation.Resolver
	profiles *elevation.ProfileBuilder
	prober   *elevation.Prober
	store    *route.Store
}

// New creates the handler set
func New(resolver *elevation.Resolver, profiles *elevation.ProfileBuilder, prober *elevation.Prober, store *route.Store) *API {
	return &API{
		resolver: resolver,
		profiles: profiles,
		prober:   prober,
		store:    store,
	}
}

// ElevationResponse is the single-point resolve payload
type ElevationResponse struct {
	Elevation      int                        `json:"elevation"`
	Source         models.ElevationSource     `json:"source"`
	Fallback       bool                       `json:"fallback"`
	LikelyFallback bool                       `json:"likely_fallback"`
	Failures       []elevation.AttemptFailure `json:"failures,omitempty"`
}

// Health handles the /health endpoint
func (a *API) Health(c *fiber.Ctx) error {
	ctx := c.Context()

	cacheStatus := "ok"
	if err := cache.HealthCheck(ctx); err != nil {
		cacheStatus = err.Error()
	}

	// The service stays healthy without Redis; the cache is an optimization
	return c.JSON(fiber.Map{
		"status": "healthy",
		"checks": fiber.Map{
			"cache": cacheStatus,
		},
		"route_points": a.store.Len(),
	})
}

// Diagnostics handles GET /v1/diagnostics: Redis cache statistics plus
// today's per-endpoint usage counters written by the analytics middleware
func (a *API) Diagnostics(c *fiber.Ctx) error {
	ctx := c.Context()

	resp := fiber.Map{
		"route_points": a.store.Len(),
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		resp["cache"] = fiber.Map{"available": false, "reason": err.Error()}
	} else {
		resp["cache"] = stats
	}

	var rdb *redis.Client
	if client, err := cache.GetClient(); err == nil {
		rdb = client
	}

	routes := c.App().GetRoutes(true)
	paths := make([]string, 0, len(routes))
	seen := make(map[string]struct{}, len(routes))
	for _, rt := range routes {
		if _, dup := seen[rt.Path]; dup {
			continue
		}
		seen[rt.Path] = struct{}{}
		paths = append(paths, rt.Path)
	}
	resp["endpoints"] = middleware.EndpointStats(ctx, rdb, paths)

	return c.JSON(resp)
}

// GetElevation handles GET /v1/elevation?lat=&lon=&source=
func (a *API) GetElevation(c *fiber.Ctx) error {
	lat, lon, err := parseLatLon(c.Query("lat"), c.Query("lon"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	source := models.ElevationSource(c.Query("source", string(models.SourceAuto)))

	res := a.resolver.Resolve(c.Context(), models.Coordinate{Lat: lat, Lng: lon}, source)
	return c.JSON(toElevationResponse(res))
}

// profileRequest is the POST /v1/profile body
type profileRequest struct {
	Waypoints []models.Coordinate `json:"waypoints"`
}

// BuildProfile handles POST /v1/profile
func (a *API) BuildProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	profile, err := a.profiles.Build(c.Context(), req.Waypoints)
	if err != nil {
		if errors.Is(err, elevation.ErrInsufficientWaypoints) {
			return c.Status(400).JSON(fiber.Map{"error": "insufficient_waypoints", "message": err.Error()})
		}
		log.Printf("Profile build failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(profile)
}

// ProviderStatus handles GET /v1/providers/status
func (a *API) ProviderStatus(c *fiber.Ctx) error {
	return c.JSON(a.prober.ProbeAll(c.Context()))
}

// GetRoute handles GET /v1/route
func (a *API) GetRoute(c *fiber.Ctx) error {
	points := a.store.Points()
	if points == nil {
		points = []models.RoutePoint{}
	}
	return c.JSON(fiber.Map{
		"points":         points,
		"total_distance": a.store.TotalDistance(),
	})
}

// addPointRequest is the POST /v1/route/points body
type addPointRequest struct {
	Lat    float64                `json:"lat"`
	Lng    float64                `json:"lng"`
	Name   string                 `json:"name"`
	Source models.ElevationSource `json:"source"`
}

// AddPoint handles POST /v1/route/points. The point's altitude is resolved
// immediately with the requested source (auto by default).
func (a *API) AddPoint(c *fiber.Ctx) error {
	var req addPointRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	coord := models.Coordinate{Lat: req.Lat, Lng: req.Lng}
	if !coord.Valid() {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("coordinates out of range: (%.4f, %.4f)", req.Lat, req.Lng),
		})
	}

	source := req.Source
	if source == "" {
		source = models.SourceAuto
	}

	res := a.resolver.Resolve(c.Context(), coord, source)
	point := a.store.Add(req.Lat, req.Lng, res.Altitude, req.Name)

	return c.Status(201).JSON(fiber.Map{
		"point":     point,
		"elevation": toElevationResponse(res),
	})
}

// updatePointRequest is the PATCH /v1/route/points/:id body
type updatePointRequest struct {
	Name      *string `json:"name"`
	Altitude  *int    `json:"altitude"`
	Timestamp *int    `json:"timestamp"`
}

// UpdatePoint handles PATCH /v1/route/points/:id
func (a *API) UpdatePoint(c *fiber.Ctx) error {
	var req updatePointRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	point, err := a.store.Update(c.Params("id"), route.PointUpdate{
		Name:      req.Name,
		Altitude:  req.Altitude,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "point not found"})
	}

	return c.JSON(point)
}

// RefreshPointElevation handles POST /v1/route/points/:id/elevation.
// Re-resolves the point's altitude with the requested source and applies
// the result by id, so a concurrent removal simply discards it.
func (a *API) RefreshPointElevation(c *fiber.Ctx) error {
	id := c.Params("id")

	var target *models.RoutePoint
	for _, p := range a.store.Points() {
		if p.ID == id {
			point := p
			target = &point
			break
		}
	}
	if target == nil {
		return c.Status(404).JSON(fiber.Map{"error": "point not found"})
	}

	source := models.ElevationSource(c.Query("source", string(models.SourceAuto)))
	res := a.resolver.Resolve(c.Context(), target.Coordinate(), source)

	if !a.store.SetAltitude(id, res.Altitude) {
		return c.Status(404).JSON(fiber.Map{"error": "point not found"})
	}

	return c.JSON(toElevationResponse(res))
}

// DeletePoint handles DELETE /v1/route/points/:id
func (a *API) DeletePoint(c *fiber.Ctx) error {
	if err := a.store.Remove(c.Params("id")); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "point not found"})
	}
	return c.SendStatus(204)
}

// ClearRoute handles DELETE /v1/route
func (a *API) ClearRoute(c *fiber.Ctx) error {
	a.store.Clear()
	return c.SendStatus(204)
}

// ExportTrajectory handles GET /v1/route/export
func (a *API) ExportTrajectory(c *fiber.Ctx) error {
	traj := a.store.Trajectory()

	data, err := trajectory.Encode(traj)
	if err != nil {
		log.Printf("Trajectory export failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}

	c.Set("Content-Type", "application/json")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", trajectory.Filename(time.Now())))
	return c.Send(data)
}

// ImportTrajectory handles POST /v1/route/import. The whole route is
// replaced atomically; malformed input leaves current state untouched.
func (a *API) ImportTrajectory(c *fiber.Ctx) error {
	traj, err := trajectory.Decode(c.Body())
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error":   "import_failed",
			"message": err.Error(),
		})
	}

	a.store.ReplaceAll(traj.Points)
	return c.JSON(fiber.Map{
		"imported": len(traj.Points),
	})
}

// ExportProfile handles GET /v1/route/profile/export: builds a detailed
// profile over the current route and returns it as a downloadable file
func (a *API) ExportProfile(c *fiber.Ctx) error {
	points := a.store.Points()
	waypoints := make([]models.Coordinate, len(points))
	for i, p := range points {
		waypoints[i] = p.Coordinate()
	}

	profile, err := a.profiles.Build(c.Context(), waypoints)
	if err != nil {
		if errors.Is(err, elevation.ErrInsufficientWaypoints) {
			return c.Status(400).JSON(fiber.Map{"error": "insufficient_waypoints", "message": err.Error()})
		}
		log.Printf("Profile export failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}

	data, err := trajectory.EncodeProfile(profile, models.SourceAuto, time.Now())
	if err != nil {
		log.Printf("Profile export failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}

	c.Set("Content-Type", "application/json")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", trajectory.ProfileFilename(time.Now())))
	return c.Send(data)
}

func toElevationResponse(res elevation.Result) ElevationResponse {
	return ElevationResponse{
		Elevation:      res.Altitude,
		Source:         res.Source,
		Fallback:       res.Fallback,
		LikelyFallback: elevation.LikelyFallback(res.Altitude),
		Failures:       res.Failures,
	}
}

// parseLatLon parses lat/lon query values. Range checking is left to the
// resolver, which answers out-of-range coordinates with a regional
// estimate instead of an error.
func parseLatLon(latStr, lonStr string) (lat, lon float64, err error) {
	if strings.TrimSpace(latStr) == "" || strings.TrimSpace(lonStr) == "" {
		return 0, 0, fmt.Errorf("missing required parameters: lat and lon")
	}

	lat, err = strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude: %w", err)
	}

	lon, err = strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude: %w", err)
	}

	return lat, lon, nil
}
