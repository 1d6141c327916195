package eta

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
)

// Client is the routing collaborator: given two points it returns the
// drivable path and a human-readable duration.
type Client interface {
	ComputeRoute(ctx context.Context, origin, destination models.Coord) (models.Route, error)
}

// Estimator is a routing fallback that draws a straight line and derives
// the duration from an assumed speed. Used when no OSRM endpoint is set.
type Estimator struct {
	SpeedMps float64
}

func (e Estimator) ComputeRoute(ctx context.Context, origin, destination models.Coord) (models.Route, error) {
	speed := e.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Haversine(origin.Lat, origin.Lng, destination.Lat, destination.Lng)
	return models.Route{
		Path:         []models.Coord{origin, destination},
		DurationText: DurationText(d / speed),
	}, nil
}

// DurationText renders seconds the way the map vendors do: "4 mins",
// "1 hour 10 mins".
func DurationText(seconds float64) string {
	mins := int(math.Ceil(seconds / 60))
	if mins < 1 {
		mins = 1
	}
	switch {
	case mins == 1:
		return "1 min"
	case mins < 60:
		return fmt.Sprintf("%d mins", mins)
	}
	h, m := mins/60, mins%60
	unit := "hours"
	if h == 1 {
		unit = "hour"
	}
	if m == 0 {
		return fmt.Sprintf("%d %s", h, unit)
	}
	return fmt.Sprintf("%d %s %d mins", h, unit, m)
}

// Cache is a tiny in-memory cache for route lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	r  models.Route
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

func (c *Cache) Get(a, b models.Coord) (models.Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return models.Route{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return models.Route{}, false
	}
	return e.r, true
}

func (c *Cache) Set(a, b models.Coord, r models.Route) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{r: r, ts: time.Now()}
	c.mu.Unlock()
}

// Cached wraps a Client with a Cache. Errors are never cached: a failed
// routing call must stay visible to the caller every time.
type Cached struct {
	Client Client
	Cache  *Cache
}

func (c Cached) ComputeRoute(ctx context.Context, origin, destination models.Coord) (models.Route, error) {
	if r, ok := c.Cache.Get(origin, destination); ok {
		return r, nil
	}
	r, err := c.Client.ComputeRoute(ctx, origin, destination)
	if err != nil {
		return models.Route{}, err
	}
	c.Cache.Set(origin, destination, r)
	return r, nil
}
