package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/ambulance-dispatch/internal/models"
)

// SnapshotStore holds the durable "last known" side of driver state: the
// low-frequency position snapshot and the available-for-dispatch flag.
type SnapshotStore interface {
	// Upsert records a position sample, dropping it if an equal or newer
	// sample is already stored. Sample timestamps are monotonic per driver.
	Upsert(ctx context.Context, p models.DriverPosition) error
	LastKnown(ctx context.Context, driverID string) (models.DriverPosition, bool, error)
	SetAvailability(ctx context.Context, a models.DriverAvailability) error
	Available(ctx context.Context, driverID string) (bool, error)
	// Nearby returns up to limit available drivers closest to the point.
	Nearby(ctx context.Context, lat, lng float64, limit int) ([]models.DriverPosition, error)
}

type Index struct {
	mu        sync.RWMutex
	positions map[string]models.DriverPosition
	available map[string]bool
}

func NewIndex() *Index {
	return &Index{positions: make(map[string]models.DriverPosition), available: make(map[string]bool)}
}

func (g *Index) Upsert(ctx context.Context, p models.DriverPosition) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.positions[p.DriverID]; ok && !p.SampledAt.After(prev.SampledAt) {
		return nil
	}
	g.positions[p.DriverID] = p
	return nil
}

func (g *Index) LastKnown(ctx context.Context, driverID string) (models.DriverPosition, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.positions[driverID]
	return p, ok, nil
}

func (g *Index) SetAvailability(ctx context.Context, a models.DriverAvailability) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.available[a.DriverID] = a.Available
	return nil
}

func (g *Index) Available(ctx context.Context, driverID string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.available[driverID], nil
}

// naive scan; in prod use the Redis GEO index
func (g *Index) Nearby(ctx context.Context, lat, lng float64, limit int) ([]models.DriverPosition, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.DriverPosition
		dist float64
	}
	arr := make([]pair, 0, len(g.positions))
	for id, p := range g.positions {
		if !p.Online || !g.available[id] {
			continue
		}
		arr = append(arr, pair{p, Haversine(lat, lng, p.Lat, p.Lng)})
	}
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.DriverPosition, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
