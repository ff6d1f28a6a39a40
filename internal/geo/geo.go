// Package geo indexes ride pickup points for radius queries.
package geo

import (
	"context"
	"sort"
	"sync"

	"github.com/example/carpool-sync/internal/fare"
	"github.com/example/carpool-sync/internal/models"
)

// Point is one indexed pickup.
type Point struct {
	RideID     int64
	Coordinate models.Coordinate
}

// Hit is a point inside the query radius.
type Hit struct {
	RideID     int64
	DistanceKm float64
}

// Index is the minimal interface required by the matcher. Replace swaps the
// whole set in one step since every poll is a full snapshot.
type Index interface {
	Replace(ctx context.Context, pts []Point) error
	Within(ctx context.Context, c models.Coordinate, radiusKm float64) ([]Hit, error)
}

type MemoryIndex struct {
	mu  sync.RWMutex
	pts map[int64]models.Coordinate
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{pts: make(map[int64]models.Coordinate)}
}

func (g *MemoryIndex) Replace(_ context.Context, pts []Point) error {
	m := make(map[int64]models.Coordinate, len(pts))
	for _, p := range pts {
		if p.Coordinate.Valid() {
			m[p.RideID] = p.Coordinate
		}
	}
	g.mu.Lock()
	g.pts = m
	g.mu.Unlock()
	return nil
}

// naive scan; the catalog is a dozen points
func (g *MemoryIndex) Within(_ context.Context, c models.Coordinate, radiusKm float64) ([]Hit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Hit, 0, len(g.pts))
	for id, p := range g.pts {
		d := fare.HaversineKm(c, p)
		if d <= radiusKm {
			out = append(out, Hit{RideID: id, DistanceKm: d})
		}
	}
	sortHits(out)
	return out, nil
}

func sortHits(h []Hit) {
	sort.Slice(h, func(i, j int) bool {
		if h[i].DistanceKm != h[j].DistanceKm {
			return h[i].DistanceKm < h[j].DistanceKm
		}
		return h[i].RideID < h[j].RideID
	})
}
