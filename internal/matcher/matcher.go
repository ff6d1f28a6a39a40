// Package matcher ranks the open rides a rider could join.
package matcher

import (
	"context"
	"fmt"

	"github.com/example/carpool-sync/internal/geo"
	"github.com/example/carpool-sync/internal/models"
)

const DefaultRadiusKm = 5.0

type Nearby struct {
	Ride       models.Ride `json:"ride"`
	DistanceKm float64     `json:"distance_km"`
}

type Service struct {
	Index    geo.Index
	RadiusKm float64
}

func NewService(idx geo.Index, radiusKm float64) *Service {
	if idx == nil {
		idx = geo.NewMemoryIndex()
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	return &Service{Index: idx, RadiusKm: radiusKm}
}

// NearbyRides returns the joinable rides whose pickup lies within the radius
// of from, nearest first, keeping only the nearest ride of each driver.
func (s *Service) NearbyRides(ctx context.Context, rides []models.Ride, from models.Coordinate) ([]Nearby, error) {
	if !from.Valid() {
		return nil, fmt.Errorf("nearby rides: invalid origin %+v", from)
	}
	byID := make(map[int64]models.Ride, len(rides))
	pts := make([]geo.Point, 0, len(rides))
	for _, r := range rides {
		if r.Status != models.RideActive || r.AvailableSeats <= 0 {
			continue
		}
		byID[r.ID] = r
		pts = append(pts, geo.Point{RideID: r.ID, Coordinate: r.Pickup.Coordinate})
	}
	if err := s.Index.Replace(ctx, pts); err != nil {
		return nil, err
	}
	hits, err := s.Index.Within(ctx, from, s.RadiusKm)
	if err != nil {
		return nil, err
	}

	seenDriver := make(map[int64]bool)
	out := make([]Nearby, 0, len(hits))
	for _, h := range hits {
		r, ok := byID[h.RideID]
		if !ok || seenDriver[r.DriverID] {
			continue
		}
		seenDriver[r.DriverID] = true
		out = append(out, Nearby{Ride: r, DistanceKm: h.DistanceKm})
	}
	return out, nil
}
