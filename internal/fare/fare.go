// Package fare estimates trip distance and price from two coordinates.
package fare

import (
	"math"

	"github.com/example/carpool-sync/internal/models"
)

const EarthRadiusKm = 6371.0

// Config holds the tariff. FallbackDistanceKm is used whenever a coordinate
// is missing or unusable so that an estimate can always be rendered.
type Config struct {
	BaseFare           models.Money
	PerKmRate          models.Money
	FallbackDistanceKm float64
}

func DefaultConfig() Config {
	return Config{
		BaseFare:           models.Rupees(50),
		PerKmRate:          models.Rupees(10),
		FallbackDistanceKm: 5.0,
	}
}

type Estimate struct {
	DistanceKm float64      `json:"distance_km"`
	Fare       models.Money `json:"fare"`
	Fallback   bool         `json:"fallback"`
}

type Breakdown struct {
	BaseFare     models.Money `json:"base_fare"`
	DistanceFare models.Money `json:"distance_fare"`
	Total        models.Money `json:"total"`
}

type Estimator struct {
	cfg Config
}

func NewEstimator(cfg Config) *Estimator { return &Estimator{cfg: cfg} }

func (e *Estimator) Config() Config { return e.cfg }

// Estimate is pure and safe to call on every render.
func (e *Estimator) Estimate(pickup, drop *models.Coordinate) Estimate {
	if pickup == nil || drop == nil || !pickup.Valid() || !drop.Valid() {
		return Estimate{
			DistanceKm: e.cfg.FallbackDistanceKm,
			Fare:       e.FareFor(e.cfg.FallbackDistanceKm),
			Fallback:   true,
		}
	}
	d := HaversineKm(*pickup, *drop)
	return Estimate{DistanceKm: d, Fare: e.FareFor(d)}
}

// FareFor prices a known distance.
func (e *Estimator) FareFor(distanceKm float64) models.Money {
	return e.Breakdown(distanceKm).Total
}

func (e *Estimator) Breakdown(distanceKm float64) Breakdown {
	dist := e.cfg.PerKmRate.MulKm(distanceKm)
	return Breakdown{
		BaseFare:     e.cfg.BaseFare,
		DistanceFare: dist,
		Total:        e.cfg.BaseFare + dist,
	}
}

// HaversineKm is the great-circle distance in kilometres.
func HaversineKm(a, b models.Coordinate) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}
