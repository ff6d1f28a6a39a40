// Package locations is the fixed catalog of named pickup and drop points.
package locations

import (
	"strings"

	"github.com/example/carpool-sync/internal/models"
)

var catalog = []models.Location{
	{Name: "Hinjewadi Phase 1", Coordinate: models.Coordinate{Lat: 18.5912, Lng: 73.7389}},
	{Name: "Hinjewadi Phase 2", Coordinate: models.Coordinate{Lat: 18.5827, Lng: 73.7241}},
	{Name: "Kothrud", Coordinate: models.Coordinate{Lat: 18.5074, Lng: 73.8077}},
	{Name: "Baner", Coordinate: models.Coordinate{Lat: 18.5593, Lng: 73.7793}},
	{Name: "Aundh", Coordinate: models.Coordinate{Lat: 18.5592, Lng: 73.8074}},
	{Name: "Viman Nagar", Coordinate: models.Coordinate{Lat: 18.5679, Lng: 73.9172}},
	{Name: "Wakad", Coordinate: models.Coordinate{Lat: 18.5761, Lng: 73.8138}},
	{Name: "Pimpri", Coordinate: models.Coordinate{Lat: 18.6298, Lng: 73.8006}},
	{Name: "Akurdi", Coordinate: models.Coordinate{Lat: 18.6368, Lng: 73.8237}},
	{Name: "Pune Railway Station", Coordinate: models.Coordinate{Lat: 18.5204, Lng: 73.8567}},
	{Name: "FC Road", Coordinate: models.Coordinate{Lat: 18.5301, Lng: 73.8445}},
	{Name: "Koregaon Park", Coordinate: models.Coordinate{Lat: 18.5334, Lng: 73.8822}},
}

var byKey = func() map[string]models.Location {
	m := make(map[string]models.Location, len(catalog))
	for _, l := range catalog {
		m[key(l.Name)] = l
	}
	return m
}()

func key(name string) string { return strings.ToLower(strings.Join(strings.Fields(name), " ")) }

// All returns a copy of the catalog in display order.
func All() []models.Location {
	out := make([]models.Location, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a location by name, ignoring case and extra whitespace.
func Lookup(name string) (models.Location, bool) {
	l, ok := byKey[key(name)]
	return l, ok
}

// Coordinate returns a pointer suitable for fare estimation, nil when the
// name is not in the catalog.
func Coordinate(name string) *models.Coordinate {
	l, ok := Lookup(name)
	if !ok {
		return nil
	}
	c := l.Coordinate
	return &c
}
