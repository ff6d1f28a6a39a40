package locations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIgnoresCaseAndSpacing(t *testing.T) {
	l, ok := Lookup("  hinjewadi   PHASE 1 ")
	require.True(t, ok)
	assert.Equal(t, "Hinjewadi Phase 1", l.Name)
	assert.InDelta(t, 18.5912, l.Coordinate.Lat, 1e-9)
}

func TestLookupUnknown(t *testing.T) {
	_, ok := Lookup("Mumbai")
	assert.False(t, ok)
	assert.Nil(t, Coordinate("Mumbai"))
}

func TestAllIsACopy(t *testing.T) {
	a := All()
	require.Len(t, a, 12)
	a[0].Name = "changed"
	assert.Equal(t, "Hinjewadi Phase 1", All()[0].Name)
}

func TestCatalogCoordinatesValid(t *testing.T) {
	for _, l := range All() {
		assert.True(t, l.Coordinate.Valid(), l.Name)
		c := Coordinate(l.Name)
		require.NotNil(t, c, l.Name)
		assert.Equal(t, l.Coordinate, *c)
	}
}
