package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMetersZeroAtIdentity(t *testing.T) {
	assert.Equal(t, 0, DistanceMeters(14.5995, 120.9842, 14.5995, 120.9842))
	assert.Equal(t, 0, DistanceMeters(0, 0, 0, 0))
	assert.Equal(t, 0, DistanceMeters(-33.8688, 151.2093, -33.8688, 151.2093))
}

func TestDistanceMetersSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{14.5995, 120.9842, 14.6010, 120.9860},
		{0, 0, 0.001, 0.001},
		{51.5007, -0.1246, 48.8584, 2.2945},
		{-33.8688, 151.2093, 35.6762, 139.6503},
	}
	for _, p := range pairs {
		assert.Equal(t, DistanceMeters(p[0], p[1], p[2], p[3]), DistanceMeters(p[2], p[3], p[0], p[1]))
	}
}

func TestDistanceMetersKnownValues(t *testing.T) {
	// One thousandth of a degree of latitude is roughly 111 m.
	d := DistanceMeters(0, 0, 0.001, 0)
	assert.InDelta(t, 111, d, 1)

	// London Eye to Eiffel Tower, roughly 340 km.
	d = DistanceMeters(51.5007, -0.1246, 48.8584, 2.2945)
	assert.InDelta(t, 340000, d, 2000)
}

func TestDistanceMetersGrowsWithSeparation(t *testing.T) {
	near := DistanceMeters(14.5995, 120.9842, 14.5999, 120.9842)
	far := DistanceMeters(14.5995, 120.9842, 14.6095, 120.9842)
	assert.Less(t, near, far)
}
