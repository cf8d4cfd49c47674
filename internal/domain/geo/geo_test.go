package geo

import (
	"math"
	"testing"
)

func TestDegreeDistance(t *testing.T) {
	if d := DegreeDistance(35.0, 139.0, 35.0, 139.0); d != 0 {
		t.Errorf("distance to self = %f, want 0", d)
	}
	near := DegreeDistance(35.80, 139.46, 35.81, 139.46)
	far := DegreeDistance(35.80, 139.46, 36.00, 139.90)
	if near >= far {
		t.Errorf("ordering broken: near=%f far=%f", near, far)
	}
}

func TestHaversine_TokyoOsaka(t *testing.T) {
	// Tokyo Station to Osaka Station is roughly 400 km.
	d := Haversine(35.6812, 139.7671, 34.7025, 135.4959)
	if d < 380_000 || d > 420_000 {
		t.Errorf("Haversine = %f, want ~400km", d)
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		lat, lng float64
		want     bool
	}{
		{35.8, 139.46, true},
		{-90, 180, true},
		{91, 0, false},
		{0, -181, false},
		{math.NaN(), 0, false},
		{0, math.Inf(1), false},
	}
	for _, c := range cases {
		if got := Valid(c.lat, c.lng); got != c.want {
			t.Errorf("Valid(%f, %f) = %v, want %v", c.lat, c.lng, got, c.want)
		}
	}
}
