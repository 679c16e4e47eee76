package geo

import (
	"math"
	"testing"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Lagos Island to Ikeja, roughly 16-17 km.
	d := HaversineKM(6.4550, 3.3941, 6.6018, 3.3515)
	if d < 15 || d > 18 {
		t.Fatalf("expected ~16km, got %v", d)
	}
}

func TestHaversineZero(t *testing.T) {
	if d := HaversineKM(6.5, 3.3, 6.5, 3.3); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestHeadingDeltaWraps(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{0, 0, 0},
		{10, 350, 20},
		{350, 10, 20},
		{90, 270, 180},
		{0, 180, 180},
		{45, 90, 45},
	}
	for _, c := range cases {
		if got := HeadingDelta(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("HeadingDelta(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
