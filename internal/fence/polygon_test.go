package fence

import (
	"testing"

	"github.com/fencewatch/fencewatch/internal/config"
)

func triangle() []config.Point {
	return []config.Point{{X: 0.2, Y: 0.2}, {X: 0.8, Y: 0.2}, {X: 0.5, Y: 0.8}}
}

func TestPointInPolygon_Triangle(t *testing.T) {
	poly := triangle()

	if !PointInPolygon(0.5, 0.3, poly) {
		t.Error("(0.5, 0.3) should be inside the triangle")
	}
	if PointInPolygon(0.1, 0.3, poly) {
		t.Error("(0.1, 0.3) should be outside the triangle")
	}
	if PointInPolygon(0.5, 0.9, poly) {
		t.Error("(0.5, 0.9) should be outside the triangle")
	}
}

func TestPointInPolygon_VertexIsStable(t *testing.T) {
	// Boundary semantics are implementation-defined; the result just has to
	// be the same on every call.
	poly := triangle()
	first := PointInPolygon(0.2, 0.2, poly)
	for i := 0; i < 10; i++ {
		if PointInPolygon(0.2, 0.2, poly) != first {
			t.Fatal("vertex test result changed between runs")
		}
	}
}

func TestPointInPolygon_Square(t *testing.T) {
	poly := []config.Point{{X: 0.1, Y: 0.1}, {X: 0.9, Y: 0.1}, {X: 0.9, Y: 0.9}, {X: 0.1, Y: 0.9}}

	inside := [][2]float64{{0.5, 0.5}, {0.15, 0.15}, {0.85, 0.85}}
	outside := [][2]float64{{0.05, 0.5}, {0.95, 0.5}, {0.5, 0.95}, {0, 0}, {1, 1}}

	for _, p := range inside {
		if !PointInPolygon(p[0], p[1], poly) {
			t.Errorf("(%v, %v) should be inside the square", p[0], p[1])
		}
	}
	for _, p := range outside {
		if PointInPolygon(p[0], p[1], poly) {
			t.Errorf("(%v, %v) should be outside the square", p[0], p[1])
		}
	}
}

func TestPointInPolygon_Concave(t *testing.T) {
	// U-shaped polygon: the notch between the arms is outside.
	poly := []config.Point{
		{X: 0.1, Y: 0.1}, {X: 0.4, Y: 0.1}, {X: 0.4, Y: 0.6}, {X: 0.6, Y: 0.6},
		{X: 0.6, Y: 0.1}, {X: 0.9, Y: 0.1}, {X: 0.9, Y: 0.9}, {X: 0.1, Y: 0.9},
	}

	if !PointInPolygon(0.2, 0.3, poly) {
		t.Error("left arm point should be inside")
	}
	if !PointInPolygon(0.5, 0.8, poly) {
		t.Error("base point should be inside")
	}
	if PointInPolygon(0.5, 0.3, poly) {
		t.Error("notch point should be outside")
	}
}

func TestPointInPolygon_Degenerate(t *testing.T) {
	if PointInPolygon(0.5, 0.5, []config.Point{{X: 0.1, Y: 0.1}, {X: 0.9, Y: 0.9}}) {
		t.Error("a polygon with fewer than 3 points contains nothing")
	}
	if PointInPolygon(0.5, 0.5, nil) {
		t.Error("nil polygon contains nothing")
	}
}
