// Package fence evaluates detection messages against per-camera virtual
// fences and persists the resulting events.
package fence

import (
	"github.com/fencewatch/fencewatch/internal/config"
)

// PointInPolygon runs a ray-casting test for a normalized point against a
// polygon. For each edge, a crossing counts iff the edge straddles the
// point's y and the horizontal intersection lies strictly right of the
// point. Points on an edge are implementation-defined but stable.
func PointInPolygon(x, y float64, polygon []config.Point) bool {
	if len(polygon) < 3 {
		return false
	}

	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		xi, yi := polygon[i].X, polygon[i].Y
		xj, yj := polygon[j].X, polygon[j].Y

		div := yj - yi
		if div == 0 {
			div = 1e-9
		}
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/div+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}
