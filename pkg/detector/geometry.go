// Package detector implements the Canvas Detector (spec.md §4.1, C2): it
// finds the printed canvas's outer border in a camera frame and rectifies
// it onto a flat 720x720 raster for the vision stage. The image-processing
// pipeline is built on gocv.io/x/gocv, grounded on the contour/threshold
// pipeline in other_examples' object-size-detector-go; the pure geometry
// below (ordering, ratio gates) is plain Go so it is unit-testable without a
// built OpenCV runtime.
package detector

import (
	"math"

	"github.com/LX-HMKK/SparkBox/pkg/types"
)

// minOuterArea and maxSideRatio are the outer-quad gates from spec.md §4.1.
const (
	minOuterArea = 5000.0
	maxSideRatio = 1.5

	minInnerArea    = 1000.0
	maxInnerRatio   = 1.2
	approxEpsilonPc = 0.02 // 2% of perimeter, passed to ApproxPolyDP
)

// orderCorners assigns the extremal-sum/difference ordering from spec.md
// §4.1 to an unordered set of exactly four points: TL=argmin(x+y),
// BR=argmax(x+y), TR=argmin(y-x), BL=argmax(y-x).
func orderCorners(pts []types.Point) types.Corners {
	var c types.Corners
	minSum, maxSum := math.Inf(1), math.Inf(-1)
	minDiff, maxDiff := math.Inf(1), math.Inf(-1)

	for _, p := range pts {
		sum := p.X + p.Y
		diff := p.Y - p.X
		if sum < minSum {
			minSum = sum
			c.TL = p
		}
		if sum > maxSum {
			maxSum = sum
			c.BR = p
		}
		if diff < minDiff {
			minDiff = diff
			c.TR = p
		}
		if diff > maxDiff {
			maxDiff = diff
			c.BL = p
		}
	}
	return c
}

// sideLengths returns the four edge lengths of an ordered quad in
// TL->TR->BR->BL->TL order.
func sideLengths(c types.Corners) [4]float64 {
	return [4]float64{
		dist(c.TL, c.TR),
		dist(c.TR, c.BR),
		dist(c.BR, c.BL),
		dist(c.BL, c.TL),
	}
}

func dist(a, b types.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// sideRatio is max(side)/min(side) across a quad's four edges; a square has
// ratio 1, an extreme sliver approaches infinity.
func sideRatio(c types.Corners) float64 {
	sides := sideLengths(c)
	min, max := sides[0], sides[0]
	for _, s := range sides[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if min == 0 {
		return math.Inf(1)
	}
	return max / min
}

// shoelaceArea is the polygon area of an ordered quad via the shoelace
// formula. The detector's own gates take gocv.ContourArea; this pure-Go
// area lets the tests feed those gates without a gocv.Mat pipeline.
func shoelaceArea(c types.Corners) float64 {
	pts := []types.Point{c.TL, c.TR, c.BR, c.BL}
	var sum float64
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(sum) / 2
}

// centroid is the arithmetic mean of an ordered quad's four corners.
func centroid(c types.Corners) types.Point {
	pts := []types.Point{c.TL, c.TR, c.BR, c.BL}
	var sx, sy float64
	for _, p := range pts {
		sx += p.X
		sy += p.Y
	}
	return types.Point{X: sx / float64(len(pts)), Y: sy / float64(len(pts))}
}

// containsPoint is a standard even-odd ray-casting point-in-polygon test,
// used to confirm an inner quad's centroid lies inside the outer quad.
func containsPoint(c types.Corners, p types.Point) bool {
	pts := []types.Point{c.TL, c.TR, c.BR, c.BL}
	inside := false
	for i, j := 0, len(pts)-1; i < len(pts); j, i = i, i+1 {
		pi, pj := pts[i], pts[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) &&
			p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
	}
	return inside
}

// isConvex reports whether an ordered quad's interior turns consistently
// one direction at every vertex (no reflex angle), required before a raw
// ApproxPolyDP polygon is accepted as a candidate outer or inner quad.
func isConvex(pts []types.Point) bool {
	if len(pts) != 4 {
		return false
	}
	var sign float64
	for i := range pts {
		a := pts[i]
		b := pts[(i+1)%len(pts)]
		c := pts[(i+2)%len(pts)]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if cross == 0 {
			continue
		}
		if sign == 0 {
			sign = cross
		} else if (cross > 0) != (sign > 0) {
			return false
		}
	}
	return sign != 0
}

// qualifiesAsOuter applies the outer-quad gates from spec.md §4.1: area at
// least minOuterArea, side ratio at most maxSideRatio.
func qualifiesAsOuter(c types.Corners, area float64) bool {
	return area >= minOuterArea && sideRatio(c) <= maxSideRatio
}

// qualifiesAsInner applies the inner-quad gates: area at least
// minInnerArea, side ratio at most maxInnerRatio, centroid inside outer.
func qualifiesAsInner(outer, inner types.Corners, area float64) bool {
	if area < minInnerArea || sideRatio(inner) > maxInnerRatio {
		return false
	}
	return containsPoint(outer, centroid(inner))
}
