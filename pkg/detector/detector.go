package detector

import (
	"image"
	"image/color"

	"github.com/LX-HMKK/SparkBox/pkg/types"
	"gocv.io/x/gocv"
)

// Calibration holds the camera intrinsics used to undistort a raw frame
// before contour search, per spec.md §4.1.
type Calibration struct {
	K    gocv.Mat
	Dist gocv.Mat
}

// Result is one call's output: the annotated frame for the MJPEG stream,
// the undistorted full frame Rectify must warp from (per spec.md §4.1/§4.2
// degraded mode, the pipeline always runs against undistorted coordinates,
// never the raw distorted frame), the current corners (nil if never
// detected), and whether this call found a fresh outer quad. The caller
// owns Annotated and Undistorted and must Close both.
type Result struct {
	Annotated   gocv.Mat
	Undistorted gocv.Mat
	Corners     *types.Corners
	Found       bool
}

// Detector finds the canvas's outer border and rectifies it. It is not
// safe for concurrent use; the camera loop (C3) owns a single instance.
type Detector struct {
	calib   Calibration
	corners *types.Corners // carry-forward across frames per spec.md §4.1
}

// New builds a Detector bound to one camera's calibration.
func New(calib Calibration) *Detector {
	return &Detector{calib: calib}
}

// Corners returns the most recently detected outer quad, or nil if no
// detection has ever succeeded.
func (d *Detector) Corners() *types.Corners {
	return d.corners
}

// Process runs one frame through the undistort -> gray -> blur -> Otsu ->
// contour pipeline, updates the carry-forward corners on success, and
// returns an annotated copy of frame. A failed detection is not an error:
// Corners() simply keeps its previous value.
func (d *Detector) Process(frame gocv.Mat) Result {
	undistorted := gocv.NewMat()
	if !d.calib.K.Empty() {
		gocv.Undistort(frame, &undistorted, d.calib.K, d.calib.Dist, d.calib.K)
	} else {
		frame.CopyTo(&undistorted)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(undistorted, &gray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(gray, &gray, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best, _, found := d.findOuterQuad(contours)

	annotated := gocv.NewMat()
	undistorted.CopyTo(&annotated)

	if found {
		d.corners = &best
		drawQuad(&annotated, best)
		if inner, ok := d.findInnerQuad(gray, best); ok {
			drawQuad(&annotated, inner)
		}
	}

	return Result{Annotated: annotated, Undistorted: undistorted, Corners: d.corners, Found: found}
}

// findOuterQuad scans every external contour for the largest quad passing
// the area/ratio/convexity gates from spec.md §4.1.
func (d *Detector) findOuterQuad(contours gocv.PointsVector) (types.Corners, float64, bool) {
	var best types.Corners
	bestArea := 0.0
	found := false

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < minOuterArea {
			continue
		}

		peri := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, approxEpsilonPc*peri, true)
		pts := toPoints(approx)
		approx.Close()

		if len(pts) != 4 || !isConvex(pts) {
			continue
		}

		ordered := orderCorners(pts)
		if !qualifiesAsOuter(ordered, area) {
			continue
		}
		if area > bestArea {
			best = ordered
			bestArea = area
			found = true
		}
	}

	return best, bestArea, found
}

// findInnerQuad searches inside the outer quad's bounding rectangle for the
// canvas's inner white border: re-binarize with inverted Otsu, retrieve the
// contours in tree mode, and accept the first four-vertex convex contour
// whose centroid lies inside outer and whose area/ratio pass the inner
// gates. The parent/child hierarchy is not read, and there is no second,
// nested search inside the accepted quad. It is informational (used for
// annotation only); Rectify always warps from the outer corners.
func (d *Detector) findInnerQuad(gray gocv.Mat, outer types.Corners) (types.Corners, bool) {
	bounds := boundingRect(outer)
	if bounds.Empty() {
		return types.Corners{}, false
	}

	region := gray.Region(bounds)
	defer region.Close()

	inv := gocv.NewMat()
	defer inv.Close()
	gocv.Threshold(region, &inv, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)

	contours := gocv.FindContours(inv, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer contours.Close()

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < minInnerArea {
			continue
		}
		peri := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, approxEpsilonPc*peri, true)
		pts := toPoints(approx)
		approx.Close()

		if len(pts) != 4 || !isConvex(pts) {
			continue
		}

		// region-local coordinates -> frame coordinates
		for i := range pts {
			pts[i].X += float64(bounds.Min.X)
			pts[i].Y += float64(bounds.Min.Y)
		}

		ordered := orderCorners(pts)
		if qualifiesAsInner(outer, ordered, area) {
			return ordered, true
		}
	}
	return types.Corners{}, false
}

// boundingRect is the axis-aligned integer bounding box of an ordered quad.
func boundingRect(c types.Corners) image.Rectangle {
	pts := []types.Point{c.TL, c.TR, c.BR, c.BL}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return image.Rect(int(minX), int(minY), int(maxX), int(maxY))
}

// Rectify warps the undistorted full frame onto a canvasSize x canvasSize
// raster using the currently stored outer corners. If no corners have ever
// been detected, it returns frame unchanged (the documented degraded mode
// from spec.md §4.1: the capture still proceeds on the unrectified,
// undistorted frame).
func (d *Detector) Rectify(frame gocv.Mat, canvasSize int) gocv.Mat {
	if d.corners == nil {
		out := gocv.NewMat()
		frame.CopyTo(&out)
		return out
	}

	src := gocv.NewPointVectorFromPoints([]image.Point{
		toImagePoint(d.corners.TL),
		toImagePoint(d.corners.TR),
		toImagePoint(d.corners.BR),
		toImagePoint(d.corners.BL),
	})
	defer src.Close()

	dst := gocv.NewPointVectorFromPoints([]image.Point{
		{X: 0, Y: 0},
		{X: canvasSize, Y: 0},
		{X: canvasSize, Y: canvasSize},
		{X: 0, Y: canvasSize},
	})
	defer dst.Close()

	transform := gocv.GetPerspectiveTransform(src, dst)
	defer transform.Close()

	out := gocv.NewMat()
	gocv.WarpPerspective(frame, &out, transform, image.Pt(canvasSize, canvasSize))
	return out
}

var outlineColor = color.RGBA{R: 0, G: 200, B: 0, A: 0}

func drawQuad(m *gocv.Mat, c types.Corners) {
	pts := []image.Point{toImagePoint(c.TL), toImagePoint(c.TR), toImagePoint(c.BR), toImagePoint(c.BL)}
	for i := range pts {
		j := (i + 1) % len(pts)
		gocv.Line(m, pts[i], pts[j], outlineColor, 2)
	}
}

// toPoints converts a gocv contour's integer pixel points into the
// pure-Go float Point type the geometry helpers operate on.
func toPoints(pv gocv.PointVector) []types.Point {
	raw := pv.ToPoints()
	out := make([]types.Point, len(raw))
	for i, p := range raw {
		out[i] = types.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return out
}

func toImagePoint(p types.Point) image.Point {
	return image.Pt(int(p.X), int(p.Y))
}
