package tactile

import "gonum.org/v1/gonum/interp"

// PathLength returns the total arc length of the polyline.
func PathLength(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += points[i-1].Dist(points[i])
	}
	return total
}

// Resample returns exactly n points along the polyline, evenly spaced by arc
// length. The first and last outputs equal the first and last inputs.
// A polyline with fewer than 2 points (or no length at all) yields its first
// point repeated n times; an empty polyline or n < 1 yields an empty slice.
func Resample(points []Point, n int) []Point {
	if n < 1 || len(points) == 0 {
		return []Point{}
	}
	result := make([]Point, n)
	if len(points) < 2 || n == 1 {
		for i := range result {
			result[i] = points[0]
		}
		return result
	}

	// Arc length parameter s at each vertex. A vertex is kept only when it
	// moves s forward in float64, because the interpolators need strictly
	// increasing s. Segments shorter than the ulp of s are dropped too.
	s := []float64{0}
	xs := []float64{points[0].X}
	ys := []float64{points[0].Y}
	prev := points[0]
	for _, p := range points[1:] {
		next := s[len(s)-1] + prev.Dist(p)
		if !(next > s[len(s)-1]) {
			continue
		}
		s = append(s, next)
		xs = append(xs, p.X)
		ys = append(ys, p.Y)
		prev = p
	}
	total := s[len(s)-1]

	var fx, fy interp.PiecewiseLinear
	if len(s) < 2 || fx.Fit(s, xs) != nil || fy.Fit(s, ys) != nil {
		for i := range result {
			result[i] = points[0]
		}
		return result
	}
	for i := range result {
		target := total * float64(i) / float64(n-1)
		result[i] = Point{X: fx.Predict(target), Y: fy.Predict(target)}
	}
	result[0] = points[0]
	result[n-1] = points[len(points)-1]
	return result
}
