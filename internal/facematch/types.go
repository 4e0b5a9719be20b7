// Package facematch provides the geometry and vector helpers shared by the
// recognition engine, the enrollment pipeline and the attendance collator.
package facematch

// BBox is a face bounding box in [x_min, y_min, x_max, y_max] order.
// Boxes produced by the engine are fractional (0-1) relative to the frame size.
type BBox [4]float64

// Width returns the horizontal extent of the box, clamped at zero.
func (b BBox) Width() float64 {
	return max(0, b[2]-b[0])
}

// Height returns the vertical extent of the box, clamped at zero.
func (b BBox) Height() float64 {
	return max(0, b[3]-b[1])
}

// Area returns the box area. Degenerate boxes have zero area.
func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}
