package facematch

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// Both boxes must use the same coordinate system. Disjoint or touching boxes
// yield 0, and a zero union never produces NaN.
func ComputeIoU(a, b BBox) float64 {
	// Calculate intersection.
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	if x1 >= x2 || y1 >= y2 {
		return 0 // No intersection
	}

	intersection := BBox{x1, y1, x2, y2}.Area()
	union := a.Area() + b.Area() - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// ConvertPixelBBoxToRelative converts a pixel bbox [x1, y1, x2, y2] to
// fractions of the frame. Malformed input yields the zero box.
func ConvertPixelBBoxToRelative(bbox []float64, width, height int) BBox {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return BBox{}
	}
	return BBox{
		bbox[0] / float64(width),
		bbox[1] / float64(height),
		bbox[2] / float64(width),
		bbox[3] / float64(height),
	}
}
