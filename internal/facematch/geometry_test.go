package facematch

import (
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name     string
		bbox1    BBox
		bbox2    BBox
		expected float64
	}{
		{
			name:     "identical boxes",
			bbox1:    BBox{0, 0, 10, 10},
			bbox2:    BBox{0, 0, 10, 10},
			expected: 1.0,
		},
		{
			name:     "identical fractional boxes",
			bbox1:    BBox{0.1, 0.2, 0.4, 0.6},
			bbox2:    BBox{0.1, 0.2, 0.4, 0.6},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			bbox1:    BBox{0, 0, 10, 10},
			bbox2:    BBox{20, 20, 30, 30},
			expected: 0.0,
		},
		{
			name:     "touching edges",
			bbox1:    BBox{0, 0, 10, 10},
			bbox2:    BBox{10, 0, 20, 10},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			bbox1:    BBox{0, 0, 10, 10},
			bbox2:    BBox{5, 5, 15, 15},
			expected: 25.0 / 175.0, // intersection=25, union=100+100-25=175
		},
		{
			name:     "one inside other",
			bbox1:    BBox{0, 0, 20, 20},
			bbox2:    BBox{5, 5, 15, 15},
			expected: 100.0 / 400.0,
		},
		{
			name:     "degenerate box",
			bbox1:    BBox{5, 5, 5, 5},
			bbox2:    BBox{0, 0, 10, 10},
			expected: 0.0,
		},
		{
			name:     "inverted box",
			bbox1:    BBox{10, 10, 0, 0},
			bbox2:    BBox{0, 0, 10, 10},
			expected: 0.0,
		},
		{
			name:     "zero boxes",
			bbox1:    BBox{},
			bbox2:    BBox{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeIoU(tt.bbox1, tt.bbox2)
			if math.IsNaN(result) {
				t.Fatalf("ComputeIoU(%v, %v) returned NaN", tt.bbox1, tt.bbox2)
			}
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ComputeIoU(%v, %v) = %v, want %v", tt.bbox1, tt.bbox2, result, tt.expected)
			}
			// IoU is symmetric.
			if reverse := ComputeIoU(tt.bbox2, tt.bbox1); math.Abs(reverse-result) > 1e-12 {
				t.Errorf("ComputeIoU is not symmetric: %v vs %v", result, reverse)
			}
		})
	}
}

func TestConvertPixelBBoxToRelative(t *testing.T) {
	tests := []struct {
		name     string
		bbox     []float64
		width    int
		height   int
		expected BBox
	}{
		{
			name:     "simple conversion",
			bbox:     []float64{100, 200, 300, 400},
			width:    1000,
			height:   1000,
			expected: BBox{0.1, 0.2, 0.3, 0.4},
		},
		{
			name:     "full frame",
			bbox:     []float64{0, 0, 1280, 720},
			width:    1280,
			height:   720,
			expected: BBox{0, 0, 1, 1},
		},
		{
			name:     "invalid bbox",
			bbox:     []float64{100, 200},
			width:    1000,
			height:   1000,
			expected: BBox{},
		},
		{
			name:     "zero dimensions",
			bbox:     []float64{100, 200, 300, 400},
			width:    0,
			height:   1000,
			expected: BBox{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertPixelBBoxToRelative(tt.bbox, tt.width, tt.height)
			for i := range result {
				if math.Abs(result[i]-tt.expected[i]) > 0.0001 {
					t.Errorf("ConvertPixelBBoxToRelative()[%d] = %v, want %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestBBoxArea(t *testing.T) {
	if got := (BBox{0, 0, 0.5, 0.5}).Area(); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("Area() = %v, want 0.25", got)
	}
	if got := (BBox{0.5, 0.5, 0, 0}).Area(); got != 0 {
		t.Errorf("inverted box Area() = %v, want 0", got)
	}
}
