package recognition

import (
	"encoding/json"
	"time"

	"github.com/kozaktomas/facewatch/internal/facematch"
)

// Decision records which rule labelled a face.
type Decision int

const (
	DecisionUnknown Decision = iota
	DecisionDirect
	DecisionDifferentiated
	DecisionPersisted
	DecisionCarried // not in this frame, kept for the holding time
)

func (d Decision) String() string {
	switch d {
	case DecisionDirect:
		return "direct"
	case DecisionDifferentiated:
		return "differentiated"
	case DecisionPersisted:
		return "persisted"
	case DecisionCarried:
		return "carried"
	default:
		return "unknown"
	}
}

// Result is one entry of a result set. Faces detected in the frame carry a
// bounding box and a score; identities carried over from earlier frames
// carry only a label.
type Result struct {
	BBox     *facematch.BBox `json:"bbox,omitempty"`
	Label    string          `json:"label"`
	Score    *float64        `json:"score,omitempty"`
	Decision Decision        `json:"-"`
}

// IsCarried reports whether r is a carried-over label.
func (r Result) IsCarried() bool {
	return r.BBox == nil
}

// ResultSet is the output of one inference cycle.
type ResultSet struct {
	Data       []Result      `json:"data"`
	FrameSeq   uint64        `json:"-"`
	ProducedAt time.Time     `json:"-"`
	Latency    time.Duration `json:"-"`
}

// Labels returns every label in the set, including Unknown.
func (rs ResultSet) Labels() []string {
	labels := make([]string, 0, len(rs.Data))
	for _, r := range rs.Data {
		labels = append(labels, r.Label)
	}
	return labels
}

// MarshalLine encodes the set as one newline-terminated JSON object.
func (rs ResultSet) MarshalLine() ([]byte, error) {
	if rs.Data == nil {
		rs.Data = []Result{}
	}
	b, err := json.Marshal(rs)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func faceResult(bbox facematch.BBox, label string, score float64, d Decision) Result {
	return Result{BBox: &bbox, Label: label, Score: &score, Decision: d}
}

func carriedResult(label string) Result {
	return Result{Label: label, Decision: DecisionCarried}
}
