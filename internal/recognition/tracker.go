package recognition

import (
	"slices"
	"time"

	"github.com/kozaktomas/facewatch/internal/facematch"
	"github.com/kozaktomas/facewatch/internal/settings"
)

// RecentDetection is an identity accepted in a recent frame.
type RecentDetection struct {
	Name      string
	BBox      facematch.BBox
	Embedding []float32 // unit length
	LastSeen  time.Time
}

// Tracker remembers recently accepted identities so that a face that drops
// just below the match threshold can keep its label, and so that a person
// who briefly disappears is still reported for the holding time.
//
// A Tracker is owned by a single engine goroutine and is not safe for
// concurrent use.
type Tracker struct {
	recent []RecentDetection
	now    func() time.Time
}

// NewTracker creates an empty tracker. A nil clock means time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Now returns the tracker clock.
func (t *Tracker) Now() time.Time {
	return t.now()
}

// PersistLookup tries to attribute an unrecognised face to a recent
// detection at a similar position. Only entries whose box overlaps bbox by at
// least ThresholdIOU are compared. The face is accepted when its cosine
// similarity to the best entry exceeds 1-ThresholdPrev and dist0 (distance to
// the nearest gallery identity) is below ThresholdLenientPers.
//
// The unit-length embedding is returned in every case.
func (t *Tracker) PersistLookup(embedding []float32, dist0 float64, bbox facematch.BBox, s settings.Settings) (string, []float32) {
	unit := facematch.NormalizeEmbedding(embedding)

	var maxSim float64
	match := ""
	for _, d := range t.recent {
		if facematch.ComputeIoU(d.BBox, bbox) < s.ThresholdIOU {
			continue
		}
		if sim := facematch.CosineSimilarity(embedding, d.Embedding); sim > maxSim {
			maxSim = sim
			match = d.Name
		}
	}

	if match != "" && maxSim > 1-s.ThresholdPrev && dist0 < s.ThresholdLenientPers {
		return match, unit
	}
	return facematch.UnknownLabel, unit
}

// ObserveNew reports whether name is absent from the current recent
// detections, i.e. whether this is a new appearance worth logging.
func (t *Tracker) ObserveNew(name string) bool {
	return !slices.ContainsFunc(t.recent, func(d RecentDetection) bool {
		return d.Name == name
	})
}

// Reconcile replaces the tracked state with accepted plus every previous
// entry whose name was not accepted this frame and which was last seen no
// more than holding ago. The names of those carried-over entries are
// returned in their previous order.
func (t *Tracker) Reconcile(accepted []RecentDetection, holding time.Duration) []string {
	now := t.now()

	names := make(map[string]struct{}, len(accepted))
	for _, d := range accepted {
		names[d.Name] = struct{}{}
	}

	next := make([]RecentDetection, len(accepted), len(accepted)+len(t.recent))
	copy(next, accepted)

	var carried []string
	for _, d := range t.recent {
		if _, ok := names[d.Name]; ok {
			continue
		}
		if now.Sub(d.LastSeen) > holding {
			continue
		}
		next = append(next, d)
		carried = append(carried, d.Name)
	}

	t.recent = next
	return carried
}

// Recent returns a copy of the tracked detections.
func (t *Tracker) Recent() []RecentDetection {
	return slices.Clone(t.recent)
}

// Reset forgets all recent detections.
func (t *Tracker) Reset() {
	t.recent = nil
}
