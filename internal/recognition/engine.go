// Package recognition labels the faces in the latest stream frame against
// the identity gallery and tracks recently seen identities between frames.
package recognition

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/broadcast"
	"github.com/kozaktomas/facewatch/internal/constants"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/embedding"
	"github.com/kozaktomas/facewatch/internal/facematch"
	"github.com/kozaktomas/facewatch/internal/settings"
	"github.com/kozaktomas/facewatch/internal/stream"
)

const (
	// emptyGalleryScore is reported for faces when there is nothing to match against.
	emptyGalleryScore = 1.0

	defaultIdleSleep    = 5 * time.Millisecond
	defaultStaleRecheck = time.Second
	errorBackoff     = 500 * time.Millisecond
	errorLogEvery    = 50
)

// FaceDetector detects faces in a JPEG frame.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]embedding.Face, error)
}

// SettingsSource yields the current settings snapshot.
type SettingsSource interface {
	Get() settings.Settings
}

// FrameFeed is the part of the stream pipeline the engine reads from.
type FrameFeed interface {
	Latest() (stream.Frame, bool)
	Done() <-chan struct{}
}

// Config wires an Engine.
type Config struct {
	Detector  FaceDetector
	Gallery   *database.Gallery
	Settings  SettingsSource
	Log       logs.Log
	Detection logs.Log // receives "<name> detected"; defaults to Log

	Interval  time.Duration // minimum time between cycles, 0 = back to back
	IdleSleep time.Duration // wait when there is no new frame
	// StaleRecheck is how long an unchanged frame is left alone before it is
	// inferred again, so carried-over labels still expire on a stalled source.
	StaleRecheck time.Duration
	Clock        func() time.Time
}

// Stats are engine counters.
type Stats struct {
	Cycles      uint64        `json:"cycles"`
	Errors      uint64        `json:"errors"`
	LastLatency time.Duration `json:"last_latency_ns"`
}

// Engine runs the inference loop for one stream run. It is not restartable;
// create a new Engine per run.
type Engine struct {
	detector  FaceDetector
	gallery   *database.Gallery
	settings  SettingsSource
	log       logs.Log
	detection logs.Log
	interval  time.Duration
	idleSleep time.Duration
	recheck   time.Duration

	tracker *Tracker
	results *broadcast.Slot[ResultSet]

	cycles      atomic.Uint64
	errors      atomic.Uint64
	lastLatency atomic.Int64
}

// NewEngine creates an engine from cfg.
func NewEngine(cfg Config) *Engine {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = defaultIdleSleep
	}
	if cfg.StaleRecheck <= 0 {
		cfg.StaleRecheck = defaultStaleRecheck
	}
	if cfg.Detection == nil {
		cfg.Detection = cfg.Log
	}
	return &Engine{
		detector:  cfg.Detector,
		gallery:   cfg.Gallery,
		settings:  cfg.Settings,
		log:       cfg.Log,
		detection: cfg.Detection,
		interval:  cfg.Interval,
		idleSleep: cfg.IdleSleep,
		recheck:   cfg.StaleRecheck,
		tracker:   NewTracker(cfg.Clock),
		results:   broadcast.NewSlot[ResultSet](),
	}
}

// Results is the slot that receives every published result set.
func (e *Engine) Results() *broadcast.Slot[ResultSet] {
	return e.results
}

// Tracker exposes the identity tracker.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Cycles:      e.cycles.Load(),
		Errors:      e.errors.Load(),
		LastLatency: time.Duration(e.lastLatency.Load()),
	}
}

// Run processes frames from feed until the feed ends or ctx is cancelled.
// A frame that stays current for longer than the stale recheck period is
// inferred again. On exit the result slot is closed and both the tracker and the gallery are
// cleared, so the next run reloads identities.
func (e *Engine) Run(ctx context.Context, feed FrameFeed) {
	defer func() {
		e.results.Close()
		e.tracker.Reset()
		e.gallery.Reset()
		e.log.Infof("Inference stopped after %d cycles", e.cycles.Load())
	}()

	e.log.Infof("Inference started (%d identities)", e.gallery.Len())

	var lastSeq uint64
	var lastCycle time.Time
	var consecutiveErrors int
	for {
		select {
		case <-ctx.Done():
			return
		case <-feed.Done():
			return
		default:
		}

		frame, ok := feed.Latest()
		stale := ok && frame.Seq == lastSeq && e.tracker.Now().Sub(lastCycle) < e.recheck
		if !ok || stale {
			if !e.sleep(ctx, feed, e.idleSleep) {
				return
			}
			continue
		}

		start := time.Now()
		rs, err := e.Infer(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.errors.Add(1)
			if consecutiveErrors%errorLogEvery == 0 {
				e.log.Warnf("Inference failed on frame %d: %v", frame.Seq, err)
			}
			consecutiveErrors++
			if !e.sleep(ctx, feed, errorBackoff) {
				return
			}
			continue
		}
		consecutiveErrors = 0
		lastSeq = frame.Seq
		lastCycle = e.tracker.Now()

		rs.Latency = time.Since(start)
		e.lastLatency.Store(int64(rs.Latency))
		e.cycles.Add(1)
		e.results.Publish(rs)

		if wait := e.interval - rs.Latency; wait > 0 {
			if !e.sleep(ctx, feed, wait) {
				return
			}
		}
	}
}

// sleep waits for d. Returns false when the run should end.
func (e *Engine) sleep(ctx context.Context, feed FrameFeed, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-feed.Done():
		return false
	case <-t.C:
		return true
	}
}

// Infer runs one cycle on frame: detect faces, query the gallery, label
// each face and reconcile the tracker.
func (e *Engine) Infer(ctx context.Context, frame stream.Frame) (ResultSet, error) {
	s := e.settings.Get()
	holding := s.HoldingDuration()

	faces, err := e.detector.DetectFaces(ctx, frame.Data)
	if err != nil {
		return ResultSet{}, fmt.Errorf("detecting faces: %w", err)
	}

	rs := ResultSet{FrameSeq: frame.Seq, ProducedAt: e.tracker.Now()}

	if len(faces) == 0 {
		for _, name := range e.tracker.Reconcile(nil, holding) {
			rs.Data = append(rs.Data, carriedResult(name))
		}
		return rs, nil
	}

	bboxes := make([]facematch.BBox, len(faces))
	queries := make([][]float32, len(faces))
	for i, f := range faces {
		bboxes[i] = facematch.ConvertPixelBBoxToRelative(f.BBox, frame.Width, frame.Height)
		queries[i] = f.Embedding
	}

	var neighbors [][]database.Neighbor
	if e.gallery.Len() > 0 {
		neighbors, err = e.gallery.Nearest(queries, constants.NeighborCount)
		if err != nil {
			return ResultSet{}, err
		}
	}

	accepted := make([]RecentDetection, 0, len(faces))
	rs.Data = make([]Result, 0, len(faces))
	for i := range faces {
		if neighbors == nil || len(neighbors[i]) == 0 {
			rs.Data = append(rs.Data, faceResult(bboxes[i], facematch.UnknownLabel, emptyGalleryScore, DecisionUnknown))
			continue
		}

		name, unit, decision := e.decide(s, neighbors[i], queries[i], bboxes[i])
		dist0 := neighbors[i][0].Distance
		rs.Data = append(rs.Data, faceResult(bboxes[i], name, dist0, decision))

		if decision == DecisionUnknown {
			continue
		}
		accepted = append(accepted, RecentDetection{
			Name:      name,
			BBox:      bboxes[i],
			Embedding: unit,
			LastSeen:  e.tracker.Now(),
		})
	}

	for _, name := range e.tracker.Reconcile(accepted, holding) {
		rs.Data = append(rs.Data, carriedResult(name))
	}
	return rs, nil
}

// decide applies the match rules in priority order: direct match,
// differentiated match, persisted match, Unknown.
func (e *Engine) decide(s settings.Settings, hits []database.Neighbor, emb []float32, bbox facematch.BBox) (string, []float32, Decision) {
	dist0 := hits[0].Distance

	decision := DecisionUnknown
	switch {
	case dist0 < s.Threshold:
		decision = DecisionDirect
	case s.UseDifferentiator && dist0 < s.ThresholdLenientDiff &&
		len(hits) > 1 && hits[1].Distance-dist0 > s.SimilarityGap:
		decision = DecisionDifferentiated
	}

	if decision != DecisionUnknown {
		name := hits[0].Name
		if e.tracker.ObserveNew(name) {
			e.detection.Infof("%s detected", name)
		}
		return name, facematch.NormalizeEmbedding(emb), decision
	}

	if s.UsePersistor {
		name, unit := e.tracker.PersistLookup(emb, dist0, bbox, s)
		if name != facematch.UnknownLabel {
			return name, unit, DecisionPersisted
		}
		return name, unit, DecisionUnknown
	}

	return facematch.UnknownLabel, nil, DecisionUnknown
}
