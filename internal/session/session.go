// Package session owns the single stream run: the frame pipeline, the
// recognition engine and the broadcast hub that couples them.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/broadcast"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/enroll"
	"github.com/kozaktomas/facewatch/internal/recognition"
	"github.com/kozaktomas/facewatch/internal/settings"
	"github.com/kozaktomas/facewatch/internal/stream"
)

// Start failure reasons reported to clients.
const (
	ReasonAlreadyStarted = "Stream already started!"
	ReasonNotStarted     = "Stream not started!"
	ReasonSuccess        = "Success!"
)

var (
	ErrBadExtension    = enroll.ErrBadExtension
	ErrSourceNotFound  = enroll.ErrSourceNotFound
	ErrAlreadyStarted  = stream.ErrAlreadyStarted
	ErrNotStarted      = errors.New("stream not started")
	ErrNoRecordStore   = errors.New("no identity store configured")
	errEmptyDescriptor = errors.New("stream source is empty")
)

// StartRequest describes a stream run.
type StartRequest struct {
	StreamSource string `json:"stream_src"`
	DataFile     string `json:"data_file"`
}

// StartError explains why Start refused to start a run. Reason is suitable
// for showing to the user.
type StartError struct {
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	return e.Reason
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// Hub is the broadcast hub of one run.
type Hub = broadcast.Hub[stream.Frame, recognition.ResultSet]

// Config wires a Session.
type Config struct {
	Source       stream.FrameSource
	Detector     recognition.FaceDetector
	Store        database.RecordStore // may be nil when only file enrollment is used
	Gallery      *database.Gallery
	Settings     *settings.Store
	DataDir      string
	IndexCache   database.IndexCache
	Log          logs.Log
	Detection    logs.Log
	Interval     time.Duration
	IdleSleep    time.Duration
	MaxImageSize int
	Progress     io.Writer
}

// Status is a snapshot of the session.
type Status struct {
	Running    bool                `json:"running"`
	Source     string              `json:"source,omitempty"`
	StartedAt  time.Time           `json:"started_at,omitzero"`
	Identities int                 `json:"identities"`
	Hub        *broadcast.HubStats `json:"hub,omitempty"`
	Engine     *recognition.Stats  `json:"engine,omitempty"`
	LastError  string              `json:"last_error,omitempty"`
}

// Session runs at most one stream at a time.
type Session struct {
	cfg      Config
	log      logs.Log
	pipeline *stream.Pipeline

	// startMu serialises Start, Stop and LoadIdentities.
	startMu sync.Mutex

	mu         sync.RWMutex
	hub        *Hub
	engine     *recognition.Engine
	engineDone chan struct{}
	source     string
	startedAt  time.Time
}

// New creates an idle session.
func New(cfg Config) *Session {
	return &Session{
		cfg:      cfg,
		log:      cfg.Log,
		pipeline: stream.NewPipeline(cfg.Log),
	}
}

// Start starts the pipeline for req.StreamSource, loads identities and then
// starts the recognition engine. The hub of the new run is installed as soon
// as the pipeline is up, so frames stream while identities load and result
// subscribers see the first result of the run. The run keeps going after ctx
// ends.
func (s *Session) Start(ctx context.Context, req StartRequest) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.IsRunning() {
		return &StartError{Reason: ReasonAlreadyStarted, Err: ErrAlreadyStarted}
	}

	descriptor := strings.TrimSpace(req.StreamSource)
	if descriptor == "" {
		return &StartError{Reason: "Please provide a stream source!", Err: errEmptyDescriptor}
	}
	if req.DataFile != "" {
		if _, err := enroll.ResolveSource(s.cfg.DataDir, req.DataFile); err != nil {
			return startErr(err)
		}
	}

	// The previous engine clears the gallery on exit.
	if err := s.waitEngine(ctx); err != nil {
		return &StartError{Reason: "Previous stream is still shutting down", Err: err}
	}

	if err := s.pipeline.Start(ctx, s.cfg.Source, descriptor); err != nil {
		if errors.Is(err, stream.ErrAlreadyStarted) {
			return &StartError{Reason: ReasonAlreadyStarted, Err: err}
		}
		return &StartError{Reason: fmt.Sprintf("Could not open stream: %v", err), Err: err}
	}

	engine := recognition.NewEngine(recognition.Config{
		Detector:  s.cfg.Detector,
		Gallery:   s.cfg.Gallery,
		Settings:  s.cfg.Settings,
		Log:       s.log,
		Detection: s.cfg.Detection,
		Interval:  s.cfg.Interval,
		IdleSleep: s.cfg.IdleSleep,
	})
	hub := broadcast.NewHub(s.pipeline.Frames(), engine.Results())

	s.mu.Lock()
	s.hub = hub
	s.engine = engine
	s.source = descriptor
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.loadIdentities(ctx, req.DataFile); err != nil {
		s.pipeline.Stop()
		<-s.pipeline.Done()
		// the engine never ran; end result subscribers of this run
		engine.Results().Close()
		return startErr(err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.engineDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		engine.Run(context.WithoutCancel(ctx), s.pipeline)
	}()

	s.log.Infof("Session %s started on %s", hub.RunID(), descriptor)
	return nil
}

func startErr(err error) error {
	switch {
	case errors.Is(err, ErrBadExtension):
		return &StartError{Reason: "Please provide a JSON file with the .json extension!", Err: err}
	case errors.Is(err, ErrSourceNotFound):
		return &StartError{Reason: "Data file not found!", Err: err}
	default:
		return &StartError{Reason: fmt.Sprintf("Could not load identities: %v", err), Err: err}
	}
}

// Stop ends the current run and waits until the engine has exited or ctx
// is done.
func (s *Session) Stop(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.IsRunning() {
		return ErrNotStarted
	}

	s.pipeline.Stop()
	if err := s.waitEngine(ctx); err != nil {
		return err
	}
	s.log.Infof("Session stopped")
	return nil
}

func (s *Session) waitEngine(ctx context.Context) error {
	s.mu.RLock()
	done := s.engineDone
	s.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the current run has ended on its own or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	return s.waitEngine(ctx)
}

// IsRunning reports whether a stream run is alive.
func (s *Session) IsRunning() bool {
	return s.pipeline.Running()
}

// Hub returns the hub of the current or last run, nil before the first start.
func (s *Session) Hub() *Hub {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub
}

func closedStream[T any]() <-chan T {
	ch := make(chan T)
	close(ch)
	return ch
}

// StreamFrames returns the frames of the current run. The channel is closed
// when the run ends or ctx is done; when nothing is running it is closed
// immediately.
func (s *Session) StreamFrames(ctx context.Context) <-chan stream.Frame {
	hub := s.Hub()
	if hub == nil || !s.IsRunning() {
		return closedStream[stream.Frame]()
	}
	return hub.StreamFrames(ctx)
}

// StreamResults is StreamFrames for recognition results.
func (s *Session) StreamResults(ctx context.Context) <-chan recognition.ResultSet {
	hub := s.Hub()
	if hub == nil || !s.IsRunning() {
		return closedStream[recognition.ResultSet]()
	}
	return hub.StreamResults(ctx)
}

// Settings returns the active settings.
func (s *Session) Settings() settings.Settings {
	return s.cfg.Settings.Get()
}

// UpdateSettings validates, persists and activates next. A running engine
// picks it up on its next cycle.
func (s *Session) UpdateSettings(next settings.Settings) (settings.Settings, error) {
	applied, err := s.cfg.Settings.Update(next)
	if err != nil {
		return s.cfg.Settings.Get(), err
	}
	s.log.Infof("Settings updated: threshold=%.3f holding=%ds differentiator=%v persistor=%v",
		applied.Threshold, applied.HoldingTime, applied.UseDifferentiator, applied.UsePersistor)
	return applied, nil
}

// Status reports the session state.
func (s *Session) Status() Status {
	st := Status{
		Running:    s.IsRunning(),
		Identities: s.cfg.Gallery.Len(),
	}
	if err := s.pipeline.Err(); err != nil {
		st.LastError = err.Error()
	}

	s.mu.RLock()
	hub, engine := s.hub, s.engine
	source, startedAt := s.source, s.startedAt
	s.mu.RUnlock()

	if st.Running {
		st.Source = source
		st.StartedAt = startedAt
	}
	if hub != nil {
		stats := hub.Stats()
		st.Hub = &stats
	}
	if engine != nil {
		stats := engine.Stats()
		st.Engine = &stats
	}
	return st
}

// LoadIdentities fills the gallery. With a data file the identities are
// enrolled from it and saved to the store; without one they are loaded
// from the store unless the gallery is already populated.
func (s *Session) LoadIdentities(ctx context.Context, dataFile string) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.loadIdentities(ctx, dataFile)
}

func (s *Session) loadIdentities(ctx context.Context, dataFile string) error {
	if dataFile != "" {
		e := &enroll.Enroller{
			Detector:     s.cfg.Detector,
			Store:        s.cfg.Store,
			Gallery:      s.cfg.Gallery,
			DataDir:      s.cfg.DataDir,
			Log:          s.log,
			MaxImageSize: s.cfg.MaxImageSize,
			Progress:     s.cfg.Progress,
		}
		if _, err := e.EnrollFile(ctx, dataFile); err != nil {
			return err
		}
		if err := s.cfg.IndexCache.Save(s.cfg.Gallery.Index(), s.cfg.Gallery.Records()); err != nil {
			s.log.Warnf("Saving index cache: %v", err)
		}
		return nil
	}

	if s.cfg.Gallery.Len() > 0 {
		s.log.Infof("Embeddings already loaded!")
		return nil
	}
	if s.cfg.Store == nil {
		return ErrNoRecordStore
	}

	records, err := s.cfg.Store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading identities: %w", err)
	}

	idx, ok, err := s.cfg.IndexCache.Load(records)
	if err != nil {
		s.log.Warnf("Ignoring index cache: %v", err)
	}
	if ok {
		err = s.cfg.Gallery.Restore(records, idx)
	} else {
		err = s.cfg.Gallery.Reload(records)
		if err == nil {
			if saveErr := s.cfg.IndexCache.Save(s.cfg.Gallery.Index(), s.cfg.Gallery.Records()); saveErr != nil {
				s.log.Warnf("Saving index cache: %v", saveErr)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("building gallery: %w", err)
	}

	s.log.Infof("Loaded %d embeddings from db", len(records))
	return nil
}
