package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/recognition"
	"github.com/kozaktomas/facewatch/internal/session"
	"github.com/kozaktomas/facewatch/internal/settings"
	"github.com/kozaktomas/facewatch/internal/stream"
)

// fakeSession records calls and replays canned frames and results.
type fakeSession struct {
	mu       sync.Mutex
	running  bool
	startErr error
	stopErr  error
	requests []session.StartRequest

	frames  []stream.Frame
	results []recognition.ResultSet

	current   settings.Settings
	updateErr error

	loadErr   error
	loadFiles []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{current: settings.Defaults()}
}

func (f *fakeSession) Start(_ context.Context, req session.StartRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeSession) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	if !f.running {
		return session.ErrNotStarted
	}
	f.running = false
	return nil
}

func (f *fakeSession) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func replay[T any](items []T) <-chan T {
	ch := make(chan T, len(items))
	for _, it := range items {
		ch <- it
	}
	close(ch)
	return ch
}

func (f *fakeSession) StreamFrames(context.Context) <-chan stream.Frame {
	return replay(f.frames)
}

func (f *fakeSession) StreamResults(context.Context) <-chan recognition.ResultSet {
	return replay(f.results)
}

func (f *fakeSession) Status() session.Status {
	return session.Status{Running: f.IsRunning()}
}

func (f *fakeSession) Settings() settings.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSession) UpdateSettings(next settings.Settings) (settings.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.current, f.updateErr
	}
	if err := next.Validate(); err != nil {
		return f.current, err
	}
	f.current = next
	return next, nil
}

func (f *fakeSession) LoadIdentities(_ context.Context, dataFile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadFiles = append(f.loadFiles, dataFile)
	return f.loadErr
}

func testLog(t *testing.T) logs.Log {
	t.Helper()
	return logs.NewTestingLog(t)
}
