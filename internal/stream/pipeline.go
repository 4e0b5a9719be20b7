package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/broadcast"
)

// Pipeline runs one acquisition loop at a time and keeps the latest frame
// of the current run in a broadcast slot.
type Pipeline struct {
	log logs.Log

	mu  sync.Mutex
	run *run
}

type run struct {
	descriptor string
	cancel     context.CancelFunc
	done       chan struct{}
	frames     *broadcast.Slot[Frame]

	mu  sync.Mutex
	err error
}

func (r *run) alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// NewPipeline creates an idle pipeline.
func NewPipeline(log logs.Log) *Pipeline {
	return &Pipeline{log: log}
}

// Start opens descriptor with source and launches the acquisition loop.
// The loop outlives ctx; use Stop to end it. Returns ErrAlreadyStarted while
// a previous loop has not exited yet.
func (p *Pipeline) Start(ctx context.Context, source FrameSource, descriptor string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.run != nil && p.run.alive() {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	reader, err := source.Open(runCtx, descriptor)
	if err != nil {
		cancel()
		return fmt.Errorf("opening stream %q: %w", descriptor, err)
	}

	r := &run{
		descriptor: descriptor,
		cancel:     cancel,
		done:       make(chan struct{}),
		frames:     broadcast.NewSlot[Frame](),
	}
	p.run = r

	go p.loop(runCtx, r, reader)
	p.log.Infof("Stream started: %s", descriptor)
	return nil
}

func (p *Pipeline) loop(ctx context.Context, r *run, reader FrameReader) {
	var seq uint64
	defer func() {
		if err := reader.Close(); err != nil {
			p.log.Warnf("Closing stream %s: %v", r.descriptor, err)
		}
		r.frames.Close()
		r.cancel()
		close(r.done)
		p.log.Infof("Stream stopped: %s (%d frames)", r.descriptor, seq)
	}()

	for ctx.Err() == nil {
		frame, err := reader.ReadFrame()
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, io.EOF):
				p.log.Infof("Stream %s reached end of input", r.descriptor)
			default:
				p.log.Errorf("Reading stream %s: %v", r.descriptor, err)
				r.setErr(err)
			}
			return
		}
		seq++
		frame.Seq = seq
		r.frames.Publish(frame)
	}
}

func (r *run) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Stop signals the current loop to end. It does not wait; use Done.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	r := p.run
	p.mu.Unlock()

	if r != nil {
		r.cancel()
	}
}

// Running reports whether an acquisition loop is alive.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run != nil && p.run.alive()
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed when the current run has fully exited. For a pipeline that
// was never started it is already closed.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil {
		return closedChan
	}
	return p.run.done
}

// Latest returns the most recent frame of the current (or last) run.
func (p *Pipeline) Latest() (Frame, bool) {
	slot := p.Frames()
	if slot == nil {
		return Frame{}, false
	}
	f, _, ok := slot.Load()
	return f, ok
}

// Frames returns the frame slot of the current run, or nil before the first start.
func (p *Pipeline) Frames() *broadcast.Slot[Frame] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil {
		return nil
	}
	return p.run.frames
}

// Err returns the read error that ended the last run, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	r := p.run
	p.mu.Unlock()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
