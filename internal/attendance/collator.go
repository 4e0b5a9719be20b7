package attendance

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/recognition"
)

// LocalSource is the source name used for the in-process result stream.
const LocalSource = "local"

// ErrAlreadyCollating is returned when a source is already being followed.
var ErrAlreadyCollating = errors.New("already collating from this source")

// ResultStream subscribes to recognition results. The returned channel is
// closed when the current stream run ends.
type ResultStream func(ctx context.Context) <-chan recognition.ResultSet

// SourceInfo describes an active source.
type SourceInfo struct {
	Name           string        `json:"name"`
	UpdateInterval time.Duration `json:"update_interval_ns"`
	Updates        uint64        `json:"updates"`
}

type source struct {
	name     string
	interval time.Duration
	cancel   context.CancelFunc

	mu      sync.Mutex
	latest  []string
	updates uint64
}

func (s *source) setLatest(rs recognition.ResultSet) {
	labels := rs.Labels()
	s.mu.Lock()
	s.latest = labels
	s.updates++
	s.mu.Unlock()
}

func (s *source) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Collator applies the latest labels of each source to the store on a fixed
// interval, so a person is checked at most once per interval per source.
type Collator struct {
	store  *Store
	log    logs.Log
	client *http.Client

	mu      sync.Mutex
	sources map[string]*source
	wg      sync.WaitGroup
}

// NewCollator creates a collator writing into store.
func NewCollator(store *Store, log logs.Log) *Collator {
	return &Collator{
		store:   store,
		log:     log,
		client:  &http.Client{},
		sources: make(map[string]*source),
	}
}

// Store returns the roster store.
func (c *Collator) Store() *Store {
	return c.store
}

func (c *Collator) register(ctx context.Context, name string, interval time.Duration) (*source, context.Context, error) {
	if interval <= 0 {
		return nil, nil, fmt.Errorf("update interval must be positive, got %s", interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sources[name]; ok {
		return nil, nil, ErrAlreadyCollating
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	src := &source{name: name, interval: interval, cancel: cancel}
	c.sources[name] = src
	return src, runCtx, nil
}

func (c *Collator) unregister(src *source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sources[src.name] == src {
		delete(c.sources, src.name)
	}
}

// apply checks every label of src on each tick until ctx ends.
func (c *Collator) apply(ctx context.Context, src *source) {
	ticker := time.NewTicker(src.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, label := range src.snapshot() {
				c.store.Check(label)
			}
		}
	}
}

// Follow collates from an in-process result stream. When one stream run ends
// the collator resubscribes after retry, so it keeps following across stream
// restarts until Remove or Close.
func (c *Collator) Follow(ctx context.Context, name string, interval, retry time.Duration, subscribe ResultStream) error {
	src, runCtx, err := c.register(ctx, name, interval)
	if err != nil {
		return err
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.apply(runCtx, src)
	}()
	go func() {
		defer c.wg.Done()
		defer c.unregister(src)
		c.log.Infof("Collating from %s every %s", name, interval)
		for runCtx.Err() == nil {
			for rs := range subscribe(runCtx) {
				src.setLatest(rs)
			}
			// the run ended: nobody is visible anymore
			src.setLatest(recognition.ResultSet{})

			t := time.NewTimer(retry)
			select {
			case <-runCtx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		c.log.Infof("Stopped collating from %s", name)
	}()
	return nil
}

// AddRemote collates from the NDJSON result stream served at url (the
// /frResults endpoint of another instance). The URL is checked with a first request.
func (c *Collator) AddRemote(ctx context.Context, url string, interval time.Duration) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid results URL: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("results URL does not work: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("results URL returned %s", resp.Status)
	}

	src, runCtx, err := c.register(ctx, url, interval)
	if err != nil {
		resp.Body.Close()
		return err
	}

	// the first response was bound to the request context; reconnect for the long-lived stream
	resp.Body.Close()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.apply(runCtx, src)
	}()
	go func() {
		defer c.wg.Done()
		defer c.unregister(src)
		defer src.cancel()
		if err := c.readRemote(runCtx, src, url); err != nil && runCtx.Err() == nil {
			c.log.Warnf("Result stream %s ended: %v", url, err)
		}
	}()
	return nil
}

func (c *Collator) readRemote(ctx context.Context, src *source, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}

	c.log.Infof("Receiving results from %s at intervals %s", url, src.interval)
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var rs recognition.ResultSet
			if jerr := json.Unmarshal(line, &rs); jerr != nil {
				c.log.Debugf("Skipping malformed result line from %s: %v", url, jerr)
			} else {
				src.setLatest(rs)
			}
		}
		if err != nil {
			return err
		}
	}
}

// Remove stops collating from the named source. Unknown names are ignored.
func (c *Collator) Remove(name string) {
	c.mu.Lock()
	src, ok := c.sources[name]
	if ok {
		delete(c.sources, name)
	}
	c.mu.Unlock()

	if ok {
		src.cancel()
	}
}

// Sources lists active sources sorted by name.
func (c *Collator) Sources() []SourceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SourceInfo, 0, len(c.sources))
	for _, s := range c.sources {
		s.mu.Lock()
		out = append(out, SourceInfo{Name: s.name, UpdateInterval: s.interval, Updates: s.updates})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close stops every source and waits for their goroutines.
func (c *Collator) Close() {
	c.mu.Lock()
	for name, s := range c.sources {
		s.cancel()
		delete(c.sources, name)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
