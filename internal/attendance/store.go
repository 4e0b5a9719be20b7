// Package attendance keeps a roster of expected people and marks them
// present when the recognition stream reports them.
package attendance

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/enroll"
	"github.com/kozaktomas/facewatch/internal/facematch"
)

// Record is the attendance state of one person.
type Record struct {
	Attendance  bool      `json:"attendance"`
	Detected    bool      `json:"detected"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
	ReferenceID string    `json:"referenceid"`
}

// Count summarises the roster.
type Count struct {
	Total    int `json:"total"`
	Detected int `json:"detected"`
	Attended int `json:"attended"`
}

// Store is the roster. Names reported by recognition are matched against
// roster names ignoring case, diacritics and separators.
type Store struct {
	mu    sync.Mutex
	items map[string]Record
	index map[string]string // normalized name -> roster name
	now   func() time.Time
	log   logs.Log
}

// NewStore creates an empty roster.
func NewStore(log logs.Log) *Store {
	return &Store{
		items: make(map[string]Record),
		index: make(map[string]string),
		now:   time.Now,
		log:   log,
	}
}

func (s *Store) lookup(name string) (string, bool) {
	if _, ok := s.items[name]; ok {
		return name, true
	}
	key, ok := s.index[facematch.NormalizePersonName(name)]
	return key, ok
}

// Check records a sighting of name. The first sighting marks the person as
// attending. Returns false when name is not on the roster.
func (s *Store) Check(name string) bool {
	if name == facematch.UnknownLabel || name == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.lookup(name)
	if !ok {
		return false
	}

	now := s.now()
	record := s.items[key]
	record.Detected = true
	record.LastSeen = now
	if record.FirstSeen.IsZero() {
		record.FirstSeen = now
		record.Attendance = true
		s.log.Infof("%s present!", key)
	}
	s.items[key] = record
	return true
}

// Mark toggles the attendance flag of name. Returns false when name is not
// on the roster.
func (s *Store) Mark(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.lookup(name)
	if !ok {
		return false
	}
	record := s.items[key]
	record.Attendance = !record.Attendance
	s.items[key] = record
	return true
}

// Count returns roster totals.
func (s *Store) Count() Count {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Count{Total: len(s.items)}
	for _, r := range s.items {
		if r.Detected {
			c.Detected++
		}
		if r.Attendance {
			c.Attended++
		}
	}
	return c
}

// Add puts name on the roster with an empty record, replacing any existing one.
func (s *Store) Add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(name, Record{})
}

func (s *Store) add(name string, r Record) {
	s.items[name] = r
	s.index[facematch.NormalizePersonName(name)] = name
}

// Clear empties the roster.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]Record)
	s.index = make(map[string]string)
}

// Snapshot returns a copy of all records.
func (s *Store) Snapshot() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.items)
}

// JSON returns the roster as indented JSON keyed by name.
func (s *Store) JSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.items, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("marshal attendance: %w", err)
	}
	return data, nil
}

// Save writes the roster JSON to path.
func (s *Store) Save(path string) error {
	data, err := s.JSON()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating attendance directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec // attendance output is not secret
		return fmt.Errorf("writing attendance file: %w", err)
	}
	return nil
}

// LoadRoster replaces the roster with the people of an identity source
// document. The reference ID of each person is the first image name without
// its extension.
func (s *Store) LoadRoster(data []byte) error {
	var src enroll.Source
	if err := json.Unmarshal(data, &src); err != nil {
		return fmt.Errorf("parsing roster: %w", err)
	}
	s.LoadSource(&src)
	return nil
}

// LoadSource replaces the roster with the people of src.
func (s *Store) LoadSource(src *enroll.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]Record, len(src.Details))
	s.index = make(map[string]string, len(src.Details))
	for _, p := range src.Details {
		var r Record
		if len(p.Images) > 0 {
			r.ReferenceID = strings.TrimSuffix(p.Images[0], filepath.Ext(p.Images[0]))
		}
		s.add(p.Name, r)
	}
}

// LoadPrevOutput restores the roster from a file written by Save. A missing
// file is not an error.
func (s *Store) LoadPrevOutput(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		s.log.Infof("No previous attendance at %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading previous attendance: %w", err)
	}

	var items map[string]Record
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decoding previous attendance: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]Record, len(items))
	s.index = make(map[string]string, len(items))
	for name, r := range items {
		s.add(name, r)
	}
	s.log.Infof("Loaded attendance for %d people from previous session", len(items))
	return nil
}
