// Package settings holds the tunable recognition parameters and persists
// them to a YAML file. Readers always observe a complete snapshot.
package settings

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings are the decision-policy parameters read once per inference cycle.
type Settings struct {
	Threshold            float64 `yaml:"threshold" json:"threshold"`
	HoldingTime          int     `yaml:"holding_time" json:"holding_time"` // seconds
	UseDifferentiator    bool    `yaml:"use_differentiator" json:"use_differentiator"`
	ThresholdLenientDiff float64 `yaml:"threshold_lenient_diff" json:"threshold_lenient_diff"`
	SimilarityGap        float64 `yaml:"similarity_gap" json:"similarity_gap"`
	UsePersistor         bool    `yaml:"use_persistor" json:"use_persistor"`
	ThresholdPrev        float64 `yaml:"threshold_prev" json:"threshold_prev"`
	ThresholdIOU         float64 `yaml:"threshold_iou" json:"threshold_iou"`
	ThresholdLenientPers float64 `yaml:"threshold_lenient_pers" json:"threshold_lenient_pers"`
}

// Defaults returns the settings used when nothing has been persisted.
func Defaults() Settings {
	return Settings{
		Threshold:            0.45,
		HoldingTime:          15,
		UseDifferentiator:    true,
		ThresholdLenientDiff: 0.55,
		SimilarityGap:        0.10,
		UsePersistor:         true,
		ThresholdPrev:        0.3,
		ThresholdIOU:         0.2,
		ThresholdLenientPers: 0.60,
	}
}

// MaxHoldingTime is the largest accepted HoldingTime, one day in seconds.
const MaxHoldingTime = 24 * 60 * 60

// HoldingDuration returns HoldingTime as a time.Duration.
func (s Settings) HoldingDuration() time.Duration {
	return time.Duration(s.HoldingTime) * time.Second
}

// ErrInvalidSettings wraps every validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Validate checks ranges. Distances are cosine distances in [0, 2]; IoU is in [0, 1].
func (s Settings) Validate() error {
	distances := map[string]float64{
		"threshold":              s.Threshold,
		"threshold_lenient_diff": s.ThresholdLenientDiff,
		"similarity_gap":         s.SimilarityGap,
		"threshold_prev":         s.ThresholdPrev,
		"threshold_lenient_pers": s.ThresholdLenientPers,
	}
	for name, v := range distances {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 2 {
			return fmt.Errorf("%w: %s must be within [0, 2], got %v", ErrInvalidSettings, name, v)
		}
	}
	if math.IsNaN(s.ThresholdIOU) || s.ThresholdIOU < 0 || s.ThresholdIOU > 1 {
		return fmt.Errorf("%w: threshold_iou must be within [0, 1], got %v", ErrInvalidSettings, s.ThresholdIOU)
	}
	if s.HoldingTime < 0 || s.HoldingTime > MaxHoldingTime {
		return fmt.Errorf("%w: holding_time must be within [0, %d], got %d", ErrInvalidSettings, MaxHoldingTime, s.HoldingTime)
	}
	return nil
}

// Store serves the current settings and persists updates.
type Store struct {
	path    string
	current atomic.Pointer[Settings]
	writeMu sync.Mutex // serializes Update so file and memory agree
}

// NewStore loads settings from path. Missing keys take their default value;
// a missing file is created with the defaults. An empty path keeps settings
// in memory only.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	loaded := Defaults()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading settings file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &loaded); err != nil {
				return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
			}
			if err := loaded.Validate(); err != nil {
				return nil, fmt.Errorf("settings file %s: %w", path, err)
			}
		}
		if err := s.persist(loaded); err != nil {
			return nil, err
		}
	}

	s.current.Store(&loaded)
	return s, nil
}

// Get returns a snapshot of the current settings.
func (s *Store) Get() Settings {
	return *s.current.Load()
}

// Update validates, persists and then atomically publishes next.
func (s *Store) Update(next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return s.Get(), err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persist(next); err != nil {
		return s.Get(), err
	}
	s.current.Store(&next)
	return next, nil
}

// Path returns the backing file path ("" for in-memory stores).
func (s *Store) Path() string {
	return s.path
}

// persist writes settings via a temp file and rename.
func (s *Store) persist(v Settings) error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing settings file: %w", err)
	}
	return nil
}
