package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/facewatch/internal/constants"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Embedding   EmbeddingConfig
	Database    DatabaseConfig
	Stream      StreamConfig
	Recognition RecognitionConfig
	Paths       PathsConfig
	Attendance  AttendanceConfig
	Web         WebConfig
}

type EmbeddingConfig struct {
	URL     string        // defaults to http://localhost:8000
	Dim     int           // defaults to 512
	Timeout time.Duration // per-request timeout for the face endpoint
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MariaDBDSN    string // MariaDB DSN, used when URL is empty (e.g., facewatch:secret@tcp(mariadb:3306)/facewatch?parseTime=true)
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	IndexKind     string // auto, hnsw or flat
	HNSWIndexPath string // Path to persist the HNSW index (optional, if empty index is rebuilt on startup)
}

type StreamConfig struct {
	Width       int      `yaml:"width"`
	Height      int      `yaml:"height"`
	FFmpegPath  string   `yaml:"ffmpeg_path"`
	JPEGQuality int      `yaml:"jpeg_quality"`
	InputArgs   []string `yaml:"input_args"`
	OutputArgs  []string `yaml:"output_args"`
}

// FrameBytes returns the size of one raw BGR24 frame.
func (c *StreamConfig) FrameBytes() int {
	return c.Width * c.Height * 3
}

type RecognitionConfig struct {
	Interval  time.Duration // minimum time between inference cycles (0 = back to back)
	IdleSleep time.Duration // sleep when no new frame is available
}

type PathsConfig struct {
	DataDir      string // identity source files and image folders live here
	SettingsPath string // persisted recognition settings
	DetectionLog string // "<name> detected" lines, empty for the service log
}

type AttendanceConfig struct {
	OutputPath     string        // attendance JSON written on every fetch
	UpdateInterval time.Duration // how often the collator applies the latest results
}

type WebConfig struct {
	Host           string   // defaults to 0.0.0.0
	Port           int      // defaults to 1333
	AllowedOrigins []string // extra CORS origins besides localhost
}

type defaultsFile struct {
	Stream StreamConfig `yaml:"stream"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration ("250ms", "2s").
// Returns the default value if the env var is unset, empty, negative or invalid.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

// envString returns the env var or defaultVal when unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated env var, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var defaults defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	stream := defaults.Stream
	stream.Width = envInt("STREAM_WIDTH", stream.Width)
	stream.Height = envInt("STREAM_HEIGHT", stream.Height)
	stream.FFmpegPath = envString("FFMPEG_PATH", stream.FFmpegPath)
	stream.JPEGQuality = envInt("STREAM_JPEG_QUALITY", stream.JPEGQuality)

	return &Config{
		Embedding: EmbeddingConfig{
			URL:     envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim:     envInt("EMBEDDING_DIM", 512),
			Timeout: envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MariaDBDSN:    os.Getenv("MARIADB_DSN"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			IndexKind:     envString("INDEX_KIND", "auto"),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Stream: stream,
		Recognition: RecognitionConfig{
			Interval:  envDuration("INFERENCE_INTERVAL", 0),
			IdleSleep: envDuration("INFERENCE_IDLE_SLEEP", 5*time.Millisecond),
		},
		Paths: PathsConfig{
			DataDir:      envString("DATA_DIR", "data"),
			SettingsPath: envString("SETTINGS_PATH", "settings.yaml"),
			DetectionLog: os.Getenv("DETECTION_LOG"),
		},
		Attendance: AttendanceConfig{
			OutputPath:     envString("ATTENDANCE_OUTPUT", "output.json"),
			UpdateInterval: envDuration("ATTENDANCE_INTERVAL", time.Second),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", constants.DefaultWebHost),
			Port:           envInt("WEB_PORT", constants.DefaultWebPort),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
	}
}
