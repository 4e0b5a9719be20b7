package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"STREAM_WIDTH", "STREAM_HEIGHT", "FFMPEG_PATH", "STREAM_JPEG_QUALITY",
		"EMBEDDING_DIM", "INDEX_KIND", "DATA_DIR", "SETTINGS_PATH", "INFERENCE_INTERVAL",
		"WEB_HOST", "WEB_PORT", "WEB_ALLOWED_ORIGINS", "EMBEDDING_URL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Stream.Width != 1280 || cfg.Stream.Height != 720 {
		t.Errorf("expected 1280x720, got %dx%d", cfg.Stream.Width, cfg.Stream.Height)
	}
	if cfg.Stream.FFmpegPath != "ffmpeg" {
		t.Errorf("expected ffmpeg path 'ffmpeg', got '%s'", cfg.Stream.FFmpegPath)
	}
	if len(cfg.Stream.InputArgs) != 2 || cfg.Stream.InputArgs[0] != "-rtsp_transport" {
		t.Errorf("unexpected input args %v", cfg.Stream.InputArgs)
	}
	if len(cfg.Stream.OutputArgs) == 0 {
		t.Error("expected output args from embedded defaults")
	}
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected embedding dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Database.IndexKind != "auto" {
		t.Errorf("expected index kind 'auto', got '%s'", cfg.Database.IndexKind)
	}
	if cfg.Paths.DataDir != "data" {
		t.Errorf("expected data dir 'data', got '%s'", cfg.Paths.DataDir)
	}
	if cfg.Recognition.Interval != 0 {
		t.Errorf("expected zero inference interval, got %v", cfg.Recognition.Interval)
	}
	if cfg.Web.Host != "0.0.0.0" || cfg.Web.Port != 1333 {
		t.Errorf("expected 0.0.0.0:1333, got %s:%d", cfg.Web.Host, cfg.Web.Port)
	}
	if len(cfg.Web.AllowedOrigins) != 0 {
		t.Errorf("expected no extra origins, got %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Embedding.URL != "http://localhost:8000" {
		t.Errorf("unexpected embedding URL %q", cfg.Embedding.URL)
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := Load()

	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.Web.AllowedOrigins)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STREAM_WIDTH", "640")
	t.Setenv("STREAM_HEIGHT", "480")
	t.Setenv("INFERENCE_INTERVAL", "200ms")
	t.Setenv("DATABASE_URL", "postgres://localhost/facewatch")

	cfg := Load()

	if cfg.Stream.Width != 640 || cfg.Stream.Height != 480 {
		t.Errorf("expected 640x480, got %dx%d", cfg.Stream.Width, cfg.Stream.Height)
	}
	if cfg.Stream.FrameBytes() != 640*480*3 {
		t.Errorf("unexpected frame size %d", cfg.Stream.FrameBytes())
	}
	if cfg.Recognition.Interval != 200*time.Millisecond {
		t.Errorf("expected 200ms interval, got %v", cfg.Recognition.Interval)
	}
	if cfg.Database.URL != "postgres://localhost/facewatch" {
		t.Errorf("unexpected database URL %q", cfg.Database.URL)
	}
}

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 7},
		{"valid", "42", 42},
		{"zero", "0", 7},
		{"negative", "-3", 7},
		{"garbage", "abc", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FACEWATCH_TEST_INT", tt.value)
			if got := envInt("FACEWATCH_TEST_INT", 7); got != tt.want {
				t.Errorf("envInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset", "", time.Second},
		{"valid", "250ms", 250 * time.Millisecond},
		{"zero", "0s", 0},
		{"negative", "-1s", time.Second},
		{"garbage", "soon", time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FACEWATCH_TEST_DURATION", tt.value)
			if got := envDuration("FACEWATCH_TEST_DURATION", time.Second); got != tt.want {
				t.Errorf("envDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
