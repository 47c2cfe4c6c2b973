package app

import (
	"os"
	"testing"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	// Clear all env vars that LoadConfig reads so we get pure defaults.
	envVars := []string{
		"HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT", "TORRENT_DATA_DIR",
		"TORRENT_STORAGE_MODE", "TORRENT_MEMORY_LIMIT_BYTES", "TORRENT_MEMORY_SPILL_DIR",
		"TORRENT_MAX_SESSIONS", "STREAM_READAHEAD_BYTES",
		"HTTP_RATE_LIMIT_RPS", "HTTP_RATE_LIMIT_BURST",
		"CORS_ALLOWED_ORIGINS",
	}
	for _, k := range envVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"TorrentDataDir", cfg.TorrentDataDir, "data"},
		{"StorageMode", cfg.StorageMode, "disk"},
		{"MemoryLimitBytes", cfg.MemoryLimitBytes, int64(0)},
		{"MemorySpillDir", cfg.MemorySpillDir, ""},
		{"MaxSessions", cfg.MaxSessions, 0},
		{"ReadaheadBytes", cfg.ReadaheadBytes, int64(8 << 20)},
		{"RateLimitRPS", cfg.RateLimitRPS, float64(50)},
		{"RateLimitBurst", cfg.RateLimitBurst, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Errorf("CORSAllowedOrigins: got %v, want nil/empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	setEnvs(t, map[string]string{
		"HTTP_ADDR":                  ":9090",
		"LOG_LEVEL":                  "DEBUG",
		"LOG_FORMAT":                 "JSON",
		"TORRENT_DATA_DIR":           "/mnt/data",
		"TORRENT_STORAGE_MODE":       "Memory",
		"TORRENT_MEMORY_LIMIT_BYTES": "1073741824",
		"TORRENT_MEMORY_SPILL_DIR":   "/tmp/spill",
		"TORRENT_MAX_SESSIONS":       "10",
		"STREAM_READAHEAD_BYTES":     "1048576",
		"HTTP_RATE_LIMIT_RPS":        "2.5",
		"HTTP_RATE_LIMIT_BURST":      "5",
		"CORS_ALLOWED_ORIGINS":       "http://localhost:3000, https://example.com",
	})

	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":9090"},
		{"LogLevel", cfg.LogLevel, "debug"},
		{"LogFormat", cfg.LogFormat, "json"},
		{"TorrentDataDir", cfg.TorrentDataDir, "/mnt/data"},
		{"StorageMode", cfg.StorageMode, "memory"},
		{"MemoryLimitBytes", cfg.MemoryLimitBytes, int64(1073741824)},
		{"MemorySpillDir", cfg.MemorySpillDir, "/tmp/spill"},
		{"MaxSessions", cfg.MaxSessions, 10},
		{"ReadaheadBytes", cfg.ReadaheadBytes, int64(1048576)},
		{"RateLimitRPS", cfg.RateLimitRPS, 2.5},
		{"RateLimitBurst", cfg.RateLimitBurst, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	wantOrigins := []string{"http://localhost:3000", "https://example.com"}
	if len(cfg.CORSAllowedOrigins) != len(wantOrigins) {
		t.Fatalf("CORSAllowedOrigins: got %d entries, want %d", len(cfg.CORSAllowedOrigins), len(wantOrigins))
	}
	for i, got := range cfg.CORSAllowedOrigins {
		if got != wantOrigins[i] {
			t.Errorf("CORSAllowedOrigins[%d]: got %q, want %q", i, got, wantOrigins[i])
		}
	}
}

func TestGetEnvInt64InvalidFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		envVal   string
		fallback int64
		want     int64
	}{
		{"empty string", "", 42, 42},
		{"not a number", "abc", 42, 42},
		{"negative number", "-5", 42, 42},
		{"zero", "0", 42, 0},
		{"valid positive", "100", 42, 100},
		{"whitespace around number", "  50  ", 42, 50},
		{"float", "3.14", 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_VAR", tt.envVal)
			got := getEnvInt64("TEST_INT_VAR", tt.fallback)
			if got != tt.want {
				t.Errorf("getEnvInt64(%q, %d) = %d, want %d", tt.envVal, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name   string
		envVal string
		want   float64
	}{
		{"empty", "", 7},
		{"garbage", "fast", 7},
		{"negative", "-1", 7},
		{"fraction", "0.5", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_FLOAT_VAR", tt.envVal)
			if got := getEnvFloat("TEST_FLOAT_VAR", 7); got != tt.want {
				t.Errorf("getEnvFloat(%q) = %v, want %v", tt.envVal, got, tt.want)
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty string", "", nil},
		{"whitespace only", "   ", nil},
		{"single value", "http://localhost:3000", []string{"http://localhost:3000"}},
		{"multiple values", "a,b,c", []string{"a", "b", "c"}},
		{"values with spaces", " a , b , c ", []string{"a", "b", "c"}},
		{"trailing comma", "a,b,", []string{"a", "b"}},
		{"empty entries filtered", "a,,b,,c", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCSV(tt.input)
			if tt.want == nil {
				if got != nil {
					t.Errorf("parseCSV(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseCSV(%q) returned %d elements, want %d", tt.input, len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("parseCSV(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGetEnvFallback(t *testing.T) {
	t.Setenv("TEST_EXISTING", "hello")

	if got := getEnv("TEST_EXISTING", "default"); got != "hello" {
		t.Errorf("getEnv(existing) = %q, want %q", got, "hello")
	}

	t.Setenv("TEST_MISSING_XYZ", "")
	os.Unsetenv("TEST_MISSING_XYZ")
	if got := getEnv("TEST_MISSING_XYZ", "default"); got != "default" {
		t.Errorf("getEnv(missing) = %q, want %q", got, "default")
	}
}
