package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]struct {
		want zerolog.Level
		ok   bool
	}{
		"":            {zerolog.InfoLevel, false},
		"diagnostics": {zerolog.TraceLevel, true},
		" DEBUG ":     {zerolog.DebugLevel, true},
		"warning":     {zerolog.WarnLevel, true},
		"error":       {zerolog.ErrorLevel, true},
		"off":         {zerolog.Disabled, true},
		"loud":        {zerolog.InfoLevel, false},
	}
	for raw, tc := range cases {
		got, ok := ParseLevel(raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v,%v", raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "yes")
	t.Setenv(EnvLogJSON, "1")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.WarnLevel || cfg.Timestamp || !cfg.JSON {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.NoColor {
		t.Fatalf("unparseable bool should keep the default")
	}
}

func TestNewJSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.InfoLevel, JSON: true, Out: &buf})
	logger.Debug().Msg("hidden")
	logger.Info().Str("unit", "Messages").Msg("ready")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked: %s", out)
	}
	if out != `{"level":"info","unit":"Messages","message":"ready"}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestNewConsoleOmitsTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.DebugLevel, NoColor: true, Out: &buf})
	logger.Debug().Msg("frame")
	out := buf.String()
	if !strings.HasPrefix(out, "DBG frame") {
		t.Fatalf("unexpected console output: %q", out)
	}
}
