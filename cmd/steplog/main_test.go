package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeDotEnv(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestReadDotEnv(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		env, err := readDotEnv(filepath.Join(t.TempDir(), ".env"))
		if err != nil {
			t.Fatal(err)
		}
		if len(env) != 0 {
			t.Errorf("env = %v, want empty", env)
		}
	})

	t.Run("valid", func(t *testing.T) {
		dir := writeDotEnv(t, "# comment\n\nHTTP=localhost:9000\nLOG_LEVEL = debug \nGEO_DB=\"/var/lib/geo/country.mmdb\"\nSTEPS_VIEW='count'\nOTHER=a=b\nnot a pair\n")
		env, err := readDotEnv(filepath.Join(dir, ".env"))
		if err != nil {
			t.Fatal(err)
		}
		want := map[string]string{
			"HTTP":       "localhost:9000",
			"LOG_LEVEL":  "debug",
			"GEO_DB":     "/var/lib/geo/country.mmdb",
			"STEPS_VIEW": "count",
			"OTHER":      "a=b",
		}
		if len(env) != len(want) {
			t.Errorf("env = %v, want %v", env, want)
		}
		for k, v := range want {
			if env[k] != v {
				t.Errorf("env[%s] = %q, want %q", k, env[k], v)
			}
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, content := range []string{
			"HTTP=\"unterminated\n",
			"HTTP=\"bad \\q escape\"\n",
		} {
			dir := writeDotEnv(t, content)
			if _, err := readDotEnv(filepath.Join(dir, ".env")); err == nil {
				t.Errorf("readDotEnv(%q) succeeded", content)
			}
		}
	})
}

func TestApplyDotEnv(t *testing.T) {
	newFlags := func() (*flag.FlagSet, map[string]*string) {
		fs := flag.NewFlagSet("steplog", flag.ContinueOnError)
		vals := map[string]*string{
			"http":      fs.String("http", "0.0.0.0:8000", ""),
			"log-level": fs.String("log-level", "info", ""),
			"data-dir":  fs.String("data-dir", "./data", ""),
		}
		fs.Bool("version", false, "")
		return fs, vals
	}

	t.Run("fills unset flags", func(t *testing.T) {
		dir := writeDotEnv(t, "HTTP=:9000\nLOG_LEVEL=debug\nDATA_DIR=/elsewhere\n")
		fs, vals := newFlags()
		if err := fs.Parse([]string{"-log-level", "warn"}); err != nil {
			t.Fatal(err)
		}
		if err := applyDotEnv(fs, dir); err != nil {
			t.Fatal(err)
		}
		if got := *vals["http"]; got != ":9000" {
			t.Errorf("http = %q, want :9000", got)
		}
		if got := *vals["log-level"]; got != "warn" {
			t.Errorf("log-level = %q, command line must win", got)
		}
		if got := *vals["data-dir"]; got != "./data" {
			t.Errorf("data-dir = %q, must not come from .env", got)
		}
	})

	t.Run("empty value ignored", func(t *testing.T) {
		dir := writeDotEnv(t, "HTTP=\n")
		fs, vals := newFlags()
		if err := applyDotEnv(fs, dir); err != nil {
			t.Fatal(err)
		}
		if got := *vals["http"]; got != "0.0.0.0:8000" {
			t.Errorf("http = %q", got)
		}
	})

	t.Run("bad value", func(t *testing.T) {
		dir := writeDotEnv(t, "VERBOSE=maybe\n")
		fs, _ := newFlags()
		fs.Bool("verbose", false, "")
		if err := applyDotEnv(fs, dir); err == nil {
			t.Error("expected error")
		}
	})
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"http":       "HTTP",
		"log-level":  "LOG_LEVEL",
		"steps-view": "STEPS_VIEW",
		"geo-db":     "GEO_DB",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ll := &slog.LevelVar{}
			err := setLogLevel(ll, tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("setLogLevel(%q) error = %v", tt.in, err)
			}
			if ll.Level() != tt.want {
				t.Errorf("level = %v, want %v", ll.Level(), tt.want)
			}
		})
	}
}

func TestReplaceAttr(t *testing.T) {
	tests := []struct {
		name     string
		systemd  bool
		groups   []string
		attr     slog.Attr
		wantDrop bool
	}{
		{"empty string", false, nil, slog.String("cc", ""), true},
		{"string", false, nil, slog.String("cc", "CA"), false},
		{"zero int", false, nil, slog.Int("size", 0), true},
		{"int", false, nil, slog.Int("s", 200), false},
		{"zero duration", false, nil, slog.Duration("dur", 0), true},
		{"duration", false, nil, slog.Duration("dur", time.Millisecond), false},
		{"localhost ip", false, nil, slog.String("ip", "127.0.0.1"), true},
		{"remote ip", false, nil, slog.String("ip", "203.0.113.1"), false},
		{"time under systemd", true, nil, slog.Time(slog.TimeKey, time.Unix(1, 0)), true},
		{"time on a terminal", false, nil, slog.Time(slog.TimeKey, time.Unix(1, 0)), false},
		{"grouped time under systemd", true, []string{"g"}, slog.Time(slog.TimeKey, time.Unix(1, 0)), false},
		{"false", false, nil, slog.Bool("ok", false), true},
		{"nil", false, nil, slog.Any("err", nil), true},
		{"zero time", false, nil, slog.Time("at", time.Time{}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := replaceAttr(tt.systemd)(tt.groups, tt.attr)
			if dropped := got.Key == ""; dropped != tt.wantDrop {
				t.Errorf("dropped = %v, want %v", dropped, tt.wantDrop)
			}
		})
	}
}

func TestBuildInfoString(t *testing.T) {
	bi := buildInfo{version: "v1.2.3", goVersion: "go1.25.5", revision: "abc123"}
	if got := bi.String(); !strings.HasPrefix(got, "steplog v1.2.3\n") || !strings.Contains(got, "abc123") || strings.Contains(got, "modified") {
		t.Errorf("String() = %q", got)
	}
	bi.modified = true
	if got := bi.String(); !strings.HasSuffix(got, "modified: true\n") {
		t.Errorf("String() = %q", got)
	}
}

func TestWatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steplog")
	if err := os.WriteFile(path, []byte("v1"), 0o755); err != nil { //nolint:gosec // G306: stands in for an executable
		t.Fatal(err)
	}
	changed := make(chan struct{})
	if err := watchFile(t.Context(), path, func() { close(changed) }); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("v2"), 0o755); err != nil { //nolint:gosec // G306: stands in for an executable
		t.Fatal(err)
	}
	select {
	case <-changed:
	case <-time.After(10 * time.Second):
		t.Fatal("no change notification")
	}

	if err := watchFile(t.Context(), filepath.Join(t.TempDir(), "missing"), func() {}); err == nil {
		t.Error("watching a missing file succeeded")
	}
}
