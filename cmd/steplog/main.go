// Package main is the entry point for the steplog server.
//
// steplog accepts batches of JSON step samples over HTTP and appends them to
// a JSONL log in the data directory. Configuration is read from CLI flags, a
// .env file and config.yaml, all in the data directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/steplog/internal/metrics"
	"github.com/maruel/steplog/internal/server"
	"github.com/maruel/steplog/internal/server/ipgeo"
	"github.com/maruel/steplog/internal/storage"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "steplog: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "0.0.0.0:8000", "Address to listen on; \":8000\" also binds all interfaces, use localhost:8000 for loopback only")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	stepsView := flag.String("steps-view", "", "GET /steps contract: samples or count (default from config.yaml)")
	geoDB := flag.String("geo-db", "", "Path to MaxMind MMDB file for IP geolocation (optional)")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		fmt.Print(readBuildInfo())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(ll, os.Getenv("JOURNAL_STREAM") != ""))

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := applyDotEnv(flag.CommandLine, *dataDir); err != nil {
		return err
	}

	if err := setLogLevel(ll, *logLevel); err != nil {
		return err
	}

	serverCfg, err := storage.LoadServerConfig(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", storage.ConfigFileName, err)
	}
	if *stepsView != "" {
		v := storage.StepsView(*stepsView)
		if err := v.Validate(); err != nil {
			return err
		}
		serverCfg.StepsView = v
	}

	store, err := storage.NewStepStore(*dataDir, serverCfg.StepsView)
	if err != nil {
		return fmt.Errorf("failed to initialize step store: %w", err)
	}
	abs, err := filepath.Abs(store.LogPath())
	if err != nil {
		abs = store.LogPath()
	}
	slog.InfoContext(ctx, "Step log", "path", abs, "view", store.View())

	// A rebuilt binary stops the server so that a supervisor restarts it.
	exe, err := os.Executable()
	if err == nil {
		exe, err = filepath.EvalSymlinks(exe)
	}
	if err == nil {
		err = watchFile(ctx, exe, func() {
			slog.InfoContext(ctx, "Executable modified, initiating shutdown")
			stop()
		})
	}
	if err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}

	var geoChecker *ipgeo.Checker
	if *geoDB != "" {
		geoChecker, err = ipgeo.Open(*geoDB)
		if err != nil {
			return fmt.Errorf("failed to open geo database: %w", err)
		}
		defer func() { _ = geoChecker.Close() }()
		slog.InfoContext(ctx, "IP geolocation enabled", "db", *geoDB)
	}

	bi := readBuildInfo()
	cfg := &server.Config{
		ServerConfig: serverCfg,
		Version:      bi.version,
		IPGeo:        geoChecker,
		Metrics:      metrics.New(),
	}
	httpServer := &http.Server{
		Addr:              *httpAddr,
		Handler:           server.NewRouter(ctx, store, cfg),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", *httpAddr, "version", bi.version)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// newLogger returns a tint logger on stderr. Zero-valued attributes are
// dropped, and so is the timestamp when systemd adds its own.
func newLogger(ll *slog.LevelVar, underSystemd bool) *slog.Logger {
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:       ll,
		TimeFormat:  "15:04:05.000",
		NoColor:     !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: replaceAttr(underSystemd),
	}))
}

func replaceAttr(underSystemd bool) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey && len(groups) == 0 {
			if underSystemd {
				return slog.Attr{}
			}
			return a
		}
		v := a.Value
		drop := false
		switch v.Kind() {
		case slog.KindString:
			s := v.String()
			drop = s == "" || (a.Key == "ip" && (s == "127.0.0.1" || s == "::1"))
		case slog.KindBool:
			drop = !v.Bool()
		case slog.KindInt64:
			drop = v.Int64() == 0
		case slog.KindUint64:
			drop = v.Uint64() == 0
		case slog.KindFloat64:
			drop = v.Float64() == 0
		case slog.KindDuration:
			drop = v.Duration() == 0
		case slog.KindTime:
			drop = v.Time().IsZero()
		case slog.KindAny:
			drop = v.Any() == nil
		}
		if drop {
			return slog.Attr{}
		}
		return a
	}
}

func setLogLevel(ll *slog.LevelVar, level string) error {
	switch level {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
		ll.Set(slog.LevelInfo)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", level)
	}
	return nil
}

// buildInfo describes the running binary.
type buildInfo struct {
	version   string
	goVersion string
	revision  string
	modified  bool
}

func readBuildInfo() buildInfo {
	bi := buildInfo{version: "unknown", goVersion: "unknown", revision: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return bi
	}
	bi.goVersion = info.GoVersion
	bi.version = info.Main.Version
	if bi.version == "" || bi.version == "(devel)" {
		bi.version = "dev"
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			bi.revision = s.Value
		case "vcs.modified":
			bi.modified = s.Value == "true"
		}
	}
	return bi
}

func (bi buildInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "steplog %s\n  go:       %s\n  revision: %s\n", bi.version, bi.goVersion, bi.revision)
	if bi.modified {
		b.WriteString("  modified: true\n")
	}
	return b.String()
}

// envKey maps a flag name to its .env key: "log-level" becomes "LOG_LEVEL".
func envKey(flagName string) string {
	return strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyDotEnv sets the flags that were not given on the command line
// from dataDir/.env. The data directory itself and -version cannot be set
// this way. Empty values are ignored.
func applyDotEnv(flags *flag.FlagSet, dataDir string) error {
	env, err := readDotEnv(filepath.Join(dataDir, ".env"))
	if err != nil {
		return err
	}
	explicit := map[string]bool{"data-dir": true, "version": true}
	flags.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})
	var errs []error
	flags.VisitAll(func(f *flag.Flag) {
		v := env[envKey(f.Name)]
		if v == "" || explicit[f.Name] {
			return
		}
		if err := flags.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Errorf(".env %s: %w", envKey(f.Name), err))
		}
	})
	return errors.Join(errs...)
}

// readDotEnv parses KEY=value lines. Values may be wrapped in single or
// double quotes; double-quoted values use Go escapes. A missing file yields
// an empty map.
func readDotEnv(path string) (map[string]string, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir flag, not user input
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	env := map[string]string{}
	for i, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		key, val, ok := strings.Cut(line, "=")
		if !ok || strings.HasPrefix(line, "#") {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch {
		case len(val) >= 2 && val[0] == '\'' && val[len(val)-1] == '\'':
			val = val[1 : len(val)-1]
		case strings.HasPrefix(val, `"`):
			if val, err = strconv.Unquote(val); err != nil {
				return nil, fmt.Errorf("%s:%d: %s: %w", path, i+1, key, err)
			}
		}
		env[key] = val
	}
	return env, nil
}

// watchFile calls onChange once when path is written to, then stops
// watching. It also stops when ctx is done.
func watchFile(ctx context.Context, path string, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Chmod) {
					onChange()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching file", "path", path, "err", err)
			}
		}
	}()
	return nil
}
