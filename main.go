package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"hybrid/server/internal/auth"
	"hybrid/server/internal/channels"
	"hybrid/server/internal/config"
	"hybrid/server/internal/httpapi"
	"hybrid/server/internal/state"
	"hybrid/server/internal/store"
	"hybrid/server/internal/text"
	"hybrid/server/internal/voice"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	cfgPath := flag.String("config", "server.yaml", "YAML config path (missing file = defaults)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	bind := flag.String("bind", "", "Bind address for both planes (overrides config)")
	textPort := flag.Int("text-port", 0, "Text plane port (overrides config)")
	voicePort := flag.Int("voice-port", 0, "Voice plane port (overrides config)")
	httpAddr := flag.String("http", "", "Status API address (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *bind != "" {
		cfg.Bind = *bind
	}
	if *textPort != 0 {
		cfg.TextPort = *textPort
	}
	if *voicePort != 0 {
		cfg.VoicePort = *voicePort
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := parseLevel(cfg.LogLevel)
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})))

	if RunCLI(flag.Args(), cfg) {
		return
	}

	slog.Info("starting server", "version", Version, "name", cfg.ServerName, "db", cfg.DBPath)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open sqlite store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("close sqlite store", "err", closeErr)
		}
	}()
	if err := st.SetSetting("server_name", cfg.ServerName); err != nil {
		slog.Error("persist server name", "err", err)
		os.Exit(1)
	}

	cm, err := channels.New(st)
	if err != nil {
		slog.Error("initialize channels", "err", err)
		os.Exit(1)
	}

	registry := state.NewRegistry()
	textSrv := text.NewServer(text.Config{
		Addr:       cfg.TextAddr(),
		MaxLineLen: cfg.MaxLineLen,
	}, registry, auth.New(st), cm)
	voiceSrv := voice.NewServer(voice.Config{
		Addr:            cfg.VoiceAddr(),
		MaxFramePayload: uint32(cfg.MaxVoiceFrame),
	}, registry)

	if err := textSrv.Listen(); err != nil {
		slog.Error("text plane", "err", err)
		os.Exit(1)
	}
	if err := voiceSrv.Listen(); err != nil {
		slog.Error("voice plane", "err", err)
		os.Exit(1)
	}

	registered, err := st.UserCount()
	if err != nil {
		slog.Error("count users", "err", err)
		os.Exit(1)
	}
	slog.Info("server ready",
		"channels", strings.Join(cm.Names(), ","),
		"registered_users", registered)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return textSrv.Serve(ctx) })
	g.Go(func() error { return voiceSrv.Serve(ctx) })
	if cfg.HTTPAddr != "" {
		api := httpapi.New(registry, cm, st)
		g.Go(func() error { return api.Run(ctx, cfg.HTTPAddr) })
		slog.Info("status api enabled", "addr", cfg.HTTPAddr)
	}
	g.Go(func() error {
		RunMetrics(ctx, voiceSrv, registry, time.Minute)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
