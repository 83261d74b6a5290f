package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	httppprof "net/http/pprof"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cauldron.ai/internal/agent"
	"cauldron.ai/internal/observerproto"
	"cauldron.ai/internal/persistence/indexdb"
	persistlog "cauldron.ai/internal/persistence/log"
	"cauldron.ai/internal/sim/catalogs"
	"cauldron.ai/internal/sim/tuning"
	"cauldron.ai/internal/transport/observer"
)

type options struct {
	TuningPath  string
	CatalogDir  string
	TurnLogDir  string
	IndexDB     string
	ObserveAddr string
	SnapshotDir string
	CPUProfile  string
	Pprof       bool
}

func main() {
	var (
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: compiled-in defaults)")
		catalogDir  = flag.String("catalogs", "", "catalog directory with learnables/bases/brews.json (default: embedded)")
		logLevel    = flag.String("log_level", "info", "log level (trace|debug|info|warn|error)")
		logFormat   = flag.String("log_format", "console", "log format (console|json)")
		turnLogDir  = flag.String("turn_log", "", "directory for turns-*.jsonl.zst (empty to disable)")
		indexDB     = flag.String("index_db", "", "sqlite index path (empty to disable)")
		observeAddr = flag.String("observe_addr", "", "loopback address for the observer websocket, e.g. 127.0.0.1:8091 (empty to disable)")
		snapshotDir = flag.String("snapshot_dir", "", "directory for per-turn snapshots (empty to disable)")
		cpuProfile  = flag.String("cpuprofile", "", "write a CPU profile to this file")
		enablePprof = flag.Bool("pprof", false, "serve /debug/pprof on the observer address")
	)
	flag.Parse()

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	opts := options{
		TuningPath:  strings.TrimSpace(*tuningPath),
		CatalogDir:  strings.TrimSpace(*catalogDir),
		TurnLogDir:  strings.TrimSpace(*turnLogDir),
		IndexDB:     strings.TrimSpace(*indexDB),
		ObserveAddr: strings.TrimSpace(*observeAddr),
		SnapshotDir: strings.TrimSpace(*snapshotDir),
		CPUProfile:  strings.TrimSpace(*cpuProfile),
		Pprof:       *enablePprof,
	}
	if err := run(opts, logger); err != nil {
		logger.Error().Err(err).Msg("agent-failed")
		os.Exit(1)
	}
}

func newLogger(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("bad -log_level %q: %w", level, err)
	}
	var l zerolog.Logger
	switch format {
	case "json":
		l = zerolog.New(os.Stderr)
	case "console":
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	default:
		return zerolog.Nop(), fmt.Errorf("bad -log_format %q", format)
	}
	return l.Level(lvl).With().Timestamp().Logger(), nil
}

func loadInputs(opts options) (*catalogs.Catalogs, tuning.Tuning, error) {
	var (
		cats *catalogs.Catalogs
		err  error
	)
	if opts.CatalogDir == "" {
		cats, err = catalogs.LoadDefault()
	} else {
		cats, err = catalogs.Load(opts.CatalogDir)
	}
	if err != nil {
		return nil, tuning.Tuning{}, fmt.Errorf("load catalogs: %w", err)
	}
	tune := tuning.Defaults()
	if opts.TuningPath != "" {
		if tune, err = tuning.Load(opts.TuningPath); err != nil {
			return nil, tune, fmt.Errorf("load tuning: %w", err)
		}
	}
	return cats, tune, nil
}

func run(opts options, logger zerolog.Logger) error {
	if opts.CPUProfile != "" {
		f, err := os.Create(opts.CPUProfile)
		if err != nil {
			return fmt.Errorf("cpuprofile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("cpuprofile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	cats, tune, err := loadInputs(opts)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	logger = logger.With().Str("session", sessionID).Logger()
	cfg := agent.Config{
		SessionID:   sessionID,
		Catalogs:    cats,
		Tuning:      tune,
		Logger:      logger,
		SnapshotDir: opts.SnapshotDir,
	}

	if opts.TurnLogDir != "" {
		tl := persistlog.NewTurnLogger(opts.TurnLogDir)
		defer tl.Close()
		cfg.Writers = append(cfg.Writers, tl)
	}

	var idx *indexdb.SQLiteIndex
	if opts.IndexDB != "" {
		idx, err = indexdb.OpenSQLite(opts.IndexDB)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Warn().Err(err).Msg("index-upsert-catalogs-failed")
		}
		idx.RecordSession(sessionID, cats, tune)
		cfg.Writers = append(cfg.Writers, idx)
		cfg.SnapshotIndex = idx
	}

	var a *agent.Agent
	var obs *observer.Server
	if opts.ObserveAddr != "" {
		obs = observer.NewServer(func() observerproto.BootstrapResponse { return a.Status() }, logger)
		cfg.Publisher = obs
	}
	a = agent.New(cfg)

	logger.Info().
		Str("catalog_digest", cats.Digest()).
		Str("tuning_digest", tune.Digest()).
		Int("horizon", tune.Search.Horizon).
		Int("width", tune.Search.Width).
		Dur("budget", tune.Search.Budget()).
		Msg("session-started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return a.Run(gctx, os.Stdin, os.Stdout)
	})
	g.Go(func() error {
		// A blocked read only returns once stdin is closed.
		<-gctx.Done()
		_ = os.Stdin.Close()
		return nil
	})
	if obs != nil {
		srv := &http.Server{
			Addr:              opts.ObserveAddr,
			Handler:           observeMux(obs, a, opts.Pprof),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", opts.ObserveAddr).Msg("observer-listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("observer: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	s := a.Session()
	idx.EndSession(sessionID, s.Turn, s.Brews, s.OpponentBrews)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("agent-interrupted")
		return nil
	}
	return err
}

func observeMux(obs *observer.Server, a *agent.Agent, enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/observer/", obs.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "turn": a.Session().Turn, "observers": obs.Clients()})
	})
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", httppprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
	}
	return mux
}
