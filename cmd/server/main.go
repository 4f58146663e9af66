package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"crewcontrol.gg/internal/config"
	"crewcontrol.gg/internal/effect"
	"crewcontrol.gg/internal/game"
	"crewcontrol.gg/internal/persistence/audit"
	"crewcontrol.gg/internal/session"
	"crewcontrol.gg/internal/track"
	"crewcontrol.gg/internal/transport/tcp"
	"crewcontrol.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "", "tcp listen address (overrides config)")
		wsAddr     = flag.String("ws_addr", "", "websocket http listen address (overrides config; empty disables)")
		configPath = flag.String("config", "./configs/server.yaml", "config file path")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		wordlist   = flag.String("wordlist", "", "password wordlist path (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite audit index (JSONL audit logs remain)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("config not found (%s); using defaults", *configPath)
			cfg = config.Defaults()
		} else {
			logger.Fatalf("load config: %v", err)
		}
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *wsAddr != "" {
		cfg.WSAddr = *wsAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *wordlist != "" {
		cfg.Wordlist = *wordlist
	}

	words, err := session.LoadWordlist(cfg.Wordlist)
	if err != nil {
		logger.Fatalf("load wordlist: %v", err)
	}
	gen, err := session.NewGenerator(words, time.Now().UnixNano())
	if err != nil {
		logger.Fatalf("wordlist: %v", err)
	}

	var idx *audit.SQLiteIndex
	if !*disableDB {
		idx, err = audit.OpenSQLite(filepath.Join(cfg.DataDir, "index", "audit.db"))
		if err != nil {
			logger.Fatalf("open audit index: %v", err)
		}
		defer idx.Close()
	}
	auditLog := audit.New(cfg.DataDir, idx, logger)
	defer auditLog.Close()

	// The in-process world stands in for the hosting engine's adapters.
	world := game.NewMemory()
	tracker := track.New(logger)
	arbiter := effect.NewArbiter()
	scheduler := effect.NewScheduler(arbiter, logger)
	factory := &effect.Factory{
		Tracker:  tracker,
		Dir:      world,
		Exec:     world,
		Effects:  cfg.Effects,
		Sabotage: cfg.Sabotage,
		Log:      logger,
	}
	cache := effect.NewCache(factory.Build, logger)

	mgr := session.NewManager(session.Deps{
		Dir:       world,
		Exec:      world,
		Tracker:   tracker,
		Cache:     cache,
		Arbiter:   arbiter,
		Scheduler: scheduler,
		Generator: gen,
		Audit:     auditLog,
		Log:       logger,
	})
	defer mgr.Close()

	ctx, cancel := signalContext()
	defer cancel()

	srv := tcp.NewServer(mgr, logger)
	if err := srv.Listen(cfg.ListenAddr); err != nil {
		logger.Fatalf("listen: %v", err)
	}

	var httpSrv *http.Server
	if cfg.WSAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		})
		mux.HandleFunc("/v1/ws", ws.NewServer(mgr, logger).Handler())
		if envBool("CC_ENABLE_PPROF_HTTP", false) {
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		}

		httpSrv = &http.Server{
			Addr:              cfg.WSAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("websocket listening on %s", cfg.WSAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatalf("ListenAndServe: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Printf("shutting down")

	if httpSrv != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(ctx2)
		cancel2()
	}
	if err := srv.Close(); err != nil {
		logger.Printf("close: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
