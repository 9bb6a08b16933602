package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"minefield.ai/internal/sim/interest"
	"minefield.ai/internal/sim/multiworld"
	"minefield.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server config path (empty for defaults)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		backend    = flag.String("storage", "", "override backend: memory|sqlite|redis|leveldb (overrides config)")
		logLevel   = flag.String("log_level", "info", "log level")
		logJSON    = flag.Bool("log_json", false, "log as JSON")
		noRestore  = flag.Bool("no_restore", false, "do not resume games from the catalog")
		adminHTTP  = flag.Bool("admin_http", defaultEnableAdminHTTP(), "enable loopback-only /admin/v1 endpoints")
	)
	flag.Parse()

	logger := newLogger(*logLevel, *logJSON)

	path := strings.TrimSpace(*configPath)
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			logger.WithField("path", path).Warn("config not found; using defaults")
			path = ""
		}
	}
	cfg, err := multiworld.LoadConfig(path)
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dataDir != "" {
		cfg.Server.DataDir = *dataDir
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			logger.WithError(err).Fatal("bad -storage")
		}
	}
	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		logger.WithError(err).Fatal("create data dir")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, catalog, err := multiworld.OpenStorage(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("open storage")
	}
	defer catalog.Close()
	defer storage.Close()

	reg := multiworld.NewRegistry(multiworld.Options{
		Config:   cfg,
		Logger:   logger,
		Interest: interest.New(),
		Storage:  storage,
		Catalog:  catalog,
	})
	wsSrv := ws.NewServer(reg, ws.Options{
		Auth:   ws.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Logger: logger,
	})
	if !*noRestore {
		n, err := reg.Restore(ctx)
		if err != nil {
			logger.WithError(err).Warn("restore games")
		}
		logger.WithField("games", n).Info("restored games")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/metrics", metricsHandler(reg, wsSrv, catalog))
	if *adminHTTP {
		registerAdmin(mux, reg)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithFields(logrus.Fields{
		"addr":    cfg.Server.Addr,
		"data":    cfg.Server.DataDir,
		"storage": reg.StorageName(),
		"auth":    cfg.Auth.JWTSecret != "",
	}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("http server")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := reg.Close(closeCtx); err != nil {
		logger.WithError(err).Warn("close games")
	}
	if err := catalog.Flush(closeCtx); err != nil {
		logger.WithError(err).Warn("flush catalog")
	}
	logger.Info("bye")
}

func newLogger(level string, asJSON bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if asJSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		l.WithError(err).Warn("bad log level; using info")
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
