package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"herovault.gg/internal/api"
	"herovault.gg/internal/core/game"
	"herovault.gg/internal/core/tuning"
	applog "herovault.gg/internal/log"
	"herovault.gg/internal/oracle"
	"herovault.gg/internal/persistence/indexdb"
	persistlog "herovault.gg/internal/persistence/log"
	"herovault.gg/internal/transport/ws"
)

type auditFanout struct {
	sinks []game.AuditLogger
}

func (f *auditFanout) WriteAudit(e game.AuditEntry) error {
	var first error
	for _, s := range f.sinks {
		if err := s.WriteAudit(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		logPath    = flag.String("log", "", "log file path (console only when empty)")
		debug      = flag.Bool("debug", false, "debug logging")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite audit index")
	)
	flag.Parse()

	logger := applog.NewLogger(*logPath, *debug)
	defer func() { _ = logger.Sync() }()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatal("load tuning", zap.Error(err))
	}
	_ = os.MkdirAll(*dataDir, 0o755)

	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer auditLog.Close()
	sinks := []game.AuditLogger{auditLog}

	if !*disableDB {
		dbPath := strings.TrimSpace(tune.Index.Path)
		if dbPath == "" {
			dbPath = filepath.Join(*dataDir, "index", "game.db")
		}
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			logger.Fatal("open index", zap.Error(err))
		}
		defer idx.Close()
		sinks = append(sinks, idx)
		defer idx.Flush()
	}

	g, err := game.New(tune, logger, game.WithAuditLogger(&auditFanout{sinks: sinks}))
	if err != nil {
		logger.Fatal("assemble game", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := g.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("game loop exited", zap.Error(err))
		}
	}()

	worker := oracle.New(g, tune.Oracle.Principal, time.Duration(tune.Oracle.PollIntervalMs)*time.Millisecond, logger)
	go func() { _ = worker.Run(ctx) }()

	var audits api.AuditReader
	for _, s := range sinks {
		if idx, ok := s.(*indexdb.SQLiteIndex); ok {
			audits = idx
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/ws", ws.NewServer(g, logger).Handler())
	mux.Handle("/", api.NewServer(g, audits, tune.Listen.AdminToken, logger).Router())

	addr := tune.Listen.HTTP
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving",
		zap.String("addr", addr),
		zap.String("admin", tune.Admin),
		zap.String("oracle", tune.Oracle.Principal))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}
