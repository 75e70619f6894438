package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plantops/maintwatch/internal/alerting"
	"github.com/plantops/maintwatch/internal/config"
	"github.com/plantops/maintwatch/internal/httpapi"
	"github.com/plantops/maintwatch/internal/observ"
	"github.com/plantops/maintwatch/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// defaults still apply; a missing file is fine for local runs
		observ.Log("config_load_warning", map[string]any{"path": *configPath, "err": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	st, err := store.OpenPostgres(ctx, cfg.Database.DSN())
	cancel()
	if err != nil {
		observ.LogError("store_open_failed", err, nil)
		os.Exit(1)
	}
	defer st.Close()

	engine := alerting.NewEngine(cfg, st)
	engine.StartSweeper()
	defer engine.Stop()

	lifecycle := alerting.NewLifecycleManager(st, nil)
	lifecycle.OnResolve(engine.ResetMachine)

	api := httpapi.New(engine, lifecycle, st, cfg.Server)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		observ.Log("server_started", map[string]any{"addr": cfg.Server.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observ.LogError("server_failed", err, nil)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	observ.Log("server_stopping", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		observ.LogError("server_shutdown_failed", err, nil)
	}
}
