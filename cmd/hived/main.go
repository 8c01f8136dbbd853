package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kypseli/hive/internal/bus"
	"github.com/kypseli/hive/internal/config"
	"github.com/kypseli/hive/internal/orchestrator"
	"github.com/kypseli/hive/internal/scheduler"
	"github.com/kypseli/hive/internal/store"
	"github.com/kypseli/hive/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("hived %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: hived <command>\n\nCommands:\n  serve      Start the hive daemon\n  backup     Archive the data directory\n  restore    Restore a data directory archive\n  version    Print version\n")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting hived", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS + domain channels
	b, err := bus.New(cfg.NATS, db)
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	defer b.Close()
	slog.Info("bus started", "port", cfg.NATS.Port)

	// Orchestration core
	orch := orchestrator.New(b, db)
	if err := orch.Rehydrate(); err != nil {
		return fmt.Errorf("rehydrate hive: %w", err)
	}
	st := orch.HiveStatus()
	slog.Info("hive rehydrated", "agents", st.TotalAgents, "pending_tasks", st.PendingTasks)

	// IPC for hivectl
	ipcClient, err := bus.NewClient(b)
	if err != nil {
		return fmt.Errorf("init ipc client: %w", err)
	}
	defer ipcClient.Close()
	if _, err := orch.ServeIPC(ipcClient); err != nil {
		return fmt.Errorf("serve ipc: %w", err)
	}

	// Maintenance sweeper
	sweep := scheduler.New(orch, cfg.Sweep)
	go sweep.Start(ctx)

	// Web API
	if cfg.Web.Enabled {
		wsClient, err := bus.NewClient(b)
		if err != nil {
			return fmt.Errorf("init web nats client: %w", err)
		}
		defer wsClient.Close()

		srv := web.NewServer(orch, wsClient, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
