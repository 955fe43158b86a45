// Package main implements syncd, the Notabene sync daemon: it keeps the
// local cache reconciled with the remote backend and exposes a local
// status/websocket endpoint for UI observers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/notabene-app/notabene-core/internal/db"
	apperrors "github.com/notabene-app/notabene-core/internal/errors"
	"github.com/notabene-app/notabene-core/internal/gateway"
	"github.com/notabene-app/notabene-core/internal/logging"
	"github.com/notabene-app/notabene-core/internal/models"
	"github.com/notabene-app/notabene-core/internal/store"
	syncpkg "github.com/notabene-app/notabene-core/internal/sync"
	"github.com/notabene-app/notabene-core/internal/sync/queue"
)

// Version is set at build time.
var Version = "0.1.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "syncd",
		Short:   "Notabene offline-first sync daemon",
		Version: Version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "syncd.yaml", "path to config file")

	root.AddCommand(serveCmd(), syncCmd(), statusCmd(), retryCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the wired components behind each subcommand.
type app struct {
	cfg     *Config
	db      *db.DB
	store   *store.Store
	queue   *queue.Queue
	client  *gateway.Client
	manager *syncpkg.Manager
}

func buildApp() (*app, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	initLogging(cfg)

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database.DB); err != nil {
		database.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	localStore := store.New(database)
	q := queue.New(database)

	registry := gateway.NewRegistry()
	var client *gateway.Client
	if cfg.Remote.BaseURL != "" {
		client = gateway.NewClient(&gateway.ClientConfig{
			BaseURL: cfg.Remote.BaseURL,
			Token:   cfg.Remote.Token,
			Timeout: cfg.RemoteTimeout(),
		})
		for _, name := range models.StoreNames() {
			if err := registry.Register(name, client.ForStore(name)); err != nil {
				database.Close()
				return nil, err
			}
		}
	}

	manager := syncpkg.NewManager(localStore, q, registry, &syncpkg.Config{
		TombstoneGrace: cfg.TombstoneGrace(),
	})

	return &app{
		cfg:     cfg,
		db:      database,
		store:   localStore,
		queue:   q,
		client:  client,
		manager: manager,
	}, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

func initLogging(cfg *Config) {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.File != "" {
		logging.Init(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}, level)
	} else {
		logging.Init(os.Stdout, level)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			if a.client == nil {
				return fmt.Errorf("remote.base_url must be configured for serve")
			}

			hub := NewWSHub()
			defer hub.Close()
			listenerID := a.manager.AddListener(hub.BroadcastEvent)
			defer a.manager.RemoveListener(listenerID)

			monitor := NewConnectivityMonitor(a.client, a.manager, a.cfg.ProbeInterval())
			monitor.Start()
			defer monitor.Stop()

			a.manager.StartAutoSync(a.cfg.AutoInterval())
			defer a.manager.StopAutoSync()

			mux := http.NewServeMux()
			mux.Handle("/ws", hub)
			mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
				status, err := a.manager.GetSyncStatus()
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(status)
			})

			server := &http.Server{Addr: a.cfg.Listen, Handler: mux}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Error("Status server failed", err, nil)
				}
			}()
			logging.Info("syncd started", map[string]interface{}{
				"listen":  a.cfg.Listen,
				"remote":  a.cfg.Remote.BaseURL,
				"version": Version,
			})

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			logging.Info("syncd shutting down", nil)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			if a.client == nil {
				return fmt.Errorf("remote.base_url must be configured for sync")
			}

			ctx := cmd.Context()
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			a.manager.SetOnline(a.client.Health(probeCtx) == nil)
			cancel()

			// Going online triggers a background pass; if our pass loses
			// that race, wait for the in-flight one to finish and retry.
			var result *syncpkg.Result
			for {
				result, err = a.manager.Sync(ctx)
				if apperrors.CodeOf(err) == apperrors.ErrSyncInProgress {
					time.Sleep(100 * time.Millisecond)
					continue
				}
				break
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print sync status and queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.manager.GetSyncStatus()
			if err != nil {
				return err
			}
			stats, err := a.queue.Stats()
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"status": status,
				"queue":  stats,
			})
		},
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset permanently failed queue items for another push attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.queue.RetryFailed()
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"reset": n})
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
