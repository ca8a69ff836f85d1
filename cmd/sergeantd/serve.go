package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coopforge/sergeant/internal/agentsvc"
	"github.com/coopforge/sergeant/internal/audit"
	"github.com/coopforge/sergeant/internal/config"
	"github.com/coopforge/sergeant/internal/launcher"
	"github.com/coopforge/sergeant/internal/logging"
	"github.com/coopforge/sergeant/internal/memorysvc"
	"github.com/coopforge/sergeant/internal/opsurface"
	"github.com/coopforge/sergeant/internal/sergeanterr"
	"github.com/coopforge/sergeant/internal/store"
	"github.com/coopforge/sergeant/internal/tasksvc"
	"github.com/coopforge/sergeant/internal/telemetry"
)

var serveLog = logging.Component("serve")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "configs/sergeantd.yaml", "Path to configuration file")
	serveCmd.Flags().Int("port", 0, "Override HTTP server port (0 = use config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	portOverride, _ := cmd.Flags().GetInt("port")

	cfg := config.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			serveLog.Warn().Err(err).Str("path", configPath).Msg("failed to load config, using defaults")
		} else {
			cfg = loaded
			serveLog.Info().Str("path", configPath).Msg("loaded configuration")
		}
	} else {
		serveLog.Info().Msg("config file not found, using defaults")
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	serveLog.Info().Str("path", cfg.Database.Path).Msg("store opened")

	taskNotifier := tasksvc.NewNotifier()
	agentNotifier := agentsvc.NewNotifier()

	tasks := tasksvc.NewService(st, taskNotifier, cfg.LongPoll)
	agents := agentsvc.NewService(st, agentNotifier, taskNotifier)
	memory := memorysvc.NewService(st)

	auditLogger := audit.NewLogger(st)
	auditLogger.Start(taskNotifier, agentNotifier)

	embeddedNATS, err := launcher.StartEmbeddedServer(cfg.Server.NATSPort)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	defer embeddedNATS.Shutdown()
	serveLog.Info().Int("port", cfg.Server.NATSPort).Msg("embedded nats server started")

	bus, err := launcher.NewBus(embeddedNATS.ClientURL(), "sergeantd")
	if err != nil {
		return fmt.Errorf("connect launcher bus: %w", err)
	}
	defer bus.Close()

	personaLauncher := launcher.NewPersonaLauncher(agents, cfg.Personas, bus, cfg.Subprocess.KillGracePeriod)
	defer personaLauncher.Shutdown()

	surface := opsurface.New(tasks, agents, memory, personaLauncher)

	stopMetrics := startMetricsCollector(st, taskNotifier, agentNotifier)
	defer stopMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	mux.HandleFunc("/health", handleHealth(st))
	registerOpsurfaceRoutes(mux, surface)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		serveLog.Info().Int("port", cfg.Server.Port).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveLog.Fatal().Err(err).Msg("http server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	serveLog.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		serveLog.Warn().Err(err).Msg("http server shutdown error")
	}

	taskNotifier.Bus().Dispose()
	agentNotifier.Bus().Dispose()
	auditLogger.Shutdown(10 * time.Second)

	serveLog.Info().Msg("sergeantd shutdown complete")
	return nil
}

func handleHealth(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := st.ListWorkItems(r.Context(), store.WorkItemFilter{Status: store.WorkItemPending})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pending_tasks": len(pending)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpErrorStatus(err error) int {
	switch {
	case sergeanterr.IsValidation(err):
		return http.StatusBadRequest
	case sergeanterr.IsNotFound(err):
		return http.StatusNotFound
	case sergeanterr.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
