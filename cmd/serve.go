package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"stepweave/runtime"
	"stepweave/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow runtime HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	l := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(l)

	cfg, err := runtime.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, "stepweave", rootCmd.Version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			l.Error("Telemetry shutdown failed", "error", err)
		}
	}()

	store, err := runtime.LoadWorkflow(cfg.WorkflowPath)
	if err != nil {
		return err
	}
	def := store.Definition()
	l.InfoContext(ctx, "Loaded workflow", "name", def.Info.Name, "version", def.Info.Version)

	var sessions runtime.SessionStore = runtime.NewMemorySessionStore()
	if cfg.DatabaseURL != "" {
		pg, err := runtime.NewPGSessionStore(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		sessions = pg
		l.InfoContext(ctx, "Using Postgres session store")
	}

	var uploads runtime.UploadStore = runtime.NewMemoryUploadStore()
	if cfg.UploadDir != "" {
		local, err := runtime.NewLocalUploadStore(cfg.UploadDir)
		if err != nil {
			return err
		}
		uploads = local
		l.InfoContext(ctx, "Using local upload store", "dir", cfg.UploadDir)
	}

	gateway := runtime.NewProviderGateway(l, def, cfg.ProviderTimeout)
	executor := runtime.NewStepExecutor(l, runtime.NewEvaluator(), gateway)
	engine := runtime.NewEngine(l, def, sessions, uploads, executor)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	runtime.NewHTTPHandler(l, engine, router)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.InfoContext(ctx, "Listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	l.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
