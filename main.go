package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ytfetch/internal/extractor"
	"ytfetch/internal/httpapi"
	"ytfetch/internal/logger"
	"ytfetch/internal/orchestrator"
	"ytfetch/internal/paths"
	"ytfetch/internal/progress"
)

func main() {
	if err := logger.Init("."); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if _, ok := paths.LookPath(paths.ExtractorBinary()); !ok {
		logger.Log.Warn().Str("binary", paths.ExtractorBinary()).Msg("extractor binary not found on PATH; downloads will fail until it is installed")
	}

	reg := progress.NewRegistry()
	driver := extractor.NewDriver()
	orch := orchestrator.New(reg, driver)

	server := httpapi.New(orch, staticDir())
	router := server.Router()

	addr := ":" + port()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Log.Info().Str("addr", addr).Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Log.Info().Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("server shutdown error")
	}

	// In-flight jobs do not survive the process: kill their extractors.
	for jobID := range reg.Snapshot() {
		orch.Cancel(jobID)
	}
}

// port resolves the listen port from the PORT environment variable,
// per spec.md §6; 3001 is the default.
func port() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return "3001"
}

// staticDir resolves the SPA asset directory. Defaults to
// frontend_dist, mirroring the teacher's embedded frontend/dist
// layout; the httpapi fallback degrades to a placeholder page if
// nothing is actually built there.
func staticDir() string {
	if d := os.Getenv("STATIC_DIR"); d != "" {
		return d
	}
	return "frontend_dist"
}
