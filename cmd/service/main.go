package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/app"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/config"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/logging"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/service"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/session"
)

// Usage example on the command line:
// > SUPABASE_URL=https://xyz.supabase.co SUPABASE_ANON_KEY=eyJ... PORT=8080 GIN_MODE=release go run main.go
// > CONTACTS_BACKEND=memory GIN_LOGGING=OFF go run main.go
func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run returns instead of exiting so that the deferred cleanup, flushing the logger included,
// always happens.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		logger := zap.NewExample()
		logger.Error("invalid configuration", zap.Error(err))
		_ = logger.Sync()
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "could not create logger:", err)
		return err
	}
	defer func() { _ = logger.Sync() }()

	b, closeBackend, err := app.OpenBackend(cfg, logger)
	if err != nil {
		logger.Error("could not open backend", zap.String("backend", string(cfg.Backend)), zap.Error(err))
		return err
	}
	defer closeBackend()

	if mode := os.Getenv(gin.EnvGinMode); mode != "" {
		gin.SetMode(mode)
	}
	secureCookie := gin.Mode() == gin.ReleaseMode && os.Getenv("INSECURE_COOKIE") == ""
	router := service.New(b, session.NewStore(secureCookie), logger).SetupHttpRouter(cfg.GinLogging)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("backend", string(cfg.Backend)))
	return serve(ctx, srv, logger)
}

// serve runs the server until ctx is done and then shuts it down gracefully. A server that cannot
// listen is reported as error.
func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	listenErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		logger.Error("listen failed", zap.String("addr", srv.Addr), zap.Error(err))
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}
	logger.Info("server exited")
	return nil
}
