package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	url      string
	interval time.Duration
	timeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "wait-until-available",
	Short:        "Waits until the contacts UI answers its health check",
	Example:      `  go run main.go --url=http://localhost:8080/healthz --timeout=2m`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		ctx := cmd.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return waitUntilAvailable(ctx, http.DefaultClient, url, interval, logger)
	},
}

func init() {
	defaultURL := os.Getenv("HEALTHZ_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080/healthz"
	}
	rootCmd.Flags().StringVar(&url, "url", defaultURL, "the health check endpoint to poll")
	rootCmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "the time between two attempts")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long, 0 waits forever")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// waitUntilAvailable polls the url until it answers 200 OK or the context ends.
func waitUntilAvailable(ctx context.Context, client *http.Client, url string, interval time.Duration, logger *zap.Logger) error {
	start := time.Now()
	for {
		status, err := probe(ctx, client, url)
		switch {
		case err != nil:
			logger.Info("service not reachable yet", zap.String("url", url), zap.Error(err))
		case status == http.StatusOK:
			logger.Info("service available", zap.String("url", url), zap.Duration("waited", time.Since(start)))
			return nil
		default:
			logger.Info("service not healthy yet", zap.String("url", url), zap.Int("status", status))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for %s: %w", url, ctx.Err())
		case <-time.After(interval):
		}
	}
}

func probe(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	res, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	return res.StatusCode, nil
}
