package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// If function returned normally (no panic), exit the goroutine
			// This covers both context cancellation and unexpected completion
			if panicValue == nil {
				return
			}

			// If ran for resetAfter duration before panicking, reset retry state
			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log := zap.S()
			log.Errorf("Panic in %s (attempt %d/%d): %v", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Errorf("%s failed after %d retries, shutting down", name, maxRetries)
				cancel()
				return
			}

			log.Warnf("%s will retry in %v", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// resolveConfigPath prefers the --config flag over BREWCTL_CONFIG
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("BREWCTL_CONFIG")
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "brewctl",
		Short:        "brewctl drives a centrifugal coffee brewer",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "machine config YAML (default $BREWCTL_CONFIG)")
	root.AddCommand(newRunCmd(&configPath), newCalibrateCmd(&configPath))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
