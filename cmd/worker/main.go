// The worker process runs the queue consumers: per-queue worker pools with
// lease reclaim and retention janitors, the receipt pipeline handlers, and
// the webhook delivery retry loop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Abraxas-365/recibo/pkg/logx"
)

func main() {
	logx.Info("🚀 Starting recibo worker...")

	container := NewContainer()
	defer container.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logx.Info("⏳ Shutting down worker...")
		cancel()
	}()

	go container.Dispatcher.Start(ctx)

	// Blocks until ctx is cancelled, then drains in-flight jobs.
	if err := container.Jobs.Start(ctx); err != nil {
		logx.Fatalf("worker error: %v", err)
	}
	logx.Info("👋 Worker stopped")
}
