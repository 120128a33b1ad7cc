package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/clambin/radialight-monitor/internal/cmd"
)

var (
	// overridden during build
	version = "change-me"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd.RootCmd.Version = version
	err := cmd.RootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}
}
