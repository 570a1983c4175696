package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"shadowbox"
	"shadowbox/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	defer func() {
		if err := logger.Sync(); err != nil {
			sugar.Errorw("failed to sync logger", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	core, err := shadowbox.Open(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalw("failed to open core", "error", err)
	}

	sugar.Infow("shadowboxd running", "share_port", core.SharePort())

	<-ctx.Done()
	sugar.Infow("shutting down")
	if err := core.Shutdown(context.Background()); err != nil {
		sugar.Errorw("shutdown error", "error", err)
	}
}
