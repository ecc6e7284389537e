package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/WowVeryLogin/vkprism/src/app"
	"github.com/WowVeryLogin/vkprism/src/config"
	"github.com/WowVeryLogin/vkprism/src/logger"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if path := config.SavePath(); path != "" {
		if err := cfg.SaveTo(path); err != nil {
			logger.Sugar.Errorf("failed to save config to %s: %v", path, err)
			logger.Sync()
			os.Exit(1)
		}
		logger.Sugar.Infow("config saved", "path", path)
		logger.Sync()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = app.Run(ctx, cfg, logger.Log)
	stop()
	if err != nil {
		logger.Sugar.Errorw("render failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
