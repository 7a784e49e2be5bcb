// Command uploadengine runs the upload engine daemon: it watches a
// drop directory for admission descriptors and drives each admitted
// file's chunked upload to completion.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/voltrail/upload-engine/internal/app"
	"github.com/voltrail/upload-engine/internal/config"
	"github.com/voltrail/upload-engine/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		log.Info("shutting down...")
		cancel()
	}()

	app.Run(ctx, cfg, log)
}
