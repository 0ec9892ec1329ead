package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopherheir.com/internal/custody/app"
)

var configDir = flag.String("c", "", "extra directory to search for custody-service.yaml")

func main() {
	flag.Parse()
	// 收到 SIGINT/SIGTERM 时取消 ctx，bootstrap 负责优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	if err := app.Run(ctx, paths...); err != nil && ctx.Err() == nil {
		log.Fatalf("custody-service: %v", err)
	}
}
