package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	filetobmon "github.com/alanmitchell/file-to-bmon"
)

func main() {
	flow, err := filetobmon.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flow.Run(ctx, 10*time.Minute); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime exited: %v", err)
	}
}
