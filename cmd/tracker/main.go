package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/airtimehq/airtime/app/tracker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := tracker.Initialize(ctx)

	app.Start(ctx)
}
