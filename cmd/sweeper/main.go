package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/airtimehq/airtime/app/sweeper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := sweeper.Initialize(ctx)

	app.Start(ctx)
}
