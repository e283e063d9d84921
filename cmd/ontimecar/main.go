package main

import (
	"context"
	"os/signal"
	"syscall"

	"ontimecar-scraper/cmd/ontimecar/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	commands.ExecuteContext(ctx)
}
