package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nkiryanov/gozon/internal/app"
	"github.com/nkiryanov/gozon/internal/config"
)

func main() {
	// Initialize context that cancelled on SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Getenv, os.Getwd, os.Args[1:])
	stop()

	if err != nil {
		slog.Error("Orders service stopped with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string) error {
	c, err := config.Load(config.ServiceOrders, getenv, getwd, args)
	if err != nil {
		return err
	}

	a, err := app.NewOrders(ctx, c)
	if err != nil {
		return err
	}

	return a.Run(ctx)
}
