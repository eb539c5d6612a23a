package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"obsidian/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Start(ctx, stop); err != nil {
		slog.Error("Failed to start application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	<-ctx.Done()

	// The signal context is already cancelled; shutdown gets a fresh one.
	if err := application.Stop(context.Background()); err != nil {
		slog.Error("Shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
