package main

import (
	"log/slog"
	"os"

	"github.com/nightfallai/nightfall-go-sdk/cmd/nightfall/commands"
)

func main() {
	// Logs go to stderr so command output on stdout stays machine readable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: commands.LogLevel,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
