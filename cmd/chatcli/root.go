package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sandchat/internal/config"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Run sandchat turns and parse transcripts from the terminal",
	Long: `chatcli drives the sandchat turn controller without the HTTP server.
It runs a single assistant turn against an in-memory conversation store, or
parses a saved assistant transcript and prints what the chat UI would show.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(parseCmd)
}

// loadConfig reads .env and the environment like the server does
func loadConfig() *config.Config {
	_ = godotenv.Load()
	return config.Load()
}

func newLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
