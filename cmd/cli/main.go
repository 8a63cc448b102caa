package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/specialistvlad/flowgrid/internal/app"
	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/capability/openai"
	"github.com/specialistvlad/flowgrid/internal/cli"
)

// main is the entrypoint for the flowgrid application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// A missing .env file is not an error; the environment may already be set.
	_ = godotenv.Load()

	// The real main function handles errors and exit codes.
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(outW io.Writer, args []string) (err error) {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// The app panics on critical startup errors, so we recover here to
	// provide a clean exit message to the user.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("a critical startup error occurred: %v", r)
		}
	}()

	flowgridApp := app.NewApp(outW, appConfig, capabilitiesFromEnv())

	return flowgridApp.Run(context.Background())
}

// capabilitiesFromEnv assembles the run capabilities available to this
// process. The model capability is wired only when an API key is present;
// workflows that never reach an LLM node run fine without one.
func capabilitiesFromEnv() capability.Set {
	var caps capability.Set
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		invoker, err := openai.New(key, os.Getenv("OPENAI_BASE_URL"))
		if err != nil {
			slog.Warn("Model capability unavailable.", "error", err)
		} else {
			caps.Model = invoker
		}
	}
	return caps
}
