package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/document"
	"github.com/specialistvlad/flowgrid/internal/engine"
	"github.com/specialistvlad/flowgrid/internal/graph"
	"github.com/specialistvlad/flowgrid/internal/nodes"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *nodes.Registry
	graph    *graph.Graph
	caps     capability.Set
	runner   *engine.Runner
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with the workflow document loaded, validated and
// compiled. Loading errors are fatal startup errors and panic; the CLI
// entrypoint recovers them into a clean exit.
func NewApp(outW io.Writer, appConfig *Config, caps capability.Set) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	doc, err := document.Load(appConfig.GraphPath)
	if err != nil {
		panic(fmt.Errorf("failed to load workflow document: %w", err))
	}
	logger.Debug("Workflow document loaded.", "nodes", len(doc.Nodes), "edges", len(doc.Edges))

	reg := nodes.DefaultRegistry()
	g, err := graph.Build(doc, reg)
	if err != nil {
		panic(fmt.Errorf("invalid workflow document: %w", err))
	}
	logger.Debug("Workflow graph compiled and validated.", "node_count", len(g.Order))

	eng := engine.New(engine.Options{MaxParallelism: appConfig.MaxParallelism})

	return &App{
		outW:     outW,
		logger:   logger,
		config:   appConfig,
		registry: reg,
		graph:    g,
		caps:     caps,
		runner:   engine.NewRunner(eng),
	}
}

// Graph returns the compiled workflow graph. This is primarily for testing.
func (a *App) Graph() *graph.Graph {
	return a.graph
}
