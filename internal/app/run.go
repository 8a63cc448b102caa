package app

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/engine"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// Run executes the loaded workflow once and writes the result to the
// configured output.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.StatusPort > 0 {
		a.startStatusServer(a.config.StatusPort)
	}

	inputs, err := a.loadInputs()
	if err != nil {
		return fmt.Errorf("failed to load run inputs: %w", err)
	}

	a.logger.Info("🚀 Starting workflow run...", "nodes", len(a.graph.Order))
	result, runErr := a.runner.Start(ctx, a.graph, inputs, a.caps)
	if result != nil {
		a.logger.Info("🏁 Workflow run finished.", "run_id", result.RunID, "status", result.Status)
		if perr := a.printResult(result); perr != nil {
			return perr
		}
	}
	if runErr != nil {
		return fmt.Errorf("workflow run failed: %w", runErr)
	}
	return nil
}

// loadInputs reads the optional initial-inputs file.
func (a *App) loadInputs() (map[string]any, error) {
	if a.config.InputsPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(a.config.InputsPath)
	if err != nil {
		return nil, err
	}
	inputs := map[string]any{}
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", a.config.InputsPath, err)
	}
	return inputs, nil
}

type runReport struct {
	RunID   string            `json:"run_id"`
	Status  string            `json:"status"`
	Outputs map[string]any    `json:"outputs,omitempty"`
	Error   string            `json:"error,omitempty"`
	Usage   any               `json:"usage"`
	Nodes   map[string]string `json:"nodes"`
}

func (a *App) printResult(result *engine.RunResult) error {
	report := runReport{
		RunID:   result.RunID,
		Status:  string(result.Status),
		Outputs: map[string]any{},
		Usage:   result.Usage,
		Nodes:   map[string]string{},
	}
	for name, v := range result.Outputs {
		goVal, err := vars.ToGo(v)
		if err != nil {
			goVal = fmt.Sprintf("<unrepresentable: %v>", err)
		}
		report.Outputs[name] = goVal
	}
	if result.Err != nil {
		report.Error = result.Err.Error()
	}
	for id, status := range result.Statuses {
		report.Nodes[id] = status.String()
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run report: %w", err)
	}
	_, err = fmt.Fprintln(a.outW, string(data))
	return err
}
