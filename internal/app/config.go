package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	GraphPath  string // workflow document (json)
	InputsPath string // initial run inputs (json), optional

	LogFormat      string
	LogLevel       string
	StatusPort     int
	MaxParallelism int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.GraphPath == "" {
		return nil, errors.New("GraphPath is a required configuration field and cannot be empty")
	}

	return &cfg, nil
}
