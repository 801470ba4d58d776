package main

import (
	"io"
	"log/slog"

	"chimeradb/pkg/config"
)

// initConfig loads the config file, falling back to defaults when it is missing.
func initConfig(path string) (config.Config, error) {
	return config.Load(path)
}

// initLogger installs the global slog.Logger (JSON or text) writing to w.
func initLogger(w io.Writer, cfg config.LoggerConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	hopts := &slog.HandlerOptions{AddSource: true, Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	logger.Debug("logger initialized", "level", level.String(), "json", cfg.JSON)
	return logger, nil
}
