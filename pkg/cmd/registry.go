package cmd

import (
	"log/slog"

	"github.com/michael-menard/storyflow/pkg/registry"
)

// NewRegistry builds a node registry and loads any node plugins found under
// pluginsPath. An empty path skips plugin loading.
func NewRegistry(logger *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	if pluginsPath == "" {
		return reg, nil
	}

	plugins, err := reg.LoadNodePlugins(pluginsPath)
	if err != nil {
		return nil, err
	}

	for _, plugin := range plugins {
		reg.RegisterNode(plugin)
	}

	return reg, nil
}
