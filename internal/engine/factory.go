package engine

import (
	"daytrader/internal/store"
)

// New builds an Engine from the loaded configuration.
func New(cfg *store.Config, deps Deps) *Engine {
	return newEngine(OptionsFromConfig(cfg), deps)
}

// NewWithOptions builds an Engine from explicit options, mainly for tests.
func NewWithOptions(opts Options, deps Deps) *Engine {
	return newEngine(opts, deps)
}
