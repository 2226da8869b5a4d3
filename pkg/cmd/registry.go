package cmd

import (
	"log/slog"

	"github.com/cadenzahq/cadenza/pkg/registry"
)

// NewRegistry builds a trigger registry with the built-in trigger
// types registered.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	r := registry.NewRegistry(logger)
	registry.RegisterBuiltins(r)

	return r
}
