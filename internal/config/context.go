package config

import (
	"context"
	"errors"
)

type contextKey struct{}

// IntoContext attaches the loaded configuration to a context.
func IntoContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the configuration attached by IntoContext.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(contextKey{}).(*Config)
	if !ok {
		return nil, errors.New("no configuration in context")
	}
	return cfg, nil
}
