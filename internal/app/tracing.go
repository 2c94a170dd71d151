package app

import (
	"context"

	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/utils"
)

// InitTracing installs the OTLP tracer provider when tracing is enabled and
// returns its shutdown. Without it, trace context is still propagated.
func InitTracing(ctx context.Context, cfg *config.Config, service string) (func(context.Context) error, error) {
	if !cfg.Tracing.Enabled {
		utils.SetPropagator()
		return func(context.Context) error { return nil }, nil
	}

	tp, err := utils.InitTracer(ctx, service, cfg.Env, cfg.Tracing.Endpoint)
	if err != nil {
		return nil, err
	}
	return tp.Shutdown, nil
}
