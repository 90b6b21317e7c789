package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"hookgate/internal/broker"
	"hookgate/internal/config"
	"hookgate/internal/logger"
)

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Base holds what the service process shares: configuration, the logger,
// the optional broker producer and the resources to release on shutdown.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer

	mu      sync.Mutex
	closers []closer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// OnShutdown registers fn to run during Shutdown. Closers run in reverse
// registration order, so a resource is released after everything built on
// top of it.
func (b *Base) OnShutdown(name string, fn func(ctx context.Context) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, closer{name: name, fn: fn})
}

// InitBroker creates the producer. It leaves Producer nil when no broker is
// configured.
func (b *Base) InitBroker() error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	if producer == nil {
		return nil
	}

	b.Producer = producer
	b.OnShutdown("broker producer", func(context.Context) error {
		return producer.Close()
	})
	return nil
}

// Shutdown runs every registered closer once. Later calls are no-ops.
func (b *Base) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	if len(closers) == 0 {
		return nil
	}

	b.Logger.InfowCtx(ctx, "Shutting down application", "resources", len(closers))

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			b.Logger.ErrorwCtx(ctx, "Failed to release resource", "resource", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown errors: %w", err)
	}
	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
