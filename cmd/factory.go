// File: cmd/factory.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hlapp/phylosoc2007jestill/api/schemas"
	"github.com/hlapp/phylosoc2007jestill/internal/config"
	"github.com/hlapp/phylosoc2007jestill/internal/graphstore"
	"github.com/hlapp/phylosoc2007jestill/internal/index"
	"github.com/hlapp/phylosoc2007jestill/internal/observability"
)

// Components holds the initialized services required for an optimizer run.
// It centralizes the lifecycle of run-scoped dependencies so every exit
// path, error paths included, releases the database handle.
type Components struct {
	Store      schemas.GraphStore
	Maintainer *index.TreeIndexMaintainer
	dbPool     *pgxpool.Pool
}

// Shutdown releases all resources held by the components.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	if c.Store != nil {
		c.Store.Close()
		logger.Debug("Graph store closed.")
	} else if c.dbPool != nil {
		// The pool was created but the store never wrapped it.
		c.dbPool.Close()
		logger.Debug("Database connection pool closed.")
	}
}

// ComponentFactory creates the component set for one run. The abstraction
// keeps the optimize command's logic testable with a fake factory.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, opts ...index.Option) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles dependency injection and initialization of run components.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, opts ...index.Option) (*Components, error) {
	logger := observability.GetLogger()
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	if cfg.Database.URL == "" {
		initializationErr = fmt.Errorf("database URL is not configured (hint: set PHYOPT_DATABASE_URL)")
		return nil, initializationErr
	}

	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
		return nil, initializationErr
	}
	components.dbPool = dbPool

	store, err := graphstore.NewPostgresStore(ctx, dbPool, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize graph store: %w", err)
		return nil, initializationErr
	}
	components.Store = store
	logger.Debug("Graph store initialized.")

	components.Maintainer = index.NewTreeIndexMaintainer(store, logger, opts...)
	logger.Debug("Tree index maintainer initialized.")

	return components, nil
}
