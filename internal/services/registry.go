package services

import (
	"github.com/fyrsmithlabs/remedyd/internal/batch"
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/handlers"
	"github.com/fyrsmithlabs/remedyd/internal/jobs"
	"github.com/fyrsmithlabs/remedyd/internal/pipeline"
	"github.com/fyrsmithlabs/remedyd/internal/store"
)

// Registry provides access to all remedyd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Store() *store.Store
	Classifier() *classify.Classifier
	Handlers() *handlers.Registry
	Pipeline() *pipeline.Pipeline
	Batch() *batch.Aggregator
	Sweeper() *jobs.Sweeper
}

// Options configures the registry with service instances.
type Options struct {
	Store      *store.Store
	Classifier *classify.Classifier
	Handlers   *handlers.Registry
	Pipeline   *pipeline.Pipeline
	Batch      *batch.Aggregator
	Sweeper    *jobs.Sweeper
}

// registry is the concrete implementation of Registry.
type registry struct {
	store      *store.Store
	classifier *classify.Classifier
	handlers   *handlers.Registry
	pipeline   *pipeline.Pipeline
	batch      *batch.Aggregator
	sweeper    *jobs.Sweeper
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		store:      opts.Store,
		classifier: opts.Classifier,
		handlers:   opts.Handlers,
		pipeline:   opts.Pipeline,
		batch:      opts.Batch,
		sweeper:    opts.Sweeper,
	}
}

func (r *registry) Store() *store.Store              { return r.store }
func (r *registry) Classifier() *classify.Classifier { return r.classifier }
func (r *registry) Handlers() *handlers.Registry     { return r.handlers }
func (r *registry) Pipeline() *pipeline.Pipeline     { return r.pipeline }
func (r *registry) Batch() *batch.Aggregator         { return r.batch }
func (r *registry) Sweeper() *jobs.Sweeper           { return r.sweeper }
