package coord

import (
	"log/slog"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/metrics"
	"github.com/Agora-Build/voxgrid/result"
	"github.com/Agora-Build/voxgrid/store"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock sets the clock used for timestamps and due computation.
func WithClock(clk voxgrid.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithSink sets the result sink receiving terminal job records.
func WithSink(s result.Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithCollector sets the metrics collector.
func WithCollector(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.collector = m }
}

// WithConfig sets the coordination tunables.
func WithConfig(cfg voxgrid.Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// Coordinator is the service layer over the store: it owns credential
// checks, cross-entity transitions (a claim flips the agent occupied,
// a completion flips it back), and result delivery. Everything the HTTP
// surface and the background loops do goes through here.
type Coordinator struct {
	store     store.Store
	sink      result.Sink
	clock     voxgrid.Clock
	logger    *slog.Logger
	collector *metrics.Collector
	cfg       voxgrid.Config
}

// New creates a Coordinator over the given store.
func New(st store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     st,
		sink:      result.NopSink{},
		clock:     voxgrid.SystemClock{},
		logger:    slog.Default(),
		collector: metrics.New(),
		cfg:       voxgrid.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
