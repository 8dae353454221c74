// Package metrics records coordination metrics through OpenTelemetry.
// With no MeterProvider configured the instruments are noops and every
// call is a cheap pass-through.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Agora-Build/voxgrid"
)

// meterName is the instrumentation scope name for voxgrid metrics.
const meterName = "github.com/Agora-Build/voxgrid"

// Claim outcomes recorded on the voxgrid.claims counter.
const (
	OutcomeWon   = "won"   // caller received a job
	OutcomeEmpty = "empty" // no eligible job in the region
	OutcomeLost  = "lost"  // targeted claim lost the race
)

// Job sources recorded on the voxgrid.jobs.enqueued counter.
const (
	SourceSchedule = "schedule"
	SourceManual   = "manual"
)

// Collector bundles the coordination instruments. The zero value is not
// usable; construct with New or NewWithMeter.
type Collector struct {
	claims   metric.Int64Counter
	enqueued metric.Int64Counter
	released metric.Int64Counter
	timedOut metric.Int64Counter
	offline  metric.Int64Counter
	fired    metric.Int64Counter
}

// New creates a Collector on the global MeterProvider.
func New() *Collector {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates a Collector on a specific meter. Tests inject an
// sdk/metric manual-reader provider here.
func NewWithMeter(meter metric.Meter) *Collector {
	// On error the OTel API returns noop instruments, so the collector
	// degrades gracefully.
	claims, _ := meter.Int64Counter(
		"voxgrid.claims",
		metric.WithDescription("Claim attempts by region and outcome"),
		metric.WithUnit("{claim}"),
	)
	enqueued, _ := meter.Int64Counter(
		"voxgrid.jobs.enqueued",
		metric.WithDescription("Jobs enqueued by region and source"),
		metric.WithUnit("{job}"),
	)
	released, _ := meter.Int64Counter(
		"voxgrid.jobs.released",
		metric.WithDescription("Stale jobs returned to the queue by the reaper"),
		metric.WithUnit("{job}"),
	)
	timedOut, _ := meter.Int64Counter(
		"voxgrid.jobs.timed_out",
		metric.WithDescription("Stale jobs failed after exhausting their retry budget"),
		metric.WithUnit("{job}"),
	)
	offline, _ := meter.Int64Counter(
		"voxgrid.agents.offline",
		metric.WithDescription("Agents marked offline by the reaper"),
		metric.WithUnit("{agent}"),
	)
	fired, _ := meter.Int64Counter(
		"voxgrid.schedules.fired",
		metric.WithDescription("Due schedules materialized into jobs"),
		metric.WithUnit("{fire}"),
	)

	return &Collector{
		claims:   claims,
		enqueued: enqueued,
		released: released,
		timedOut: timedOut,
		offline:  offline,
		fired:    fired,
	}
}

// Claim records one claim attempt.
func (c *Collector) Claim(ctx context.Context, region voxgrid.Region, outcome string) {
	c.claims.Add(ctx, 1, metric.WithAttributes(
		attribute.String("region", region.String()),
		attribute.String("outcome", outcome),
	))
}

// Enqueued records one job entering the queue.
func (c *Collector) Enqueued(ctx context.Context, region voxgrid.Region, source string) {
	c.enqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("region", region.String()),
		attribute.String("source", source),
	))
}

// Released records stale jobs requeued by the reaper.
func (c *Collector) Released(ctx context.Context, n int) {
	c.released.Add(ctx, int64(n))
}

// TimedOut records stale jobs failed terminally by the reaper.
func (c *Collector) TimedOut(ctx context.Context, n int) {
	c.timedOut.Add(ctx, int64(n))
}

// Offline records agents marked offline by the reaper.
func (c *Collector) Offline(ctx context.Context, n int) {
	c.offline.Add(ctx, int64(n))
}

// Fired records one schedule dispatch.
func (c *Collector) Fired(ctx context.Context, region voxgrid.Region) {
	c.fired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("region", region.String()),
	))
}
