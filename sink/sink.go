// Package sink defines the time-series write contract a Poll Orchestrator
// forwards decoded samples to. The contract itself is opaque per spec §6;
// this package also provides a no-op implementation and, in influx.go, a
// concrete InfluxDB-backed one.
package sink

import (
	"context"
	"time"
)

// Point is one time-series sample: a measurement, a timestamp, and a set
// of named numeric fields.
type Point struct {
	Measurement string
	Timestamp   time.Time
	Fields      map[string]float64
}

// Sink writes a batch of points. Implementations should treat write
// failures as the caller's problem to log and drop — there is no retry
// queue in the core.
type Sink interface {
	Write(ctx context.Context, points []Point) error
}

// Noop discards every batch it is given. It backs configurations where no
// sink URL was supplied.
type Noop struct{}

// Write implements Sink.
func (Noop) Write(context.Context, []Point) error { return nil }
