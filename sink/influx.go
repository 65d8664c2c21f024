package sink

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Influx writes points to an InfluxDB v2 bucket using the blocking write
// API, matching the original tool's synchronous influxdb_client usage.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInflux creates a client against url, authenticated with token, and
// bound to org/bucket.
func NewInflux(url, token, org, bucket string) *Influx {
	client := influxdb2.NewClient(url, token)
	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// Write implements Sink.
func (s *Influx) Write(ctx context.Context, points []Point) error {
	for _, p := range points {
		fields := make(map[string]interface{}, len(p.Fields))
		for k, v := range p.Fields {
			fields[k] = v
		}
		ipoint := influxdb2.NewPoint(p.Measurement, nil, fields, p.Timestamp)
		if err := s.writeAPI.WritePoint(ctx, ipoint); err != nil {
			return fmt.Errorf("sink: influx write failed: %w", err)
		}
	}
	return nil
}

// Close releases the underlying HTTP client resources.
func (s *Influx) Close() {
	s.client.Close()
}
