package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/atagone-core/internal/atagone"
	"github.com/nerrad567/atagone-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// heatingField is added alongside the raw report fields.
	heatingField = "heating"
)

// Client writes report points to one bucket.
//
// All methods are safe for concurrent use.
type Client struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string

	connected bool
	mu        sync.RWMutex
}

// Connect pings the server and prepares a blocking write API for the
// configured org and bucket.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "atagone_report"
	}

	return &Client{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		connected:   true,
	}, nil
}

// Close releases the underlying HTTP resources. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	c.client.Close()
	return nil
}

// IsConnected reports whether Close has not been called yet.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// WriteReport writes one point for the report. Reports without numeric
// fields are skipped.
func (c *Client) WriteReport(ctx context.Context, deviceID string, report *atagone.Report, ts time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := ReportPoint(c.measurement, deviceID, report, ts)
	if point == nil {
		return nil
	}

	if err := c.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// ReportPoint converts a report into a point, or nil if it has no numeric
// fields.
func ReportPoint(measurement, deviceID string, report *atagone.Report, ts time.Time) *write.Point {
	numeric := report.Numeric()
	if len(numeric) == 0 {
		return nil
	}

	fields := make(map[string]any, len(numeric)+1)
	for k, v := range numeric {
		fields[k] = v
	}
	fields[heatingField] = report.Heating()

	return write.NewPoint(measurement, map[string]string{"device_id": deviceID}, fields, ts)
}

// ReportUpdated writes the report as a point stamped with the device's
// report_time, falling back to now. It implements bridge.ReportSink.
func (c *Client) ReportUpdated(ctx context.Context, deviceID string, reply *atagone.RetrieveReply) error {
	if reply == nil || reply.Report == nil {
		return nil
	}
	ts := time.Now()
	if secs, ok := reply.Report.ReportTime(); ok && secs > 0 {
		ts = time.Unix(secs, 0)
	}
	return c.WriteReport(ctx, deviceID, reply.Report, ts)
}
