package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ayusman/depthcam/internal/config"
)

const (
	measurement    = "depth_stream"
	connectTimeout = 10 * time.Second
)

// ErrDisabled is returned by Connect when InfluxDB export is disabled.
var ErrDisabled = errors.New("influxdb disabled")

// Writer exports stream samples to InfluxDB with the batching write API.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
}

// Connect creates a client, checks the server is healthy and starts the
// non-blocking write API.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger *slog.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flush := cfg.FlushIntervalDuration()
	if flush <= 0 {
		flush = 10 * time.Second
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flush.Milliseconds())),
	)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, errors.New("influxdb server not healthy")
	}

	w := &Writer{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
	}
	go func() {
		for err := range w.writeAPI.Errors() {
			w.logger.Warn("influxdb write failed", "error", err)
		}
	}()
	return w, nil
}

// Write queues s for export.
func (w *Writer) Write(s Sample, at time.Time) {
	w.writeAPI.WritePoint(Point(s, at))
}

// Close flushes pending points and closes the client.
func (w *Writer) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}

// Point converts a sample to an InfluxDB point.
func Point(s Sample, at time.Time) *write.Point {
	return write.NewPoint(
		measurement,
		map[string]string{
			"sensor_id":  s.SensorID,
			"session_id": s.SessionID,
			"state":      s.State,
		},
		map[string]interface{}{
			"frames":          int64(s.Frames),
			"fps":             s.FPS,
			"mean_range_mm":   s.MeanRange,
			"valid_ratio":     s.ValidRatio,
			"mean_confidence": s.MeanConfidence,
			"dropped":         int64(s.Dropped),
			"skipped":         int64(s.Skipped),
			"panics":          int64(s.Panics),
		},
		at,
	)
}
