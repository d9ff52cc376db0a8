package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/config"
	"github.com/muurk/smartplug/internal/discovery"
	"github.com/muurk/smartplug/internal/logging"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 * time.Second

	measurementEmeter = "emeter"
	measurementState  = "device_state"
)

// pointWriter is the part of api.WriteAPI the bridge uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Bridge writes device readings to InfluxDB.
type Bridge struct {
	client influxdb2.Client // nil when built around a bare writer
	writer pointWriter
	log    *zap.Logger
	now    func() time.Time
	relay  *discovery.Relay
}

// Connect creates the client, checks the server answers a ping and starts
// the batching write API.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, log *zap.Logger) (*Bridge, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	c := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval.Milliseconds())),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	healthy, err := c.Ping(pingCtx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		c.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := c.WriteAPI(cfg.Org, cfg.Bucket)
	b := &Bridge{
		client: c,
		writer: writeAPI,
		log:    logging.Named(log, "influxdb"),
		now:    time.Now,
	}
	b.relay = discovery.NewRelay(0, b.Handle, b.log)
	go b.logWriteErrors(writeAPI.Errors())

	b.log.Info("Connected to InfluxDB", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))
	return b, nil
}

func newBridge(w pointWriter, log *zap.Logger) *Bridge {
	b := &Bridge{
		writer: w,
		log:    logging.Named(log, "influxdb"),
		now:    time.Now,
	}
	b.relay = discovery.NewRelay(0, b.Handle, b.log)
	return b
}

func (b *Bridge) logWriteErrors(errs <-chan error) {
	for err := range errs {
		b.log.Warn("InfluxDB write failed", zap.Error(err))
	}
}

func tags(s client.Snapshot) map[string]string {
	t := map[string]string{"device_id": s.ID}
	if s.Alias != "" {
		t["alias"] = s.Alias
	}
	if s.Model != "" {
		t["model"] = s.Model
	}
	if s.Kind != "" {
		t["type"] = string(s.Kind)
	}
	return t
}

// WriteEmeter records the snapshot's energy reading. Snapshots without a
// reading are ignored.
func (b *Bridge) WriteEmeter(s client.Snapshot) {
	if s.Emeter == nil {
		return
	}
	b.writeReading(tags(s), *s.Emeter)
}

// WriteRealtime records a reading for a device known only by id and alias.
func (b *Bridge) WriteRealtime(deviceID, alias string, reading client.EmeterReading) {
	b.writeReading(tags(client.Snapshot{ID: deviceID, Alias: alias}), reading)
}

func (b *Bridge) writeReading(t map[string]string, r client.EmeterReading) {
	fields := map[string]interface{}{"power_w": r.PowerW}
	if r.VoltageV > 0 {
		fields["voltage_v"] = r.VoltageV
	}
	if r.CurrentA > 0 {
		fields["current_a"] = r.CurrentA
	}
	if r.TotalKWh > 0 {
		fields["total_kwh"] = r.TotalKWh
	}
	b.writer.WritePoint(write.NewPoint(measurementEmeter, t, fields, b.now()))
}

// WriteState records the snapshot's availability and relay state.
func (b *Bridge) WriteState(s client.Snapshot) {
	fields := map[string]interface{}{
		"online":   s.Status == client.StatusOnline,
		"power_on": s.PowerOn,
		"in_use":   s.InUse,
	}
	b.writer.WritePoint(write.NewPoint(measurementState, tags(s), fields, b.now()))
}

// Handle writes the points for a single discovery update.
func (b *Bridge) Handle(u discovery.Update) {
	switch u.Name {
	case client.EventEmeterUpdate:
		b.WriteEmeter(u.Snapshot)
	case discovery.EventNew:
		b.WriteState(u.Snapshot)
		b.WriteEmeter(u.Snapshot)
	case discovery.EventOffline,
		client.EventPowerOn, client.EventPowerOff,
		client.EventInUse, client.EventNotInUse:
		b.WriteState(u.Snapshot)
	}
}

// Attach records updates from d until the returned cancel is called.
// Points are written on the bridge's own goroutine.
func (b *Bridge) Attach(d *discovery.Discovery) (cancel func()) {
	return d.OnUpdate(b.relay.Push)
}

// Flush blocks until buffered points are written.
func (b *Bridge) Flush() {
	b.writer.Flush()
}

// Close stops recording updates, flushes pending writes and closes the
// client.
func (b *Bridge) Close() error {
	b.relay.Close()
	b.writer.Flush()
	if b.client != nil {
		b.client.Close()
	}
	return nil
}
