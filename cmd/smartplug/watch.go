package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/smartplug/internal/bridge/influx"
	"github.com/muurk/smartplug/internal/bridge/mqtt"
	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/discovery"
	"github.com/muurk/smartplug/internal/logging"
	"github.com/muurk/smartplug/internal/metrics"
	"github.com/muurk/smartplug/internal/server"
)

// Watch command flags
var (
	listenAddr string
	quiet      bool
)

func init() {
	watchCmd.Flags().StringVar(&listenAddr, "listen", "", "Serve /events, /metrics and /devices on this address (overrides config)")
	watchCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print events")

	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run discovery continuously and publish device events",
	Long: `Run discovery until interrupted, printing every device event.

Depending on configuration, events are also:
  - streamed to websocket clients on /events, with Prometheus metrics on
    /metrics (server section, or --listen)
  - published to an MQTT broker (mqtt section)
  - written to InfluxDB as energy and state points (influxdb section)`,
	Example: `  smartplug watch
  smartplug watch --listen :9102 --log-level info`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	log := logging.GetLogger().Named("watch")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	d, err := newDiscovery(newClient(collector))
	if err != nil {
		return err
	}

	var cancels []func()
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	// Registry updates come from discovery goroutines.
	var regMu sync.Mutex
	cancels = append(cancels, d.OnUpdate(func(u discovery.Update) {
		if !quiet {
			fmt.Printf("%s  %-22s %s\n", time.Now().Format("15:04:05"), u.Name, u.Snapshot.Summary())
		}
		if u.Name == discovery.EventNew {
			regMu.Lock()
			settings.RememberDevice(u.Snapshot)
			regMu.Unlock()
		}
	}))
	cancels = append(cancels, d.On(discovery.EventError, func(e discovery.Event) {
		log.Warn("Discovery error", zap.Error(e.Err))
	}))

	ctx := cmd.Context()

	if settings.MQTT.Enabled {
		b, err := mqtt.Connect(settings.MQTT, logging.GetLogger())
		if err != nil {
			return err
		}
		defer b.Close()
		cancels = append(cancels, b.Attach(d))
	}

	if settings.InfluxDB.Enabled {
		b, err := influx.Connect(ctx, settings.InfluxDB, logging.GetLogger())
		if err != nil {
			return err
		}
		defer b.Close()
		cancels = append(cancels, b.Attach(d))
	}

	g, gctx := errgroup.WithContext(ctx)

	listen := settings.Server.Listen
	if listenAddr != "" {
		listen = listenAddr
	}
	if settings.Server.Enabled || listenAddr != "" {
		srv := server.New(server.Config{
			Listen:      listen,
			EventsPath:  settings.Server.EventsPath,
			MetricsPath: settings.Server.MetricsPath,
			Gatherer:    reg,
			Devices:     func() []client.Snapshot { return snapshots(d) },
			Logger:      logging.GetLogger(),
		})
		cancels = append(cancels, srv.Attach(d))
		g.Go(func() error { return srv.Start(gctx) })
	}

	if err := d.Start(gctx); err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		d.Stop()
		return nil
	})

	err = g.Wait()

	regMu.Lock()
	if saveErr := settings.Save(); saveErr != nil {
		log.Warn("Failed to save device registry", zap.Error(saveErr))
	}
	regMu.Unlock()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
