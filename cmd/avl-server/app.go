package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"opentransit-avl/internal/config"
	"opentransit-avl/internal/feed"
	"opentransit-avl/internal/ingest"
	"opentransit-avl/internal/livefeed"
	"opentransit-avl/internal/logging"
	"opentransit-avl/internal/mqttpub"
	"opentransit-avl/internal/observability"
	"opentransit-avl/internal/replay"
	"opentransit-avl/internal/storage"
	"opentransit-avl/internal/udp"
	"opentransit-avl/internal/web"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// readyAddrs reports bound addresses; tests use it with port 0.
type readyAddrs struct {
	UDP  func(net.Addr)
	HTTP func(net.Addr)
}

// run wires every component from cfg and blocks until ctx is cancelled or a
// listener fails. In-flight writes are drained before the store closes.
func run(ctx context.Context, cfg config.Config, stdout io.Writer, ready *readyAddrs) error {
	logs := web.NewLogBuffer(cfg.Log.BufferLines)
	log := logging.NewWithWriter(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}, io.MultiWriter(stdout, logs))

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enable,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Writer:      stdout,
	}, log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	store, err := storage.OpenSQL(ctx, storage.SQLConfig{
		Driver:       cfg.Storage.Driver,
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	log.Info(ctx, "store ready", logging.String("driver", cfg.Storage.Driver))

	var metrics *observability.Collector
	if cfg.Metrics.Enable {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if metrics, err = observability.NewCollector(reg); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	hub := livefeed.NewHub(log)
	defer hub.Close()
	notifiers := []ingest.Notifier{hub}

	if cfg.MQTT.Enable {
		pub, err := mqttpub.Connect(mqttpub.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Retained:    cfg.MQTT.Retained,
			Timeout:     cfg.MQTT.Timeout,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		}, log)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer pub.Close()
		notifiers = append(notifiers, pub)
		log.Info(ctx, "mqtt mirror enabled", logging.String("broker", cfg.MQTT.Broker))
	}

	dispatcher := ingest.NewDispatcher(ingest.DispatcherConfig{
		Store:        store,
		WriteTimeout: cfg.Storage.WriteTimeout,
		Log:          log,
		Metrics:      metrics,
		Notifiers:    notifiers,
	})

	pcfg := ingest.Config{Log: log, Metrics: metrics}
	if cfg.UDP.Record.Enable {
		rec, err := replay.CreateWriter(cfg.UDP.Record.Path)
		if err != nil {
			return fmt.Errorf("create capture: %w", err)
		}
		defer rec.Close()
		pcfg.Recorder = rec
		log.Info(ctx, "recording datagrams", logging.String("path", cfg.UDP.Record.Path))
	}
	pipeline := ingest.NewPipeline(dispatcher, pcfg)

	generator := feed.NewGenerator(store, feed.Config{
		Window:       cfg.Feed.Window,
		Recency:      cfg.Feed.Recency,
		QueryTimeout: cfg.Feed.QueryTimeout,
		Log:          log,
		Metrics:      metrics,
	})

	listener, err := udp.Listen(ctx, udp.ListenerConfig{
		Addr:       cfg.UDP.Listen,
		ReadBuffer: cfg.UDP.ReadBuffer,
		Log:        log,
	})
	if err != nil {
		return err
	}
	if ready != nil && ready.UDP != nil {
		ready.UDP(listener.Addr())
	}

	status := web.NewStatus()
	status.SetStatic("udp_listen", listener.Addr().String())
	status.SetStatic("http_listen", cfg.HTTP.Listen)
	status.SetStatic("storage_driver", cfg.Storage.Driver)
	status.SetStatic("write_ordering", string(dispatcher.Ordering()))
	status.AddSection("pipeline", func() any { return pipeline.Stats() })
	status.AddSection("writes", func() any { return dispatcher.Stats() })
	status.AddSection("feed", func() any { return feedStatus(generator.Cached()) })
	status.AddSection("websocket", func() any {
		sent, dropped := hub.Stats()
		return map[string]any{"clients": hub.Clients(), "sent": sent, "dropped": dropped}
	})

	opts := web.Options{
		Feed:   generator,
		Store:  store,
		Status: status,
		Logs:   logs,
		Live:   hub,
		Log:    log,
	}
	if metrics != nil {
		opts.Metrics = metrics.Handler()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	go func() {
		errCh <- listener.Run(runCtx, pipeline)
	}()
	go func() {
		errCh <- web.Serve(runCtx, web.ServeConfig{
			Addr:            cfg.HTTP.Listen,
			ReadTimeout:     cfg.HTTP.ReadTimeout,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
			Ready: func(a net.Addr) {
				log.Info(ctx, "http listening", logging.String("addr", a.String()))
				if ready != nil && ready.HTTP != nil {
					ready.HTTP(a)
				}
			},
		}, web.Handler(opts))
	}()

	log.Info(ctx, "avl-server started",
		logging.String("udp", listener.Addr().String()),
		logging.String("ordering", string(dispatcher.Ordering())),
	)

	var runErr error
	pending := 2
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		pending--
		if runErr != nil {
			log.Error(ctx, "listener failed", logging.Err(runErr))
		}
	}
	cancel()
	for ; pending > 0; pending-- {
		if err := <-errCh; err != nil && runErr == nil {
			runErr = err
		}
	}

	log.Info(context.Background(), "draining writes", logging.Any("in_flight", dispatcher.InFlight()))
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Storage.DrainTimeout)
	defer drainCancel()
	if err := dispatcher.Drain(drainCtx); err != nil {
		log.Warn(context.Background(), "drain incomplete; pending writes abandoned",
			logging.Any("in_flight", dispatcher.InFlight()),
			logging.Err(err),
		)
	}
	log.Info(context.Background(), "avl-server stopped")

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func feedStatus(snap *feed.Snapshot) map[string]any {
	if snap == nil {
		return map[string]any{"generated": false}
	}
	return map[string]any{
		"generated":    true,
		"generated_at": snap.GeneratedAt.UTC().Format(time.RFC3339),
		"vehicles":     len(snap.Vehicles),
		"bytes":        len(snap.Encoded),
	}
}
