package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/config/fileloader"
	"github.com/quarrydb/quarry/internal/node"
	"github.com/quarrydb/quarry/internal/scan"
	"github.com/quarrydb/quarry/pkg/common"
	"github.com/quarrydb/quarry/pkg/common/logger"
	"github.com/quarrydb/quarry/pkg/common/otel"
)

const serviceType = "worker"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("WORKER-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prob := 0.05
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		prob, err = strconv.ParseFloat(v, 64)
		if err != nil {
			log.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}

	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      os.Getenv("OTEL_SERVICE_NAME"),
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(serviceType)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	cfg := config.Default()
	if path := os.Getenv("QUARRY_CONFIG"); path != "" {
		cfg, err = fileloader.NewFileLoader(path).Load(ctx)
		if err != nil {
			log.Error(ctx, "failed to load config", "error", err, "path", path)
			os.Exit(1)
		}
	}

	env, err := node.NewEnv(cfg)
	if err != nil {
		log.Error(ctx, "failed to build node environment", "error", err)
		os.Exit(1)
	}

	metrics, err := scan.NewMetrics(otelapi.GetMeterProvider())
	if err != nil {
		log.Error(ctx, "failed to create scan metrics", "error", err)
		os.Exit(1)
	}

	registry, err := scan.InitGlobal(env, log, metrics, tracer)
	if err != nil {
		log.Error(ctx, "failed to initialize scan scheduler registry", "error", err)
		os.Exit(1)
	}

	ready.Store(true)
	log.Info(ctx, "Worker node started",
		"cores", env.Cores,
		"remote_scan_threads", registry.RemoteThreadPoolMaxThreadNum(),
	)

	<-sigCh
	log.Info(ctx, "Shutting down worker node")

	scan.StopGlobal()
	log.Info(ctx, "Worker node shutdown complete")
}
