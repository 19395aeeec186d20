package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/eventfaces/internal/config"
	"github.com/your-org/eventfaces/internal/observability"
	"github.com/your-org/eventfaces/internal/queue"
	"github.com/your-org/eventfaces/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":8082", "listen address for /metrics and /healthz")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting eventfaces extraction worker",
		"sessions", cfg.Vision.Sessions,
		"cpu_cores", runtime.NumCPU(),
		"subject", cfg.NATS.ExtractSubject,
	)

	if !cfg.NATS.Enabled {
		slog.Error("the extraction worker needs nats.enabled or EF_NATS_URL")
		os.Exit(1)
	}

	if err := vision.InitRuntime(cfg.Vision.LibPath); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer vision.DestroyRuntime()

	pipeline, err := vision.NewPipeline(vision.Options{
		ModelsDir:          cfg.Vision.ModelsDir,
		DetectionThreshold: float32(cfg.Vision.DetectionThreshold),
		Sessions:           cfg.Vision.Sessions,
		MinFaceSize:        float32(cfg.Vision.MinFaceSize),
	})
	if err != nil {
		slog.Error("init vision pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One subscription per session keeps every loaded model busy.
	if err := queue.ServeExtraction(ctx, producer.Conn(), cfg.NATS.ExtractSubject, pipeline, cfg.Vision.Sessions); err != nil {
		slog.Error("serve extraction", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := producer.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"nats not connected"}`))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	// Drain lets in-flight requests finish.
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
