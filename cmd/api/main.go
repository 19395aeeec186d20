package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/eventfaces/internal/api"
	"github.com/your-org/eventfaces/internal/api/ws"
	"github.com/your-org/eventfaces/internal/config"
	"github.com/your-org/eventfaces/internal/faceindex"
	"github.com/your-org/eventfaces/internal/observability"
	"github.com/your-org/eventfaces/internal/queue"
	"github.com/your-org/eventfaces/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting eventfaces API", "port", cfg.Server.Port, "vision", cfg.Vision.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := openBackends(ctx, cfg)
	if err != nil {
		slog.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	// NATS is optional: without it changes go straight to the WebSocket hub
	// and extraction must be local.
	var producer *queue.Producer
	if cfg.NATS.Enabled {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		stores.checks["nats"] = producer
		go sampleStreamDepth(ctx, producer)
	}

	var extractor faceindex.Extractor
	switch cfg.Vision.Mode {
	case config.VisionLocal:
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
		extractor = pipeline
	case config.VisionRemote:
		extractor = queue.NewRemoteExtractor(producer.Conn(), cfg.NATS.ExtractSubject, cfg.NATS.ExtractTimeout)
		slog.Info("using remote extraction", "subject", cfg.NATS.ExtractSubject)
	default:
		slog.Warn("vision disabled: uploads are stored without faces and searches fail")
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	var notifier faceindex.Notifier = hub
	if producer != nil {
		notifier = producer
		if err := consumeChanges(ctx, cfg.NATS.URL, hub); err != nil {
			slog.Warn("start index change consumer", "error", err)
		}
	}

	registry := faceindex.NewRegistry(faceindex.Deps{
		Images:      stores.images,
		Embeddings:  stores.embeddings,
		Extractor:   extractor,
		Notifier:    notifier,
		Concurrency: cfg.Vision.WorkerCount,
	})

	if cfg.Storage.RestoreOnStart {
		n, err := registry.Restore(ctx)
		if err != nil {
			slog.Error("restore index", "error", err)
			os.Exit(1)
		}
		slog.Info("index restored", "events", n)
	}

	matcher := faceindex.NewMatcher(cfg.Matching.Tolerance, faceindex.WithLimit(cfg.Matching.MaxResults))
	engine := faceindex.NewEngine(registry, matcher, extractor)

	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		Engine:         engine,
		Hub:            hub,
		Checks:         stores.checks,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

// consumeChanges forwards index changes from every API replica to this
// process's WebSocket clients.
func consumeChanges(ctx context.Context, natsURL string, hub *ws.Hub) error {
	consumer, err := queue.NewConsumer(natsURL)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		consumer.Close()
	}()

	host, _ := os.Hostname()
	if host == "" {
		host = "local"
	}
	return consumer.ConsumeChanges(ctx, "api-"+consumerSafe(host), hub.PublishChange)
}

func sampleStreamDepth(ctx context.Context, producer *queue.Producer) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := producer.StreamDepth(ctx)
			if err != nil {
				slog.Debug("sample index stream depth", "error", err)
				continue
			}
			observability.IndexStreamMessages.Set(float64(n))
		}
	}
}

// consumerSafe strips characters JetStream does not allow in consumer names.
func consumerSafe(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
