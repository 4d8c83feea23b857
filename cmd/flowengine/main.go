// Command flowengine runs the flow engine as a standalone process: it loads
// configuration, opens the durable store, registers the illustrative
// KYC/Subscription/PaymentRetry/Withdrawal catalogs, restores any
// non-terminal flows from a prior run, and serves the live update channel
// and Prometheus metrics over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowcatalogs"
	"github.com/R3E-Network/flowengine/internal/flowengine/engine"
	"github.com/R3E-Network/flowengine/internal/flowengine/eventbus"
	"github.com/R3E-Network/flowengine/internal/flowengine/live"
	"github.com/R3E-Network/flowengine/internal/flowengine/store"
	"github.com/R3E-Network/flowengine/pkg/config"
	"github.com/R3E-Network/flowengine/pkg/logger"
	"github.com/R3E-Network/flowengine/pkg/metrics"
	"github.com/R3E-Network/flowengine/pkg/pgnotify"
	"github.com/R3E-Network/flowengine/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("flowengine").Fatalf("config: %v", err)
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	eng := engine.New(cfg, st, log)

	if cfg.StoreDSN != "" {
		pg, err := pgnotify.New(cfg.StoreDSN, log)
		if err != nil {
			log.Fatalf("pgnotify: %v", err)
		}
		relay, err := eventbus.NewRelay(eng.Bus(), pg, log)
		if err != nil {
			log.Fatalf("eventbus relay: %v", err)
		}
		eng.AttachRelay(relay)
		defer pg.Close()
	}

	if cfg.OTLPEndpoint != "" {
		provider, shutdownTracing, err := tracing.NewOTLPTracerProvider(context.Background(), tracing.OTLPConfig{
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.OTLPInsecure,
			ServiceName: "flowengine",
		})
		if err != nil {
			log.Fatalf("tracing: %v", err)
		}
		eng.SetTracer(tracing.ConfigureGlobalTracer(provider, "flowengine"))
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	register(log, eng, flowcatalogs.KYCFlowType, flowcatalogs.KYCSteps())
	register(log, eng, flowcatalogs.SubscriptionFlowType, flowcatalogs.SubscriptionSteps())
	register(log, eng, flowcatalogs.PaymentRetryFlowType, flowcatalogs.PaymentRetrySteps())
	register(log, eng, flowcatalogs.WithdrawalFlowType, flowcatalogs.WithdrawalSteps())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("engine start: %v", err)
	}
	defer eng.Stop()

	liveSrv := live.NewServer(eng.Bus(), engineLoader{eng}, log, cfg.LiveChannelBufferSize)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	router.PathPrefix("/").Handler(liveSrv.Router())

	srv := &http.Server{
		Addr:         cfg.LiveListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.LiveListenAddr).Info("flowengine: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("flowengine: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func register(log *logger.Logger, eng *engine.Engine, flowType string, defs []flow.StepDefinition) {
	if err := eng.RegisterFlowType(flowType, defs); err != nil {
		log.Fatalf("register %s: %v", flowType, err)
	}
}

func openStore(cfg *config.Config) (store.DurableStore, error) {
	if cfg.StoreDSN == "" {
		return store.NewMemoryStore(), nil
	}
	pg, err := store.NewPostgresStore(cfg.StoreDSN)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	return pg, nil
}

type engineLoader struct{ eng *engine.Engine }

func (l engineLoader) Load(ctx context.Context, flowID string) (*flow.Snapshot, error) {
	return l.eng.Get(ctx, flowID)
}
