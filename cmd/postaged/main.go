package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"postage.org/internal/auth"
	"postage.org/internal/config"
	"postage.org/internal/engine"
	"postage.org/internal/events"
	"postage.org/internal/httpapi"
	"postage.org/internal/idempotency"
	"postage.org/internal/obs"
	"postage.org/internal/registry"
	pgstore "postage.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("POSTAGE_CONFIG"), "path to YAML config")
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if cfg.Service.Version == "" || cfg.Service.Version == "dev" {
		cfg.Service.Version = version
	}
	obs.SetLevel(cfg.Service.LogLevel)
	obs.Init()
	auth.SetSecret(cfg.Auth.Secret)

	ids, err := cfg.Identities()
	if err != nil {
		log.WithError(err).Fatal("identities")
	}
	policy, err := cfg.SplitPolicy()
	if err != nil {
		log.WithError(err).Fatal("split policy")
	}
	obs.InitBuildInfo(cfg.Service.Version, commit, policy.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]httpapi.Pinger{}
	sinks := []events.NamedSink{}

	var store *pgstore.Store
	if cfg.Postgres.DSN != "" {
		store, err = pgstore.Open(cfg.Postgres.DSN)
		if err != nil {
			log.WithError(err).Fatal("open postgres")
		}
		defer store.Close()
		checks["postgres"] = store
		sinks = append(sinks, events.NamedSink{Name: "archive", Sink: store.Archive()})
	}

	var reg registry.Reader
	if cfg.Postgres.Registry {
		if store == nil {
			log.Fatal("postgres.registry requires postgres.dsn")
		}
		reg = store.Registry()
	} else {
		mem, err := cfg.Fixtures.Registry()
		if err != nil {
			log.WithError(err).Fatal("fixtures registry")
		}
		reg = mem
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.WithError(err).Fatal("kafka publisher")
		}
		defer pub.Close()
		sinks = append(sinks, events.NamedSink{Name: "kafka", Sink: pub})
	}

	stream := events.NewStream()
	sinks = append(sinks, events.NamedSink{Name: "stream", Sink: stream})
	dispatcher := events.NewDispatcher(log, 1024, obs.ObserveDroppedEvent, sinks...)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	go dispatcher.Run(dispatchCtx)

	eng, err := engine.New(engine.Config{
		Self:         ids.Self,
		Orchestrator: ids.Orchestrator,
		Admin:        ids.Admin,
		Treasury:     ids.Treasury,
		Policy:       policy,
		Registry:     reg,
		Dispatcher:   dispatcher,
		Logger:       log,
	})
	if err != nil {
		log.WithError(err).Fatal("engine")
	}
	if err := cfg.Fixtures.Apply(ctx, eng); err != nil {
		log.WithError(err).Fatal("apply fixtures")
	}

	var idem idempotency.Store = idempotency.NewMemoryStore(nil)
	if cfg.Redis.URL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := idempotency.Connect(connectCtx, cfg.Redis.URL)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer client.Close()
		rs := idempotency.NewRedisStore(client)
		checks["redis"] = rs
		idem = rs
	}

	probe := httpapi.ReadyProbe{Checks: checks}
	api := httpapi.New(httpapi.Options{
		Engine:      eng,
		Stream:      stream,
		Idempotency: idem,
		Ready:       probe,
		Version:     cfg.Service.Version,
		DevTokens:   cfg.Service.DevTokens,
		TokenTTL:    cfg.Auth.TokenTTL,
		RateBurst:   cfg.RateLimit.Burst,
		RatePerSec:  cfg.RateLimit.PerSecond,
		CORSOrigin:  cfg.Service.CORSOrigin,
		MaxBody:     cfg.Service.MaxBodySize,
	})

	srv := &http.Server{
		Addr:              cfg.Service.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv, health := httpapi.NewGRPCServer(probe)
	lis, err := net.Listen("tcp", cfg.Service.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen")
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		health.Run(ctx, 10*time.Second)
	}()
	go func() {
		defer wg.Done()
		if err := grpcSrv.Serve(lis); err != nil {
			log.WithError(err).Error("grpc serve")
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http listen")
			stop()
		}
	}()

	log.WithFields(logrus.Fields{
		"version": cfg.Service.Version,
		"http":    srv.Addr,
		"grpc":    lis.Addr().String(),
		"policy":  policy.Version,
		"dev":     cfg.Service.DevTokens,
	}).Info("postaged started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	wg.Wait()

	stopDispatch()
	dispatcher.Wait()
	log.Info("stopped")
}
