// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"verigate/internal/dashboard"
	"verigate/internal/directory"
	"verigate/internal/events"
	"verigate/internal/operatortoken"
	"verigate/internal/platform/config"
	"verigate/internal/platform/httpserver"
	"verigate/internal/platform/logger"
	"verigate/internal/platform/middleware"
	"verigate/internal/platform/redisclient"
	"verigate/internal/verification/handler"
	"verigate/internal/verification/issuer"
	"verigate/internal/verification/metrics"
	"verigate/internal/verification/models"
	"verigate/internal/verification/orchestrator"
	"verigate/internal/verification/service"
	"verigate/internal/verification/signer"
	codestore "verigate/internal/verification/store/code"
	sessionstore "verigate/internal/verification/store/session"
	"verigate/internal/verification/validator"
	"verigate/internal/wallet"
	"verigate/internal/wallet/adapters"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	log.Info("initializing verigate",
		"addr", cfg.Addr,
		"redis", cfg.RedisURL != "",
		"postgres", cfg.PostgresDSN != "",
		"kafka", len(cfg.Kafka.Brokers) > 0,
	)

	sgn, err := signer.New([]byte(cfg.SigningSecret))
	if err != nil {
		log.Error("signer init failed", "error", err)
		os.Exit(1)
	}

	dir := directory.NewInMemory()
	profiles := directory.SeedDemoOwners(dir)
	registry, err := buildDemoRegistry(sgn, profiles)
	if err != nil {
		log.Error("wallet registry init failed", "error", err)
		os.Exit(1)
	}

	var codes codestore.Store = codestore.NewInMemoryStore()
	rdb, err := redisclient.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		codes = codestore.NewRedisStore(rdb.Client)
		log.Info("code store backed by redis")
	}

	var db *sql.DB
	var archive *sessionstore.PostgresArchive
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err == nil {
			err = db.PingContext(ctx)
		}
		if err == nil {
			_, err = db.ExecContext(ctx, sessionstore.Schema)
		}
		if err != nil {
			log.Error("postgres init failed", "error", err)
			os.Exit(1)
		}
		archive = sessionstore.NewPostgresArchive(db)
		log.Info("session archive backed by postgres")
	}

	var pub *events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := events.NewKafkaSink(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, log)
		if err != nil {
			log.Error("kafka init failed", "error", err)
			os.Exit(1)
		}
		pub = events.NewPublisher(sink, events.WithAsyncBuffer(256))
		log.Info("event stream backed by kafka", "topic", cfg.Kafka.Topic)
	}

	m := metrics.New()
	sessions := sessionstore.NewInMemoryStore()
	orch := orchestrator.New(registry, sessions,
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(m),
		orchestrator.WithCheckTimeout(cfg.Checks.Timeout),
		orchestrator.WithMaxConcurrent(cfg.Checks.MaxConcurrent),
	)

	iss := issuer.New(dir, sgn, codes,
		issuer.WithDefaultTTL(cfg.Code.TTL),
		issuer.WithDefaultUsageLimit(cfg.Code.UsageLimit),
	)

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
	}
	if archive != nil {
		svcOpts = append(svcOpts, service.WithArchiver(archive))
	}
	if pub != nil {
		svcOpts = append(svcOpts, service.WithEmitter(pub))
	}
	svc := service.New(iss, validator.New(sgn, codes), orch, codes, sessions, svcOpts...)

	var feedArchive sessionstore.Archive
	if archive != nil {
		feedArchive = archive
	}
	feed := dashboard.NewFeed(sessions, feedArchive)

	tokens := operatortoken.NewService([]byte(cfg.TokenSecret), cfg.TokenIssuer)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestScope)
	r.Use(middleware.Logger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			if err := rdb.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireOperator(tokens, log))
		r.Use(middleware.ScannerDevice)
		handler.New(svc, feed, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, r)

	log.Info("starting http server", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			log.Error("event publisher close failed", "error", err)
		}
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Info("server stopped")
}

// buildDemoRegistry stands up one mock-backed source per seeded enrollment so
// the demo deployment verifies end to end without external credential stores.
func buildDemoRegistry(sgn *signer.Signer, profiles []*directory.Profile) (*wallet.Registry, error) {
	registry := wallet.NewRegistry()
	clients := make(map[string]*adapters.MockRecordClient)

	for _, p := range profiles {
		for _, e := range p.Enrollments {
			client, ok := clients[e.SourceID]
			if !ok {
				client = adapters.NewMockRecordClient(50 * time.Millisecond)
				clients[e.SourceID] = client

				var src wallet.Source
				switch e.Kind {
				case models.SourcePassStore:
					src = adapters.NewPassStore(e.SourceID, client)
				case models.SourceDataVault:
					src = adapters.NewDataVault(e.SourceID, client)
				case models.SourceBankID:
					src = adapters.NewBankID(e.SourceID, client)
				case models.SourceHealthRegistry:
					src = adapters.NewHealthRegistry(e.SourceID, client)
				default:
					continue
				}
				if err := registry.Register(src); err != nil {
					return nil, err
				}
			}
			client.Enroll(sgn.RefHash(p.OwnerID, e.SourceID), p.Claims())
		}
	}
	return registry, nil
}
