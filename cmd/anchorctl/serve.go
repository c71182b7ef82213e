package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.temporal.io/sdk/client"

	"github.com/anchorhome/anchor/internal/cache"
	"github.com/anchorhome/anchor/internal/casememory"
	"github.com/anchorhome/anchor/internal/config"
	"github.com/anchorhome/anchor/internal/database"
	"github.com/anchorhome/anchor/internal/eventbus"
	"github.com/anchorhome/anchor/internal/experiments"
	"github.com/anchorhome/anchor/internal/features"
	"github.com/anchorhome/anchor/internal/learning"
	"github.com/anchorhome/anchor/internal/metrics"
	"github.com/anchorhome/anchor/internal/orchestrator"
	"github.com/anchorhome/anchor/internal/patterns"
	"github.com/anchorhome/anchor/internal/telemetry"
	"github.com/anchorhome/anchor/pkg/models"
)

// learnRequest is the POST /v1/learn body: one interaction with its outcome.
type learnRequest struct {
	Interaction models.Interaction        `json:"interaction"`
	Outcome     models.InteractionOutcome `json:"outcome"`
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the AI core service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Printf("[Serve] telemetry disabled: %v", err)
		} else {
			defer func() {
				shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
				defer c()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	m := metrics.New()

	// Persistence: Postgres when configured, in-memory otherwise.
	var (
		patternStore patterns.VectorStore
		caseSource   patterns.CaseSource
		memoryStore  casememory.Store
	)
	if cfg.Database.DSN != "" {
		db, err := database.New(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		patternStore = db
		caseSource = db
		memoryStore = db
		log.Printf("[Serve] using PostgreSQL persistence")
	} else {
		patternStore = patterns.NewMemoryStore()
		memoryStore = casememory.NewMemoryStore()
		log.Printf("[Serve] no database configured, running with in-memory stores")
	}

	// Response cache, optionally on Redis.
	var cacheBackend cache.Backend
	if cfg.Redis.Enabled {
		rb, err := cache.NewRedisBackend(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("[Serve] redis unavailable, falling back to in-memory cache: %v", err)
		} else {
			cacheBackend = rb
			defer rb.Close()
		}
	}
	respCache := cache.New(&cache.Config{
		Enabled:       cfg.Cache.Enabled,
		DefaultTTL:    cfg.Cache.DefaultTTL,
		MaxSize:       cfg.Cache.MaxSize,
		CleanupPeriod: cfg.Cache.CleanupPeriod,
	}, cacheBackend)

	// Event bus.
	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		bus, err = eventbus.New(eventbus.Config{
			URL:        cfg.NATS.URL,
			StreamName: cfg.NATS.StreamName,
			Timeout:    cfg.NATS.Timeout,
		})
		if err != nil {
			log.Printf("[Serve] NATS unavailable, events disabled: %v", err)
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	// Orchestrator with the configured routing table.
	modelsByName, err := config.BuildModels(cfg.Models)
	if err != nil {
		return err
	}
	table, err := config.BuildRoutingTable(cfg.Routing, modelsByName)
	if err != nil {
		return err
	}
	orch := orchestrator.New(table, respCache, m)

	// Pattern engine and learning pipeline.
	engine := patterns.NewEngine(patternStore, caseSource, nil, bus, m)
	extractor := features.New(orch, memoryStore)

	// Temporal worker for out-of-band experiments.
	var scheduler *experiments.Scheduler
	if cfg.Temporal.Enabled {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			log.Printf("[Serve] Temporal unavailable, experiments stay planned: %v", err)
		} else {
			defer tc.Close()
			scheduler = experiments.NewScheduler(tc, cfg.Temporal.Window)
			w := experiments.NewWorker(tc, &experiments.Activities{
				Perf:    orch,
				Bus:     bus,
				Metrics: m,
			})
			if err := w.Start(); err != nil {
				return fmt.Errorf("failed to start experiment worker: %w", err)
			}
			defer w.Stop()
		}
	}

	pipeline := learning.New(extractor, engine, memoryStore, nil, scheduler, bus, m, cfg.Learning.Thresholds)
	log.Printf("[Serve] learning thresholds: notable_satisfaction=%.2f low_satisfaction=%.2f slow_response=%s",
		pipeline.Thresholds().NotableSatisfaction, pipeline.Thresholds().LowSatisfaction, pipeline.Thresholds().SlowResponse)

	// Hot reload: routing table swaps atomically on config change.
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		byName, err := config.BuildModels(next.Models)
		if err != nil {
			log.Printf("[Serve] reload: failed to build models: %v", err)
			return
		}
		nextTable, err := config.BuildRoutingTable(next.Routing, byName)
		if err != nil {
			log.Printf("[Serve] reload: failed to build routing table: %v", err)
			return
		}
		orch.SetRoutes(nextTable)
		log.Printf("[Serve] routing table reloaded")
	})
	if err != nil {
		log.Printf("[Serve] config hot reload disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	// Periodic batch discovery. Needs a labeled case source, which only
	// the database provides.
	if len(cfg.Discovery.Categories) > 0 {
		if caseSource != nil {
			go runDiscoveryLoop(ctx, engine, cfg.Discovery)
		} else {
			log.Printf("[Serve] pattern discovery disabled: no labeled case source without a database")
		}
	}

	srv := newHTTPServer(cfg, orch, pipeline, patternStore, respCache)
	go func() {
		log.Printf("[Serve] listening on %s", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Serve] http server error: %v", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("[Serve] received %s, shutting down", sig)
	case <-ctx.Done():
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
	defer c()
	return srv.Shutdown(shutdownCtx)
}

func runDiscoveryLoop(ctx context.Context, engine *patterns.Engine, cfg config.DiscoveryConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, category := range cfg.Categories {
				found, err := engine.IdentifySuccessPatterns(ctx, category, cfg.MinConfidence)
				if err != nil {
					log.Printf("[Serve] discovery failed for %s: %v", category, err)
					continue
				}
				log.Printf("[Serve] discovery for %s produced %d patterns", category, len(found))
			}
		}
	}
}

func newHTTPServer(cfg *config.Config, orch *orchestrator.Orchestrator, pipeline *learning.Pipeline, store patterns.VectorStore, respCache *cache.Cache) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/performance", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, orch.PerformanceMetrics())
	})

	mux.HandleFunc("/v1/patterns", func(w http.ResponseWriter, r *http.Request) {
		list, err := store.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, list)
	})

	mux.HandleFunc("/v1/cache", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, respCache.GetStats())
	})

	mux.HandleFunc("/v1/learn", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req learnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		result, err := pipeline.ProcessInteraction(r.Context(), &req.Interaction, &req.Outcome)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, result)
	})

	var handler http.Handler = mux
	handler = otelhttp.NewHandler(handler, "anchor-http-server")

	return &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Serve] failed to encode response: %v", err)
	}
}
