package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"sensor-dashboard/internal/analytics"
	"sensor-dashboard/internal/backend"
	"sensor-dashboard/internal/cache"
	"sensor-dashboard/internal/config"
	"sensor-dashboard/internal/export"
	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/pipeline"
	"sensor-dashboard/internal/scheduler"
	"sensor-dashboard/internal/stream"
	"sensor-dashboard/internal/threshold"

	"github.com/gorilla/mux"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	pipelineRecomputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_recomputes_total",
		Help: "Total number of pipeline recomputations",
	}, []string{"pipeline"})

	filteredRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_filtered_rows",
		Help: "Rows left after windowing and resampling",
	}, []string{"pipeline"})

	alertsRaised = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threshold_alerts_total",
		Help: "Total number of threshold violations",
	})

	pollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_poll_errors_total",
		Help: "Total number of failed backend polls",
	}, []string{"task"})

	staleResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_stale_responses_total",
		Help: "Poll responses discarded because settings changed in flight",
	})

	rollingAverage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "equipment_rolling_average",
		Help: "Rolling average of live engine and powermeter fields",
	}, []string{"field"})

	pollInterval = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poll_interval_seconds",
		Help: "Current shared poll interval",
	})
)

type Server struct {
	cfg       config.Config
	router    *mux.Router
	store     cache.Store
	prefs     *cache.Preferences
	datasets  *cache.DatasetCache
	backend   *backend.Client
	pipelines map[string]*pipeline.Orchestrator
	monitor   *threshold.Monitor
	tracker   *analytics.Tracker
	poller    *scheduler.Scheduler
	syncer    *scheduler.Scheduler
	hub       *stream.Hub
	renderer  *export.Renderer
	equipment atomic.Pointer[models.EquipmentSnapshot]
	baseCtx   context.Context
	now       func() time.Time
	log       *slog.Logger
}

const (
	pipelineLive = "live"
	pipelineViz  = "viz"
)

func NewServer(cfg config.Config, store cache.Store, log *slog.Logger) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pipelines := make(map[string]*pipeline.Orchestrator, 2)
	for name, pc := range map[string]config.PipelineConfig{pipelineLive: cfg.Live, pipelineViz: cfg.Viz} {
		settings, err := pc.Settings()
		if err != nil {
			return nil, fmt.Errorf("%s pipeline: %w", name, err)
		}
		o, err := pipeline.New(name, settings, pipeline.WithLocation(loc), pipeline.WithLogger(log))
		if err != nil {
			return nil, err
		}
		pipelines[name] = o
	}

	poller, err := scheduler.New(time.Duration(cfg.Poll.Interval)*time.Second, log.With("scheduler", "poll"))
	if err != nil {
		return nil, err
	}
	syncer, err := scheduler.New(cfg.Poll.SyncInterval, log.With("scheduler", "interval-sync"))
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		store:     store,
		prefs:     cache.NewPreferences(store),
		datasets:  cache.NewDatasetCache(store, cfg.Redis.DatasetTTL),
		backend:   backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, log),
		pipelines: pipelines,
		monitor:   threshold.NewMonitor(cfg.Thresholds, log.With("component", "threshold")),
		tracker:   analytics.NewTracker(cfg.Poll.TrackerPoints),
		poller:    poller,
		syncer:    syncer,
		hub:       stream.NewHub(cfg.Stream.MaxClients, log),
		renderer:  export.NewRenderer(),
		baseCtx:   context.Background(),
		now:       time.Now,
		log:       log,
	}

	poller.Register("data", s.pollData)
	poller.Register("equipment", s.pollEquipment)
	syncer.Register("interval", s.syncInterval)
	pollInterval.Set(float64(cfg.Poll.Interval))

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.observe)

	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.Handle("/metrics/prometheus", promhttp.Handler())
	s.router.HandleFunc("/ws", s.hub.ServeWS)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/viz/upload", s.uploadHandler).Methods("POST")
	api.HandleFunc("/viz/data", s.clearDataHandler).Methods("DELETE")
	api.HandleFunc("/viz/uploads", s.uploadsHandler).Methods("GET")

	p := api.PathPrefix("/{pipeline:live|viz}").Subrouter()
	p.HandleFunc("/settings", s.getSettingsHandler).Methods("GET")
	p.HandleFunc("/settings", s.updateSettingsHandler).Methods("PUT")
	p.HandleFunc("/recompute", s.recomputeHandler).Methods("POST")
	p.HandleFunc("/snapshot", s.snapshotHandler).Methods("GET")
	p.HandleFunc("/stats", s.statsHandler).Methods("GET")
	p.HandleFunc("/charts/{channel}", s.chartHandler).Methods("GET")
	p.HandleFunc("/summary", s.summaryHandler).Methods("GET")
	p.HandleFunc("/table", s.tableHandler).Methods("GET")
	p.HandleFunc("/export/csv", s.exportCSVHandler).Methods("GET")
	p.HandleFunc("/export/png", s.exportPNGHandler).Methods("GET")

	api.HandleFunc("/alert", s.alertHandler).Methods("GET")
	api.HandleFunc("/alert/dismiss", s.dismissAlertHandler).Methods("POST")
	api.HandleFunc("/alert/{id}/ack", s.ackAlertHandler).Methods("POST")

	api.HandleFunc("/interval", s.getIntervalHandler).Methods("GET")
	api.HandleFunc("/interval", s.setIntervalHandler).Methods("POST")

	api.HandleFunc("/system/state", s.systemStateHandler).Methods("GET")
	api.HandleFunc("/system/start", s.systemStartHandler).Methods("POST")
	api.HandleFunc("/system/stop", s.systemStopHandler).Methods("POST")
	api.HandleFunc("/clear-log", s.clearLogHandler).Methods("POST")
	api.HandleFunc("/download/local", s.downloadLocalHandler).Methods("GET")
	api.HandleFunc("/download/usb", s.downloadUSBHandler).Methods("POST")

	api.HandleFunc("/equipment", s.equipmentHandler).Methods("GET")
	api.HandleFunc("/equipment/stats", s.equipmentStatsHandler).Methods("GET")
	api.HandleFunc("/equipment/engine", s.saveEngineHandler).Methods("PUT")
	api.HandleFunc("/equipment/powermeter", s.savePowermeterHandler).Methods("PUT")

	api.HandleFunc("/calibrations", s.getCalibrationsHandler).Methods("GET")
	api.HandleFunc("/calibrations", s.saveCalibrationsHandler).Methods("PUT")
	api.HandleFunc("/calibrations/refresh", s.refreshCalibrationsHandler).Methods("POST")

	api.HandleFunc("/preferences/{key}", s.getPreferenceHandler).Methods("GET")
	api.HandleFunc("/preferences/{key}", s.setPreferenceHandler).Methods("PUT")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
		"polling":   s.poller.Running(),
		"clients":   s.hub.Clients(),
	}
	writeJSON(w, http.StatusOK, health)
}

// Start поднимает фоновые задачи: калибровки, кэш загрузок, опрос бэкенда
func (s *Server) Start(ctx context.Context) {
	s.baseCtx = ctx

	if err := s.refreshCalibrations(ctx); err != nil {
		s.log.Warn("failed to load sensor calibrations", "error", err)
	}

	rows, err := s.datasets.Load(ctx)
	switch {
	case errors.Is(err, cache.ErrNotFound):
	case err != nil:
		s.log.Warn("failed to restore uploaded dataset", "error", err)
	default:
		if _, err := s.pipelines[pipelineViz].Load(rows); err != nil {
			s.log.Warn("cached dataset rejected", "error", err)
		} else {
			s.log.Info("restored uploaded dataset", "rows", len(rows))
		}
	}

	s.poller.Start(ctx)
	s.syncer.Start(ctx)
}

func (s *Server) Stop() {
	s.syncer.Stop()
	s.poller.Stop()
	s.hub.Close()
}

func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.Start(ctx)

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.log.Info("server is shutting down")

		cancel()
		s.Stop()

		shutdownCtx, stop := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer stop()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("could not gracefully shutdown the server", "error", err)
		}
		close(done)
	}()

	s.log.Info("server is ready to handle requests", "addr", addr, "backend", s.backend.BaseURL())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}

	<-done
	s.log.Info("server stopped")
	return nil
}

// openStore: Redis, а если он недоступен - память процесса
func openStore(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) cache.Store {
	if cfg.Addr == "" {
		log.Info("redis disabled, using in-memory store")
		return cache.NewMemoryStore()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := cache.NewRedisClient(pingCtx, cfg.Addr, cfg.DB)
	if err != nil {
		log.Warn("redis unavailable, using in-memory store", "addr", cfg.Addr, "error", err)
		return cache.NewMemoryStore()
	}
	return client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cfg.LogLevel(),
		TimeFormat: time.DateTime,
	}))
	slog.SetDefault(log)

	ctx := context.Background()
	store := openStore(ctx, cfg.Redis, log)
	defer store.Close()

	server, err := NewServer(cfg, store, log)
	if err != nil {
		log.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := server.Run(ctx, ":"+cfg.Server.Port); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}
