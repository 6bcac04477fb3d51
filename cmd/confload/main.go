package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"confload/internal/core/domain"
	"confload/internal/core/ports"
	"confload/internal/core/services"
	httphandlers "confload/internal/handlers/http"
	"confload/internal/infrastructure/media"
	"confload/internal/infrastructure/monitoring"
	signalinfra "confload/internal/infrastructure/signal"
	"confload/internal/infrastructure/sink"
	"confload/pkg/config"
	"confload/pkg/logger"
	"confload/pkg/retry"
	"confload/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/confload/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		os.Stderr.WriteString("configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := run(cfg, log); err != nil {
		// The single place where a fatal harness error terminates the
		// process.
		log.Errorw("load run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "confload",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: "loadtest",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(ctx)
	}()

	host := domain.HostInfo{
		Domain:      cfg.Target.Domain,
		RoomAddress: cfg.Target.RoomAddress,
		Focus:       cfg.Target.Focus,
	}

	var credentials []domain.Credential
	if cfg.Fleet.CredentialsFile != "" {
		credentials, err = loadCredentials(cfg.Fleet.CredentialsFile)
		if err != nil {
			return err
		}
		log.Infow("loaded credentials", "file", cfg.Fleet.CredentialsFile, "count", len(credentials))
	}

	mediaFactory, err := media.NewFactory(media.Config{
		Policy:        cfg.Fleet.MediaPolicy,
		FrameInterval: cfg.Media.FrameInterval,
		VideoBitrate:  cfg.Media.VideoBitrate * 1000,
	}, log)
	if err != nil {
		return err
	}

	registry := signalinfra.DefaultRegistry()
	signalCfg := signalinfra.Config{
		URL:          signalinfra.Endpoint(cfg.Target.Domain),
		Room:         cfg.Target.RoomAddress,
		DialTimeout:  cfg.Signaling.DialTimeout,
		PingInterval: cfg.Signaling.PingInterval,
		PongTimeout:  cfg.Signaling.PongTimeout,
		WriteTimeout: cfg.Signaling.WriteTimeout,
		TokenSecret:  cfg.Signaling.TokenSecret,
		TokenTTL:     cfg.Signaling.TokenTTL,
		DialRetry: retry.Config{
			Enabled:      cfg.Signaling.DialRetry.Enabled,
			MaxAttempts:  cfg.Signaling.DialRetry.MaxAttempts,
			InitialDelay: cfg.Signaling.DialRetry.Delay,
			MaxDelay:     10 * cfg.Signaling.DialRetry.Delay,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
	newSignaling := func(nickname string) ports.SignalingClient {
		return signalinfra.NewClient(nickname, signalCfg, registry, log)
	}

	// The sink opens before any user starts; an unwritable output is a
	// configuration-stage failure.
	var collector *services.StatsCollector
	if cfg.Stats.Enabled {
		statsSink, err := buildSink(cfg, log)
		if err != nil {
			return err
		}

		var recorder ports.MetricsRecorder
		if cfg.Monitoring.Enabled {
			recorder = monitoring.NewPrometheusCollector(nil)
		}
		collector = services.NewStatsCollector(statsSink, recorder, log)
	}

	orchestrator, err := services.NewFleetOrchestrator(
		host,
		newSignaling,
		mediaFactory,
		cfg.Fleet.NicknameBase,
		cfg.Fleet.Users,
		collector,
		cfg.Fleet.AbortOnPacingInterrupt,
		log,
	)
	if err != nil {
		return err
	}

	var statusSrv *http.Server
	if cfg.Monitoring.Enabled {
		statusSrv = startStatusServer(cfg, orchestrator, collector, log)
	}

	statsCfg := services.StatsConfig{
		Overall:      cfg.Stats.Overall,
		AllStats:     cfg.Stats.AllStats,
		Summary:      cfg.Stats.Summary,
		PollInterval: cfg.Stats.PollInterval,
	}
	if err := orchestrator.Start(context.Background(), cfg.Fleet.Pacing, credentials, statsCfg); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infow("received shutdown signal", "signal", sig.String())

	if err := orchestrator.Stop(); err != nil {
		log.Warnw("fleet stop reported errors", "error", err)
	}

	if statusSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statusSrv.Shutdown(ctx); err != nil {
			log.Warnw("status server shutdown failed", "error", err)
		}
	}

	log.Info("load run finished")
	return nil
}

// buildSink assembles the stats output: the JSONL file, plus the redis
// publisher when configured.
func buildSink(cfg *config.Config, log *zap.SugaredLogger) (ports.StatsSink, error) {
	fileSink, err := sink.NewJSONLSink(cfg.Stats.OutputFile)
	if err != nil {
		return nil, err
	}
	if !cfg.Redis.Enabled {
		return fileSink, nil
	}

	redisSink, err := sink.NewRedisSink(sink.RedisConfig{
		Address:       cfg.Redis.Address,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		Key:           cfg.Redis.Key,
		BatchSize:     cfg.Redis.BatchSize,
		BatchInterval: cfg.Redis.BatchInterval,
	}, log)
	if err != nil {
		fileSink.Close()
		return nil, err
	}
	return sink.NewTeeSink(log, fileSink, redisSink), nil
}

func startStatusServer(
	cfg *config.Config,
	orchestrator *services.FleetOrchestrator,
	collector *services.StatsCollector,
	log *zap.SugaredLogger,
) *http.Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	httphandlers.NewStatusHandler(orchestrator, collector).SetupRoutes(router)

	srv := &http.Server{
		Addr:         cfg.Monitoring.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("status server listening", "address", cfg.Monitoring.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnw("status server failed", "error", err)
		}
	}()
	return srv
}
