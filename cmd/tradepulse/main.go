package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"tradepulse/internal/application/port"
	"tradepulse/internal/application/service"
	"tradepulse/internal/infrastructure/agent"
	"tradepulse/internal/infrastructure/config"
	"tradepulse/internal/infrastructure/container"
	"tradepulse/internal/infrastructure/logger"
)

func main() {
	_ = godotenv.Load()
	logger.Setup()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := container.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("container init failed")
	}
	defer deps.Close()

	clock := port.SystemClock{}
	scheduler := service.NewScheduler(clock)
	scheduler.SyncSymbolStates(cfg.Instruments.List)

	reconciler := service.NewReconciler(deps.Exchange(), deps.Repository(), clock, service.ReconcilerConfig{
		InstIDs:       cfg.Instruments.List,
		SweepInterval: cfg.SweepInterval(),
	})

	channel := agent.New(agent.Config{
		BaseURL:         cfg.Agent.BaseURL,
		ReconnectDelay:  cfg.ReconnectDelay(),
		AnalysisTimeout: cfg.AnalysisTimeout(),
	}, deps.Repository(), func(ctx context.Context, ordID string) {
		if err := reconciler.ProcessOrderEvent(ctx, ordID); err != nil {
			log.Error().Err(err).Str("ord_id", ordID).Msg("order event reconciliation failed")
		}
	}, clock)

	wake := make(chan struct{}, 1)
	poller := service.NewPoller(deps.Exchange(), scheduler, deps.TickSink(), wake, service.PollerConfig{
		InstIDs:      cfg.Instruments.List,
		PollInterval: cfg.PollInterval(),
		ThresholdBps: cfg.Volatility.ThresholdBps,
		Window:       cfg.DebounceWindow(),
		MaxAttempts:  cfg.Volatility.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff(),
	})

	driver := service.NewDriver(scheduler, channel, wake, clock, service.DriverConfig{
		Interval:        cfg.ScheduleInterval(),
		ScheduleEnabled: cfg.Schedule.Enabled,
		MaxIdleWait:     cfg.MaxIdleWait(),
	})

	// prometheus endpoint
	metricsSrv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metricsMux()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", cfg.Metrics.ListenAddr).Msg("metrics server exited")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	go channel.Run(ctx)
	go poller.Run(ctx)
	go reconciler.RunPeriodicSync(ctx)

	log.Info().
		Str("config", *configPath).
		Int("instruments", len(cfg.Instruments.List)).
		Bool("schedule_enabled", cfg.Schedule.Enabled).
		Dur("schedule_interval", cfg.ScheduleInterval()).
		Float64("threshold_bps", cfg.Volatility.ThresholdBps).
		Str("agent", cfg.Agent.BaseURL).
		Msg("tradepulse started")

	driver.Run(ctx)
	log.Warn().Msg("exit")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
