package service

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"tradepulse/internal/application/port"
	"tradepulse/internal/infrastructure/metrics"
)

// PollerConfig 波动轮询循环配置
type PollerConfig struct {
	InstIDs      []string
	PollInterval time.Duration
	ThresholdBps float64
	Window       time.Duration // 波动触发去抖窗口
	MaxAttempts  int           // 单次行情拉取的尝试上限
	RetryBackoff time.Duration // 尝试之间的固定间隔
}

// Poller 周期性拉取每个交易对的最新价并喂给 Scheduler。
// 单个交易对失败只记日志，不影响其他交易对，也不中断循环。
type Poller struct {
	client    port.ExchangeClient
	scheduler *Scheduler
	sink      port.TickSink
	wake      chan<- struct{} // 波动触发后唤醒驱动循环
	sleep     func(context.Context, time.Duration)
	cfg       PollerConfig
}

func NewPoller(client port.ExchangeClient, scheduler *Scheduler, sink port.TickSink, wake chan<- struct{}, cfg PollerConfig) *Poller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if sink == nil {
		sink = port.NoopTickSink{}
	}
	return &Poller{
		client:    client,
		scheduler: scheduler,
		sink:      sink,
		wake:      wake,
		sleep:     sleepCtx,
		cfg:       cfg,
	}
}

// Run 阻塞运行轮询循环，直到 ctx 取消。
func (p *Poller) Run(ctx context.Context) {
	if len(p.cfg.InstIDs) == 0 {
		log.Warn().Msg("volatility poller started with empty symbol list")
		return
	}

	log.Info().
		Float64("poll_secs", p.cfg.PollInterval.Seconds()).
		Float64("threshold_bps", p.cfg.ThresholdBps).
		Msg("volatility poller enabled")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	for _, instID := range p.cfg.InstIDs {
		tick, err := p.fetchTickerWithRetry(ctx, instID)
		if err != nil {
			metrics.TickerFetchFailures.Inc()
			log.Warn().Err(err).Str("inst_id", instID).Msg("ticker fetch failed for volatility poll")
			continue
		}

		price, err := strconv.ParseFloat(tick.Last, 64)
		if err != nil {
			log.Warn().Str("inst_id", instID).Str("last", tick.Last).Msg("unparseable ticker price")
			continue
		}
		ts, _ := strconv.ParseInt(tick.Ts, 10, 64)
		if err := p.sink.CacheTick(ctx, instID, price, ts); err != nil {
			log.Debug().Err(err).Str("inst_id", instID).Msg("tick cache write failed")
		}

		delta := p.scheduler.RecordTickPrice(instID, price, p.cfg.ThresholdBps, p.cfg.Window)
		if delta == nil {
			continue
		}

		metrics.VolatilitySignals.Inc()
		log.Info().
			Str("inst_id", instID).
			Float64("price_now", delta.PriceNow).
			Float64("base_price", delta.BasePrice).
			Float64("delta_bps", delta.DeltaBps).
			Msg("volatility threshold exceeded, scheduling analysis")

		if err := p.sink.PublishVolatilitySignal(ctx, instID, *delta); err != nil {
			log.Debug().Err(err).Str("inst_id", instID).Msg("volatility signal publish failed")
		}
		p.notify()
	}
}

// fetchTickerWithRetry 有界重试：只有瞬时性错误（连接/超时/5xx/限频）才重试。
func (p *Poller) fetchTickerWithRetry(ctx context.Context, instID string) (*port.Ticker, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		tick, err := p.client.GetTicker(ctx, instID)
		if err == nil {
			return tick, nil
		}
		lastErr = err
		if attempt == p.cfg.MaxAttempts || !port.IsTransient(err) {
			break
		}
		log.Debug().Err(err).Str("inst_id", instID).Int("attempt", attempt).Msg("transient ticker failure, retrying")
		if p.cfg.RetryBackoff > 0 {
			p.sleep(ctx, p.cfg.RetryBackoff)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (p *Poller) notify() {
	if p.wake == nil {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default: // driver already has a wake-up queued
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
