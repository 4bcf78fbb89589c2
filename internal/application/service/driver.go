package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tradepulse/internal/application/port"
	"tradepulse/internal/domain"
)

// Analyzer 阻塞式“触发分析并等待结果”能力（由 agent 通道实现）
type Analyzer interface {
	TriggerAnalysis(ctx context.Context) (domain.AnalysisResult, error)
}

// DriverConfig 驱动循环配置
type DriverConfig struct {
	Interval        time.Duration // 每个交易对的定时分析间隔
	ScheduleEnabled bool
	MaxIdleWait     time.Duration // 无到期交易对时的休眠上限
}

// Driver 驱动循环：休眠至最近的调度点（或被波动/手动触发唤醒），
// 逐个处理到期交易对并记录完成。同一交易对的分析永不并发。
type Driver struct {
	scheduler *Scheduler
	analyzer  Analyzer
	clock     port.Clock
	wake      chan struct{}
	cfg       DriverConfig
}

func NewDriver(scheduler *Scheduler, analyzer Analyzer, wake chan struct{}, clock port.Clock, cfg DriverConfig) *Driver {
	if cfg.MaxIdleWait <= 0 {
		cfg.MaxIdleWait = 30 * time.Second
	}
	if wake == nil {
		wake = make(chan struct{}, 1)
	}
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &Driver{
		scheduler: scheduler,
		analyzer:  analyzer,
		clock:     clock,
		wake:      wake,
		cfg:       cfg,
	}
}

// RequestManualTrigger 外部（API 层）请求立即分析某交易对。
func (d *Driver) RequestManualTrigger(instID string) bool {
	if !d.scheduler.RequestManualTrigger(instID) {
		return false
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Run 阻塞运行，直到 ctx 取消。
func (d *Driver) Run(ctx context.Context) {
	log.Info().
		Float64("interval_secs", d.cfg.Interval.Seconds()).
		Bool("schedule_enabled", d.cfg.ScheduleEnabled).
		Msg("analysis driver started")

	for {
		wait := d.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-d.wake:
			timer.Stop()
		case <-timer.C:
		}

		due := d.scheduler.DueSymbols(d.clock.Now(), d.cfg.ScheduleEnabled)
		for _, item := range due {
			if ctx.Err() != nil {
				return
			}
			d.runTrigger(ctx, item)
		}
	}
}

func (d *Driver) nextWait() time.Duration {
	next, ok := d.scheduler.NextDueInstant()
	if !ok {
		return d.cfg.MaxIdleWait
	}
	wait := next.Sub(d.clock.Now())
	if wait < 0 {
		wait = 0
	}
	if wait > d.cfg.MaxIdleWait {
		wait = d.cfg.MaxIdleWait
	}
	return wait
}

func (d *Driver) runTrigger(ctx context.Context, item domain.DueSymbol) {
	log.Info().
		Str("inst_id", item.InstID).
		Str("source", item.Source.String()).
		Msg("dispatching analysis trigger")

	result, err := d.analyzer.TriggerAnalysis(ctx)
	if err != nil {
		// 失败也推进调度并清除 pending，避免对不可用的 agent 热循环；
		// 是否重试由上游（手动触发方/下个周期）决定。
		log.Warn().Err(err).Str("inst_id", item.InstID).Msg("analysis trigger failed")
	} else {
		log.Info().
			Str("inst_id", item.InstID).
			Int("summary_len", len(result.Summary)).
			Int("suggestions", len(result.Suggestions)).
			Msg("analysis completed")
	}

	lastPrice := 0.0
	if snap, ok := d.scheduler.Snapshot(item.InstID); ok && snap.HasTickPrice {
		lastPrice = snap.LastTickPrice
	}
	d.scheduler.MarkTriggerCompletion(item.InstID, d.cfg.Interval, item.Source, lastPrice)
}
