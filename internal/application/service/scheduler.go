package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tradepulse/internal/application/port"
	"tradepulse/internal/domain"
	"tradepulse/internal/infrastructure/metrics"
)

// symbolState 单个交易对的调度状态，仅由 Scheduler 持有
type symbolState struct {
	nextScheduledAt   time.Time
	lastTriggerAt     time.Time
	hasLastTrigger    bool
	lastTriggerSource domain.TriggerSource
	lastTriggerPrice  float64 // 波动基准价；0 表示尚未观测
	lastTickPrice     float64
	hasTickPrice      bool
	pendingTrigger    *domain.TriggerSource
}

// Scheduler 按交易对决定何时需要重新分析，并记录触发完成。
// 全部状态在单把读写锁下，持锁期间不做任何阻塞调用。
type Scheduler struct {
	mu     sync.RWMutex
	states map[string]*symbolState
	clock  port.Clock
}

func NewScheduler(clock port.Clock) *Scheduler {
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &Scheduler{
		states: make(map[string]*symbolState),
		clock:  clock,
	}
}

// SyncSymbolStates 使状态表与配置的交易对列表一致：
// 移除不再配置的，补齐新增的（立即到期），已有的保持不变。
func (s *Scheduler) SyncSymbolStates(instIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	allowed := make(map[string]struct{}, len(instIDs))
	for _, id := range instIDs {
		allowed[id] = struct{}{}
	}
	for id := range s.states {
		if _, ok := allowed[id]; !ok {
			delete(s.states, id)
			log.Debug().Str("inst_id", id).Msg("dropped trigger state for removed symbol")
		}
	}
	for _, id := range instIDs {
		if _, ok := s.states[id]; !ok {
			s.states[id] = &symbolState{nextScheduledAt: now}
		}
	}
}

// DueSymbols 返回当前需要触发的交易对。pending 优先于定时；每个交易对至多出现一次。
func (s *Scheduler) DueSymbols(now time.Time, scheduleEnabled bool) []domain.DueSymbol {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []domain.DueSymbol
	for id, st := range s.states {
		if st.pendingTrigger != nil {
			due = append(due, domain.DueSymbol{InstID: id, Source: *st.pendingTrigger})
			continue
		}
		if scheduleEnabled && !st.nextScheduledAt.After(now) {
			due = append(due, domain.DueSymbol{InstID: id, Source: domain.TriggerScheduled})
		}
	}
	return due
}

// NextDueInstant 所有交易对中最早的下次调度时间，供驱动循环计算休眠时长。
func (s *Scheduler) NextDueInstant() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var min time.Time
	found := false
	for _, st := range s.states {
		if !found || st.nextScheduledAt.Before(min) {
			min = st.nextScheduledAt
			found = true
		}
	}
	return min, found
}

// MarkTriggerCompletion 记录一次触发完成：推进下次调度时间、清除 pending，
// 若观测到价格则更新波动基准价。未知交易对仅记日志。
func (s *Scheduler) MarkTriggerCompletion(instID string, interval time.Duration, source domain.TriggerSource, lastPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[instID]
	if !ok {
		log.Warn().Str("inst_id", instID).Msg("trigger completion for unknown symbol")
		return
	}

	now := s.clock.Now()
	st.lastTriggerAt = now
	st.hasLastTrigger = true
	st.lastTriggerSource = source
	st.nextScheduledAt = now.Add(interval)
	st.pendingTrigger = nil
	if lastPrice > 0 {
		st.lastTriggerPrice = lastPrice
	}
	metrics.TriggersCompleted.WithLabelValues(source.String()).Inc()
	log.Debug().
		Str("inst_id", instID).
		Str("source", source.String()).
		Float64("next_in_secs", interval.Seconds()).
		Msg("recorded trigger completion")
}

// RequestManualTrigger 置入手动触发。已有 pending 时不覆盖（保持单一 pending 不变量）。
// 返回 false 表示交易对未知。
func (s *Scheduler) RequestManualTrigger(instID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[instID]
	if !ok {
		log.Warn().Str("inst_id", instID).Msg("manual trigger for unknown symbol")
		return false
	}
	if st.pendingTrigger == nil {
		src := domain.TriggerManual
		st.pendingTrigger = &src
		st.nextScheduledAt = s.clock.Now()
	}
	return true
}

// RecordTickPrice 记录最新行情价；满足波动阈值时置入波动触发并返回偏移快照。
// 返回 nil 表示不触发：交易对未知 / 处于去抖窗口 / 基准价刚播种 /
// 已有波动触发在途 / 偏移未达阈值。
func (s *Scheduler) RecordTickPrice(instID string, price float64, thresholdBps float64, window time.Duration) *domain.PriceDeltaSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[instID]
	if !ok {
		log.Warn().Str("inst_id", instID).Msg("ticker for unknown symbol")
		return nil
	}

	st.lastTickPrice = price
	st.hasTickPrice = true

	now := s.clock.Now()
	if st.hasLastTrigger && st.lastTriggerSource == domain.TriggerVolatility && now.Sub(st.lastTriggerAt) < window {
		return nil
	}

	if st.lastTriggerPrice <= 0 {
		// first observation seeds the basis
		st.lastTriggerPrice = price
		return nil
	}

	if st.pendingTrigger != nil && *st.pendingTrigger == domain.TriggerVolatility {
		return nil
	}

	deltaBps := (price - st.lastTriggerPrice) / st.lastTriggerPrice * 10_000
	if deltaBps < 0 {
		deltaBps = -deltaBps
	}
	if deltaBps < thresholdBps {
		return nil
	}

	src := domain.TriggerVolatility
	st.pendingTrigger = &src
	st.nextScheduledAt = now

	return &domain.PriceDeltaSnapshot{
		PriceNow:  price,
		BasePrice: st.lastTriggerPrice,
		DeltaBps:  deltaBps,
	}
}

// SymbolSnapshot 对外暴露的只读状态视图
type SymbolSnapshot struct {
	InstID           string
	NextScheduledAt  time.Time
	LastTriggerPrice float64
	LastTickPrice    float64
	HasTickPrice     bool
	Pending          *domain.TriggerSource
}

// Snapshot 读取单个交易对的状态副本，不存在时返回 false。
func (s *Scheduler) Snapshot(instID string) (SymbolSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[instID]
	if !ok {
		return SymbolSnapshot{}, false
	}
	snap := SymbolSnapshot{
		InstID:           instID,
		NextScheduledAt:  st.nextScheduledAt,
		LastTriggerPrice: st.lastTriggerPrice,
		LastTickPrice:    st.lastTickPrice,
		HasTickPrice:     st.hasTickPrice,
	}
	if st.pendingTrigger != nil {
		p := *st.pendingTrigger
		snap.Pending = &p
	}
	return snap, true
}
