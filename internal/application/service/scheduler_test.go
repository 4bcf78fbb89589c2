package service

import (
	"sync"
	"testing"
	"time"

	"tradepulse/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(instIDs ...string) (*Scheduler, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	s := NewScheduler(clk)
	s.SyncSymbolStates(instIDs)
	return s, clk
}

func TestSchedulerNewSymbolsDueImmediately(t *testing.T) {
	s, clk := newTestScheduler("BTC-USDT-SWAP", "ETH-USDT-SWAP")

	due := s.DueSymbols(clk.now, true)
	if len(due) != 2 {
		t.Fatalf("expected 2 due symbols, got %d", len(due))
	}
	for _, d := range due {
		if d.Source != domain.TriggerScheduled {
			t.Errorf("expected scheduled source for %s, got %s", d.InstID, d.Source)
		}
	}
}

func TestSchedulerCompletionAdvancesSchedule(t *testing.T) {
	s, clk := newTestScheduler("BTC-USDT-SWAP")
	interval := 15 * time.Minute

	s.MarkTriggerCompletion("BTC-USDT-SWAP", interval, domain.TriggerScheduled, 50000)

	if due := s.DueSymbols(clk.now, true); len(due) != 0 {
		t.Fatalf("expected no due symbols right after completion, got %d", len(due))
	}

	clk.advance(interval - time.Second)
	if due := s.DueSymbols(clk.now, true); len(due) != 0 {
		t.Fatalf("expected no due symbols before interval elapsed, got %d", len(due))
	}

	clk.advance(2 * time.Second)
	due := s.DueSymbols(clk.now, true)
	if len(due) != 1 || due[0].InstID != "BTC-USDT-SWAP" {
		t.Fatalf("expected BTC-USDT-SWAP due after interval, got %v", due)
	}
}

func TestSchedulerScheduleDisabledStillServesPending(t *testing.T) {
	s, clk := newTestScheduler("BTC-USDT-SWAP", "ETH-USDT-SWAP")

	if !s.RequestManualTrigger("BTC-USDT-SWAP") {
		t.Fatal("manual trigger for known symbol rejected")
	}

	due := s.DueSymbols(clk.now, false)
	if len(due) != 1 {
		t.Fatalf("expected only the pending symbol with schedule disabled, got %d", len(due))
	}
	if due[0].InstID != "BTC-USDT-SWAP" || due[0].Source != domain.TriggerManual {
		t.Errorf("unexpected due entry: %+v", due[0])
	}
}

func TestSchedulerManualTriggerUnknownSymbol(t *testing.T) {
	s, _ := newTestScheduler("BTC-USDT-SWAP")

	if s.RequestManualTrigger("DOGE-USDT-SWAP") {
		t.Error("manual trigger for unknown symbol should return false")
	}
}

func TestSchedulerManualDoesNotOverridePending(t *testing.T) {
	s, clk := newTestScheduler("BTC-USDT-SWAP")
	s.MarkTriggerCompletion("BTC-USDT-SWAP", time.Hour, domain.TriggerScheduled, 50000)

	// volatility trigger goes pending first
	if snap := s.RecordTickPrice("BTC-USDT-SWAP", 50500, 50, 2*time.Minute); snap == nil {
		t.Fatal("expected volatility trigger at 100 bps over basis")
	}
	// manual request must not replace it
	if !s.RequestManualTrigger("BTC-USDT-SWAP") {
		t.Fatal("manual trigger for known symbol rejected")
	}

	due := s.DueSymbols(clk.now, true)
	if len(due) != 1 || due[0].Source != domain.TriggerVolatility {
		t.Fatalf("expected single pending volatility trigger, got %v", due)
	}
}

func TestSchedulerVolatilityBasisSeeding(t *testing.T) {
	s, _ := newTestScheduler("BTC-USDT-SWAP")

	// first observation seeds the basis, no trigger regardless of threshold
	if snap := s.RecordTickPrice("BTC-USDT-SWAP", 50000, 1, time.Minute); snap != nil {
		t.Fatalf("first tick must seed basis, got trigger %+v", snap)
	}

	// 90 bps move over 50 bps threshold fires
	snap := s.RecordTickPrice("BTC-USDT-SWAP", 50450, 50, 0)
	if snap == nil {
		t.Fatal("expected trigger at 90 bps over basis")
	}
	if snap.BasePrice != 50000 || snap.PriceNow != 50450 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.DeltaBps < 89.9 || snap.DeltaBps > 90.1 {
		t.Errorf("expected ~90 bps delta, got %f", snap.DeltaBps)
	}
}

func TestSchedulerVolatilityBelowThreshold(t *testing.T) {
	s, _ := newTestScheduler("BTC-USDT-SWAP")
	s.MarkTriggerCompletion("BTC-USDT-SWAP", time.Hour, domain.TriggerScheduled, 50000)

	if snap := s.RecordTickPrice("BTC-USDT-SWAP", 50200, 50, 0); snap != nil {
		t.Fatalf("40 bps move under 50 bps threshold must not trigger, got %+v", snap)
	}
}

func TestSchedulerVolatilityNegativeDelta(t *testing.T) {
	s, _ := newTestScheduler("BTC-USDT-SWAP")
	s.MarkTriggerCompletion("BTC-USDT-SWAP", time.Hour, domain.TriggerScheduled, 50000)

	snap := s.RecordTickPrice("BTC-USDT-SWAP", 49500, 50, 0)
	if snap == nil {
		t.Fatal("expected trigger on downward move past threshold")
	}
	if snap.DeltaBps <= 0 {
		t.Errorf("delta must be absolute, got %f", snap.DeltaBps)
	}
}

func TestSchedulerVolatilityPendingSuppressed(t *testing.T) {
	s, _ := newTestScheduler("BTC-USDT-SWAP")
	s.MarkTriggerCompletion("BTC-USDT-SWAP", time.Hour, domain.TriggerScheduled, 50000)

	if snap := s.RecordTickPrice("BTC-USDT-SWAP", 51000, 50, 0); snap == nil {
		t.Fatal("expected first volatility trigger")
	}
	// second qualifying tick while one is in flight must not re-trigger
	if snap := s.RecordTickPrice("BTC-USDT-SWAP", 52000, 50, 0); snap != nil {
		t.Fatalf("pending volatility trigger must suppress re-trigger, got %+v", snap)
	}
}

func TestSchedulerDebounceOnlyAfterVolatilityTrigger(t *testing.T) {
	s, clk := newTestScheduler("BTC-USDT-SWAP")
	window := 2 * time.Minute

	// complete a volatility-sourced trigger: window applies
	s.MarkTriggerCompletion("BTC-USDT-SWAP", time.Hour, domain.TriggerVolatility, 50000)
	if snap := s.RecordTickPrice("BTC-USDT-SWAP", 51000, 50, window); snap != nil {
		t.Fatalf("tick inside debounce window must not trigger, got %+v", snap)
	}

	clk.advance(window + time.Second)
	if snap := s.RecordTickPrice("BTC-USDT-SWAP", 51000, 50, window); snap == nil {
		t.Fatal("expected trigger once debounce window expired")
	}
}

func TestSchedulerNoDebounceAfterScheduledTrigger(t *testing.T) {
	s, _ := newTestScheduler("BTC-USDT-SWAP")
	window := 2 * time.Minute

	// scheduled completion just now: window must NOT suppress
	s.MarkTriggerCompletion("BTC-USDT-SWAP", time.Hour, domain.TriggerScheduled, 50000)
	if snap := s.RecordTickPrice("BTC-USDT-SWAP", 51000, 50, window); snap == nil {
		t.Fatal("debounce only applies after volatility-sourced triggers")
	}
}

func TestSchedulerSyncRemovesSymbols(t *testing.T) {
	s, clk := newTestScheduler("BTC-USDT-SWAP", "ETH-USDT-SWAP")

	s.SyncSymbolStates([]string{"BTC-USDT-SWAP"})

	due := s.DueSymbols(clk.now, true)
	if len(due) != 1 || due[0].InstID != "BTC-USDT-SWAP" {
		t.Fatalf("expected only BTC-USDT-SWAP after sync, got %v", due)
	}
	if _, ok := s.Snapshot("ETH-USDT-SWAP"); ok {
		t.Error("removed symbol still has state")
	}
	// ticks for removed symbols are ignored
	if snap := s.RecordTickPrice("ETH-USDT-SWAP", 3000, 1, 0); snap != nil {
		t.Errorf("tick for removed symbol must be ignored, got %+v", snap)
	}
}

func TestSchedulerSyncKeepsExistingState(t *testing.T) {
	s, clk := newTestScheduler("BTC-USDT-SWAP")
	s.MarkTriggerCompletion("BTC-USDT-SWAP", time.Hour, domain.TriggerScheduled, 50000)

	s.SyncSymbolStates([]string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"})

	due := s.DueSymbols(clk.now, true)
	if len(due) != 1 || due[0].InstID != "ETH-USDT-SWAP" {
		t.Fatalf("existing symbol must keep its schedule, got %v", due)
	}
}

func TestSchedulerCompletionKeepsBasisWithoutPrice(t *testing.T) {
	s, _ := newTestScheduler("BTC-USDT-SWAP")
	s.MarkTriggerCompletion("BTC-USDT-SWAP", time.Hour, domain.TriggerScheduled, 50000)

	// completion with no observed price keeps the old basis
	s.MarkTriggerCompletion("BTC-USDT-SWAP", time.Hour, domain.TriggerScheduled, 0)

	snap, ok := s.Snapshot("BTC-USDT-SWAP")
	if !ok {
		t.Fatal("missing snapshot")
	}
	if snap.LastTriggerPrice != 50000 {
		t.Errorf("expected basis 50000 preserved, got %f", snap.LastTriggerPrice)
	}
}

func TestSchedulerNextDueInstant(t *testing.T) {
	s, clk := newTestScheduler("BTC-USDT-SWAP", "ETH-USDT-SWAP")
	s.MarkTriggerCompletion("BTC-USDT-SWAP", time.Hour, domain.TriggerScheduled, 0)
	s.MarkTriggerCompletion("ETH-USDT-SWAP", 10*time.Minute, domain.TriggerScheduled, 0)

	next, ok := s.NextDueInstant()
	if !ok {
		t.Fatal("expected a next due instant")
	}
	if want := clk.now.Add(10 * time.Minute); !next.Equal(want) {
		t.Errorf("expected earliest instant %v, got %v", want, next)
	}
}
