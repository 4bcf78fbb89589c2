package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradepulse/internal/domain"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func ptr[T any](v T) *T { return &v }

func TestUpsertOrderEventIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	event := &domain.OrderEvent{
		OrdID:     "ord-1",
		InstID:    "BTC-USDT-SWAP",
		Side:      "buy",
		OrderType: "market",
		Size:      1.5,
		Status:    "live",
	}
	if err := repo.UpsertOrderEvent(ctx, event); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	event.Status = "filled"
	event.FilledSize = ptr(1.5)
	if err := repo.UpsertOrderEvent(ctx, event); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	var count int
	if err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 order row, got %d", count)
	}

	var status string
	var closedMs *int64
	row := repo.db.QueryRowContext(ctx, `SELECT status, closed_ms FROM orders WHERE ord_id = 'ord-1'`)
	if err := row.Scan(&status, &closedMs); err != nil {
		t.Fatal(err)
	}
	if status != "filled" {
		t.Errorf("later state must win, got %q", status)
	}
	if closedMs == nil {
		t.Error("terminal status must stamp closed_ms")
	}
}

func TestInsertTradeRecordDeduplicates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	record := &domain.TradeRecord{
		OrdID:       "ord-1",
		TradeID:     "t-1",
		Fingerprint: domain.FillFingerprint("ord-1", "t-1", "1700000000000", "1.5", "50000"),
		InstID:      "BTC-USDT-SWAP",
		Side:        "buy",
		FilledSize:  1.5,
		Ts:          time.Now(),
	}
	for i := 0; i < 3; i++ {
		if err := repo.InsertTradeRecord(ctx, record); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}

	var count int
	if err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 trade row after duplicate inserts, got %d", count)
	}
}

func TestPositionLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	snap := &domain.PositionSnapshot{
		InstID:   "BTC-USDT-SWAP",
		PosSide:  "long",
		Size:     2,
		AvgPrice: ptr(50000.0),
	}
	if err := repo.UpsertPositionSnapshot(ctx, snap); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	open, err := repo.OpenPositionSnapshots(ctx, []string{"BTC-USDT-SWAP"})
	if err != nil {
		t.Fatalf("open query failed: %v", err)
	}
	if len(open) != 1 || open[0].InstID != "BTC-USDT-SWAP" || open[0].PosSide != "long" {
		t.Fatalf("unexpected open positions: %+v", open)
	}
	if open[0].AvgPrice == nil || *open[0].AvgPrice != 50000 {
		t.Errorf("avg price not round-tripped: %v", open[0].AvgPrice)
	}

	if err := repo.MarkPositionClosed(ctx, "BTC-USDT-SWAP", "long"); err != nil {
		t.Fatalf("mark closed failed: %v", err)
	}
	open, err = repo.OpenPositionSnapshots(ctx, nil)
	if err != nil {
		t.Fatalf("open query failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("closed position still reported open: %+v", open)
	}
}

func TestOpenPositionSnapshotsFiltersInstIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, instID := range []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"} {
		snap := &domain.PositionSnapshot{InstID: instID, PosSide: "long", Size: 1}
		if err := repo.UpsertPositionSnapshot(ctx, snap); err != nil {
			t.Fatalf("upsert %s failed: %v", instID, err)
		}
	}

	open, err := repo.OpenPositionSnapshots(ctx, []string{"ETH-USDT-SWAP"})
	if err != nil {
		t.Fatalf("open query failed: %v", err)
	}
	if len(open) != 1 || open[0].InstID != "ETH-USDT-SWAP" {
		t.Errorf("filter not applied: %+v", open)
	}
}

func TestUpsertPositionReopens(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	snap := &domain.PositionSnapshot{InstID: "BTC-USDT-SWAP", PosSide: "long", Size: 1}
	if err := repo.UpsertPositionSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkPositionClosed(ctx, "BTC-USDT-SWAP", "long"); err != nil {
		t.Fatal(err)
	}
	// a fresh snapshot without closed_at reopens the row
	if err := repo.UpsertPositionSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}

	open, err := repo.OpenPositionSnapshots(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Errorf("reopened position must be reported open, got %d", len(open))
	}
}

func TestInsertStrategyMessage(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.InsertStrategyMessage(ctx, "hold position"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var summary string
	if err := repo.db.QueryRowContext(ctx, `SELECT summary FROM strategy_messages`).Scan(&summary); err != nil {
		t.Fatal(err)
	}
	if summary != "hold position" {
		t.Errorf("unexpected summary %q", summary)
	}
}
