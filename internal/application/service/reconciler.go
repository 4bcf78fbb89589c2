package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tradepulse/internal/application/port"
	"tradepulse/internal/domain"
	"tradepulse/internal/infrastructure/metrics"
)

// ErrOrderNotFound 穷尽历史扫描与成交回溯后仍未找到订单
var ErrOrderNotFound = errors.New("order not found in exchange history")

const (
	defaultInstType       = "SWAP"
	orderHistoryPageLimit = 100
	fillFetchLimit        = 50
)

// ReconcilerConfig 对账引擎配置
type ReconcilerConfig struct {
	InstIDs       []string
	SweepInterval time.Duration // 周期性持仓 sweep 间隔
}

// Reconciler 把交易所订单/成交/持仓数据对账进持久层：
// 订单按 ordId 幂等，成交按 fingerprint 去重，持仓 sweep 检测外部平仓。
type Reconciler struct {
	client port.ExchangeClient
	repo   port.Repository
	clock  port.Clock
	cfg    ReconcilerConfig
}

func NewReconciler(client port.ExchangeClient, repo port.Repository, clock port.Clock, cfg ReconcilerConfig) *Reconciler {
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &Reconciler{client: client, repo: repo, clock: clock, cfg: cfg}
}

// ProcessOrderEvent 处理 agent 推送的 ordId 事件：
// 逐个配置的 instId 扫描订单历史；找不到时用成交记录反查 instId 再试一次；
// 落库订单与成交后触发一次全量持仓 sweep。
func (r *Reconciler) ProcessOrderEvent(ctx context.Context, ordID string) error {
	var (
		entry      *port.OrderHistoryEntry
		fillsCache []port.FillDetail
	)

	for _, instID := range r.cfg.InstIDs {
		found, err := r.findOrderInHistory(ctx, instID, ordID)
		if err != nil {
			return fmt.Errorf("order history scan %s: %w", instID, err)
		}
		if found != nil {
			entry = found
			break
		}
	}

	if entry == nil {
		log.Warn().Str("ord_id", ordID).Msg("order not in initial history scan, trying fill-based lookup")
		fills, err := r.client.GetFills(ctx, "", ordID, fillFetchLimit)
		if err != nil {
			log.Warn().Err(err).Str("ord_id", ordID).Msg("fallback fill fetch failed")
		} else if len(fills) > 0 {
			instID := fills[0].InstID
			log.Debug().Str("ord_id", ordID).Str("inst_id", instID).Msg("retrying history lookup with fill inst_id")
			found, err := r.findOrderInHistory(ctx, instID, ordID)
			if err != nil {
				return fmt.Errorf("order history retry %s: %w", instID, err)
			}
			if found != nil {
				entry = found
				fillsCache = fills
			}
		}
	}

	if entry == nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, ordID)
	}

	event, err := orderEventFromEntry(entry)
	if err != nil {
		return fmt.Errorf("convert order %s: %w", ordID, err)
	}
	if err := r.repo.UpsertOrderEvent(ctx, event); err != nil {
		return fmt.Errorf("upsert order %s: %w", ordID, err)
	}
	metrics.OrdersReconciled.Inc()

	fills := fillsCache
	if fills == nil {
		fills, err = r.client.GetFills(ctx, entry.InstID, ordID, fillFetchLimit)
		if err != nil {
			return fmt.Errorf("fetch fills %s: %w", ordID, err)
		}
	}

	for i := range fills {
		record, err := tradeRecordFromFill(ordID, entry, &fills[i], r.clock.Now())
		if err != nil {
			return fmt.Errorf("convert fill %s: %w", ordID, err)
		}
		if err := r.repo.InsertTradeRecord(ctx, record); err != nil {
			return fmt.Errorf("insert trade %s: %w", ordID, err)
		}
		metrics.FillsRecorded.Inc()
	}

	return r.SyncPositions(ctx)
}

// RunPeriodicSync 周期性运行持仓 sweep，防止 agent 只推一次 ordId 时状态无法补全。
func (r *Reconciler) RunPeriodicSync(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SyncPositions(ctx); err != nil {
				log.Warn().Err(err).Msg("periodic position sync failed")
			}
		}
	}
}

// SyncPositions 全量持仓 sweep：落库交易所当前持仓；
// 库中仍开放但本轮未见到的持仓判定为外部平仓（强平/手工/止损），补写 closed_at。
func (r *Reconciler) SyncPositions(ctx context.Context) error {
	positions, err := r.client.GetPositions(ctx, defaultInstType)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	allowed := make(map[string]struct{}, len(r.cfg.InstIDs))
	for _, id := range r.cfg.InstIDs {
		allowed[id] = struct{}{}
	}

	seen := make(map[domain.PositionKey]struct{})
	for i := range positions {
		detail := &positions[i]
		if _, ok := allowed[detail.InstID]; !ok {
			continue
		}
		snapshot, err := positionSnapshotFromDetail(detail, r.clock.Now())
		if err != nil {
			return fmt.Errorf("convert position %s: %w", detail.InstID, err)
		}
		seen[snapshot.Key()] = struct{}{}
		if err := r.repo.UpsertPositionSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("upsert position %s/%s: %w", snapshot.InstID, snapshot.PosSide, err)
		}
	}

	stored, err := r.repo.OpenPositionSnapshots(ctx, r.cfg.InstIDs)
	if err != nil {
		return fmt.Errorf("fetch open snapshots: %w", err)
	}
	for _, snapshot := range stored {
		if _, ok := seen[snapshot.Key()]; ok {
			continue
		}
		if err := r.repo.MarkPositionClosed(ctx, snapshot.InstID, snapshot.PosSide); err != nil {
			log.Warn().Err(err).
				Str("inst_id", snapshot.InstID).
				Str("pos_side", snapshot.PosSide).
				Msg("failed to close missing position")
			continue
		}
		metrics.PositionsClosedBySweep.Inc()
		log.Info().
			Str("inst_id", snapshot.InstID).
			Str("pos_side", snapshot.PosSide).
			Msg("position vanished from exchange, marked closed")
	}
	return nil
}

func (r *Reconciler) findOrderInHistory(ctx context.Context, instID, ordID string) (*port.OrderHistoryEntry, error) {
	entries, err := r.client.GetOrderHistory(ctx, defaultInstType, instID, ordID, orderHistoryPageLimit)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("inst_id", instID).Str("ord_id", ordID).Int("fetched", len(entries)).Msg("scanned order history page")
	for i := range entries {
		if entries[i].OrdID == ordID {
			return &entries[i], nil
		}
	}
	return nil, nil
}

func orderEventFromEntry(entry *port.OrderHistoryEntry) (*domain.OrderEvent, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	size := parseNumber(entry.Sz)
	filled := parseNumber(entry.AccFillSz)
	price := parseNumberPtr(entry.Px)
	if price == nil {
		price = parseNumberPtr(entry.FillPx)
	}

	event := &domain.OrderEvent{
		OrdID:      entry.OrdID,
		InstID:     entry.InstID,
		Side:       entry.Side,
		OrderType:  entry.OrdType,
		Price:      price,
		Size:       size,
		FilledSize: &filled,
		Status:     entry.State,
		TdMode:     optionalString(entry.TdMode),
		PosSide:    optionalString(entry.PosSide),
		Leverage:   parseNumberPtr(entry.Lever),
		ActionKind: determineActionKind(entry),
		Raw:        raw,
	}
	return event, nil
}

// determineActionKind reduce-only 或 tag 标注的订单视为平仓动作
func determineActionKind(entry *port.OrderHistoryEntry) *string {
	if entry.ReduceOnly == "true" || strings.EqualFold(entry.Tag, "reduceOnly") {
		kind := "exit"
		return &kind
	}
	return nil
}

func tradeRecordFromFill(ordID string, entry *port.OrderHistoryEntry, fill *port.FillDetail, now time.Time) (*domain.TradeRecord, error) {
	raw, err := json.Marshal(fill)
	if err != nil {
		return nil, err
	}

	fingerprint := domain.FillFingerprint(entry.OrdID, fill.TradeID, fill.Ts, fill.FillSz, fill.FillPx)
	tradeID := fill.TradeID
	if tradeID == "" {
		tradeID = fingerprint
	}
	side := fill.Side
	if side == "" {
		side = entry.Side
	}
	ts := parseTimestampMs(fill.Ts)
	if ts == nil {
		ts = &now
	}

	return &domain.TradeRecord{
		OrdID:       ordID,
		TradeID:     tradeID,
		Fingerprint: fingerprint,
		InstID:      entry.InstID,
		Side:        side,
		TdMode:      optionalString(entry.TdMode),
		PosSide:     optionalString(entry.PosSide),
		FilledSize:  parseNumber(fill.FillSz),
		FillPrice:   parseNumberPtr(fill.FillPx),
		Fee:         parseNumberPtr(fill.Fee),
		RealizedPnl: parseNumberPtr(fill.FillPnl),
		Ts:          *ts,
		Raw:         raw,
	}, nil
}

func positionSnapshotFromDetail(detail *port.PositionDetail, now time.Time) (*domain.PositionSnapshot, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}

	posSide := strings.TrimSpace(detail.PosSide)
	if posSide == "" {
		posSide = "net"
	}
	size := parseNumber(detail.Pos)

	snapshot := &domain.PositionSnapshot{
		InstID:        detail.InstID,
		PosSide:       posSide,
		TdMode:        optionalString(detail.InstType),
		Size:          size,
		AvgPrice:      parseNumberPtr(detail.AvgPx),
		MarkPrice:     parseNumberPtr(detail.MarkPx),
		Margin:        parseNumberPtr(detail.Margin),
		UnrealizedPnl: parseNumberPtr(detail.Upl),
		LastTradeAt:   parseTimestampMs(detail.CTime),
		Raw:           raw,
	}
	if size == 0 {
		snapshot.ClosedAt = &now
	}
	return snapshot, nil
}

func parseNumber(text string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

func parseNumberPtr(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func optionalString(text string) *string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return &text
}

func parseTimestampMs(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		if t, perr := time.Parse(time.RFC3339, text); perr == nil {
			return &t
		}
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
