package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tradepulse/internal/application/port"
	"tradepulse/internal/domain"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS orders (
  ord_id        TEXT PRIMARY KEY,
  inst_id       TEXT NOT NULL,
  side          TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
  order_type    TEXT NOT NULL,
  price         DOUBLE PRECISION,
  size          DOUBLE PRECISION NOT NULL,
  filled_size   DOUBLE PRECISION,
  status        TEXT NOT NULL,
  td_mode       TEXT,
  pos_side      TEXT,
  leverage      DOUBLE PRECISION,
  action_kind   TEXT,
  raw           JSONB NOT NULL DEFAULT '{}'::jsonb,
  last_event_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  closed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS trades (
  id            BIGSERIAL PRIMARY KEY,
  ord_id        TEXT NOT NULL,
  trade_id      TEXT NOT NULL,
  fingerprint   TEXT NOT NULL UNIQUE,
  inst_id       TEXT NOT NULL,
  side          TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
  td_mode       TEXT,
  pos_side      TEXT,
  filled_size   DOUBLE PRECISION NOT NULL,
  fill_price    DOUBLE PRECISION,
  fee           DOUBLE PRECISION,
  realized_pnl  DOUBLE PRECISION,
  ts            TIMESTAMPTZ NOT NULL,
  raw           JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_trades_ord_id ON trades(ord_id);

CREATE TABLE IF NOT EXISTS positions (
  id             BIGSERIAL PRIMARY KEY,
  inst_id        TEXT NOT NULL,
  pos_side       TEXT NOT NULL,
  td_mode        TEXT,
  size           DOUBLE PRECISION NOT NULL DEFAULT 0,
  avg_price      DOUBLE PRECISION,
  mark_price     DOUBLE PRECISION,
  margin         DOUBLE PRECISION,
  unrealized_pnl DOUBLE PRECISION,
  last_trade_at  TIMESTAMPTZ,
  closed_at      TIMESTAMPTZ,
  raw            JSONB NOT NULL DEFAULT '{}'::jsonb,
  updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (inst_id, pos_side)
);

CREATE TABLE IF NOT EXISTS strategy_messages (
  id         BIGSERIAL PRIMARY KEY,
  summary    TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

// UpsertOrderEvent 按 ord_id 幂等：同一订单重复投递不新增行，后到状态覆盖。
func (r *Repo) UpsertOrderEvent(ctx context.Context, event *domain.OrderEvent) error {
	raw := event.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO orders (ord_id, inst_id, side, order_type, price, size, filled_size, status,
                    td_mode, pos_side, leverage, action_kind, raw, last_event_at, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(),
        CASE WHEN $14 THEN now() ELSE NULL END)
ON CONFLICT (ord_id) DO UPDATE SET
  status        = EXCLUDED.status,
  filled_size   = COALESCE(EXCLUDED.filled_size, orders.filled_size),
  price         = COALESCE(EXCLUDED.price, orders.price),
  td_mode       = COALESCE(EXCLUDED.td_mode, orders.td_mode),
  pos_side      = COALESCE(EXCLUDED.pos_side, orders.pos_side),
  leverage      = COALESCE(EXCLUDED.leverage, orders.leverage),
  action_kind   = COALESCE(EXCLUDED.action_kind, orders.action_kind),
  raw           = EXCLUDED.raw,
  last_event_at = now(),
  closed_at     = CASE WHEN $14 THEN COALESCE(orders.closed_at, now()) ELSE orders.closed_at END`,
		event.OrdID, event.InstID, event.Side, event.OrderType, event.Price, event.Size,
		event.FilledSize, event.Status, event.TdMode, event.PosSide, event.Leverage,
		event.ActionKind, string(raw), event.Terminal())
	return err
}

// InsertTradeRecord fingerprint 已存在时静默跳过（历史重扫会重复投递同一笔成交）。
func (r *Repo) InsertTradeRecord(ctx context.Context, record *domain.TradeRecord) error {
	raw := record.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO trades (ord_id, trade_id, fingerprint, inst_id, side, td_mode, pos_side,
                    filled_size, fill_price, fee, realized_pnl, ts, raw)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (fingerprint) DO NOTHING`,
		record.OrdID, record.TradeID, record.Fingerprint, record.InstID, record.Side,
		record.TdMode, record.PosSide, record.FilledSize, record.FillPrice, record.Fee,
		record.RealizedPnl, record.Ts, string(raw))
	return err
}

func (r *Repo) UpsertPositionSnapshot(ctx context.Context, snapshot *domain.PositionSnapshot) error {
	raw := snapshot.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO positions (inst_id, pos_side, td_mode, size, avg_price, mark_price, margin,
                       unrealized_pnl, last_trade_at, closed_at, raw, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (inst_id, pos_side) DO UPDATE SET
  td_mode        = COALESCE(EXCLUDED.td_mode, positions.td_mode),
  size           = EXCLUDED.size,
  avg_price      = EXCLUDED.avg_price,
  mark_price     = EXCLUDED.mark_price,
  margin         = EXCLUDED.margin,
  unrealized_pnl = EXCLUDED.unrealized_pnl,
  last_trade_at  = COALESCE(EXCLUDED.last_trade_at, positions.last_trade_at),
  closed_at      = EXCLUDED.closed_at,
  raw            = EXCLUDED.raw,
  updated_at     = now()`,
		snapshot.InstID, snapshot.PosSide, snapshot.TdMode, snapshot.Size, snapshot.AvgPrice,
		snapshot.MarkPrice, snapshot.Margin, snapshot.UnrealizedPnl, snapshot.LastTradeAt,
		snapshot.ClosedAt, string(raw))
	return err
}

func (r *Repo) OpenPositionSnapshots(ctx context.Context, instIDs []string) ([]*domain.PositionSnapshot, error) {
	query := `
SELECT inst_id, pos_side, td_mode, size, avg_price, mark_price, margin, unrealized_pnl, last_trade_at
FROM positions
WHERE closed_at IS NULL`
	args := make([]interface{}, 0, len(instIDs))
	if len(instIDs) > 0 {
		placeholders := make([]string, len(instIDs))
		for i, id := range instIDs {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, id)
		}
		query += " AND inst_id IN (" + strings.Join(placeholders, ", ") + ")"
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*domain.PositionSnapshot
	for rows.Next() {
		var (
			s                     domain.PositionSnapshot
			tdMode                sql.NullString
			avg, mark, margin, up sql.NullFloat64
			lastTrade             sql.NullTime
		)
		if err := rows.Scan(&s.InstID, &s.PosSide, &tdMode, &s.Size, &avg, &mark, &margin, &up, &lastTrade); err != nil {
			return nil, err
		}
		if tdMode.Valid {
			v := tdMode.String
			s.TdMode = &v
		}
		s.AvgPrice = nullFloat(avg)
		s.MarkPrice = nullFloat(mark)
		s.Margin = nullFloat(margin)
		s.UnrealizedPnl = nullFloat(up)
		if lastTrade.Valid {
			t := lastTrade.Time
			s.LastTradeAt = &t
		}
		snapshots = append(snapshots, &s)
	}
	return snapshots, rows.Err()
}

func (r *Repo) MarkPositionClosed(ctx context.Context, instID, posSide string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE positions SET closed_at = now(), updated_at = now()
WHERE inst_id = $1 AND pos_side = $2 AND closed_at IS NULL`,
		instID, posSide)
	return err
}

func (r *Repo) InsertStrategyMessage(ctx context.Context, summary string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO strategy_messages (summary, created_at) VALUES ($1, $2)`,
		summary, time.Now().UTC())
	return err
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

var _ port.Repository = (*Repo)(nil)
