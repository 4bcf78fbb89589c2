package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tradepulse/internal/application/port"
	"tradepulse/internal/domain"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  side          TEXT NOT NULL,
  order_type    TEXT NOT NULL,
  price         REAL,
  size          REAL NOT NULL,
  filled_size   REAL,
  status        TEXT NOT NULL,
  td_mode       TEXT,
  pos_side      TEXT,
  leverage      REAL,
  action_kind   TEXT,
  raw           TEXT NOT NULL DEFAULT '{}',
  last_event_ms INTEGER NOT NULL,
  created_ms    INTEGER NOT NULL,
  closed_ms     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_orders_inst ON orders(inst_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS trades (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  ord_id       TEXT NOT NULL,
  trade_id     TEXT NOT NULL,
  fingerprint  TEXT NOT NULL UNIQUE,
  inst_id      TEXT NOT NULL,
  side         TEXT NOT NULL,
  td_mode      TEXT,
  pos_side     TEXT,
  filled_size  REAL NOT NULL,
  fill_price   REAL,
  fee          REAL,
  realized_pnl REAL,
  ts_ms        INTEGER NOT NULL,
  raw          TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_trades_ord ON trades(ord_id);

CREATE TABLE IF NOT EXISTS positions (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  inst_id        TEXT NOT NULL,
  pos_side       TEXT NOT NULL,
  td_mode        TEXT,
  size           REAL NOT NULL DEFAULT 0,
  avg_price      REAL,
  mark_price     REAL,
  margin         REAL,
  unrealized_pnl REAL,
  last_trade_ms  INTEGER,
  closed_ms      INTEGER,
  raw            TEXT NOT NULL DEFAULT '{}',
  updated_ms     INTEGER NOT NULL,
  UNIQUE(inst_id, pos_side)
);
CREATE INDEX IF NOT EXISTS idx_positions_inst ON positions(inst_id);

CREATE TABLE IF NOT EXISTS strategy_messages (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  summary    TEXT NOT NULL,
  created_ms INTEGER NOT NULL
);
`)
	return err
}

func (r *Repo) UpsertOrderEvent(ctx context.Context, event *domain.OrderEvent) error {
	raw := event.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	now := time.Now().UnixMilli()
	var closedMs *int64
	if event.Terminal() {
		closedMs = &now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders(ord_id, inst_id, side, order_type, price, size, filled_size, status,
		                   td_mode, pos_side, leverage, action_kind, raw, last_event_ms, created_ms, closed_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ord_id) DO UPDATE SET
		status=excluded.status,
		filled_size=COALESCE(excluded.filled_size, orders.filled_size),
		price=COALESCE(excluded.price, orders.price),
		td_mode=COALESCE(excluded.td_mode, orders.td_mode),
		pos_side=COALESCE(excluded.pos_side, orders.pos_side),
		leverage=COALESCE(excluded.leverage, orders.leverage),
		action_kind=COALESCE(excluded.action_kind, orders.action_kind),
		raw=excluded.raw,
		last_event_ms=excluded.last_event_ms,
		closed_ms=COALESCE(orders.closed_ms, excluded.closed_ms)
	`, event.OrdID, event.InstID, event.Side, event.OrderType, event.Price, event.Size,
		event.FilledSize, event.Status, event.TdMode, event.PosSide, event.Leverage,
		event.ActionKind, string(raw), now, now, closedMs)
	return err
}

func (r *Repo) InsertTradeRecord(ctx context.Context, record *domain.TradeRecord) error {
	raw := record.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades(ord_id, trade_id, fingerprint, inst_id, side, td_mode, pos_side,
		                   filled_size, fill_price, fee, realized_pnl, ts_ms, raw)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, record.OrdID, record.TradeID, record.Fingerprint, record.InstID, record.Side,
		record.TdMode, record.PosSide, record.FilledSize, record.FillPrice, record.Fee,
		record.RealizedPnl, record.Ts.UnixMilli(), string(raw))
	return err
}

func (r *Repo) UpsertPositionSnapshot(ctx context.Context, snapshot *domain.PositionSnapshot) error {
	raw := snapshot.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	now := time.Now().UnixMilli()
	var lastTradeMs, closedMs *int64
	if snapshot.LastTradeAt != nil {
		ms := snapshot.LastTradeAt.UnixMilli()
		lastTradeMs = &ms
	}
	if snapshot.ClosedAt != nil {
		ms := snapshot.ClosedAt.UnixMilli()
		closedMs = &ms
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions(inst_id, pos_side, td_mode, size, avg_price, mark_price, margin,
		                      unrealized_pnl, last_trade_ms, closed_ms, raw, updated_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(inst_id, pos_side) DO UPDATE SET
		td_mode=COALESCE(excluded.td_mode, positions.td_mode),
		size=excluded.size,
		avg_price=excluded.avg_price,
		mark_price=excluded.mark_price,
		margin=excluded.margin,
		unrealized_pnl=excluded.unrealized_pnl,
		last_trade_ms=COALESCE(excluded.last_trade_ms, positions.last_trade_ms),
		closed_ms=excluded.closed_ms,
		raw=excluded.raw,
		updated_ms=excluded.updated_ms
	`, snapshot.InstID, snapshot.PosSide, snapshot.TdMode, snapshot.Size, snapshot.AvgPrice,
		snapshot.MarkPrice, snapshot.Margin, snapshot.UnrealizedPnl, lastTradeMs, closedMs,
		string(raw), now)
	return err
}

func (r *Repo) OpenPositionSnapshots(ctx context.Context, instIDs []string) ([]*domain.PositionSnapshot, error) {
	query := `
		SELECT inst_id, pos_side, td_mode, size, avg_price, mark_price, margin, unrealized_pnl, last_trade_ms
		FROM positions WHERE closed_ms IS NULL`
	args := make([]interface{}, 0, len(instIDs))
	if len(instIDs) > 0 {
		query += " AND inst_id IN (?" + strings.Repeat(", ?", len(instIDs)-1) + ")"
		for _, id := range instIDs {
			args = append(args, id)
		}
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
			lastTradeMs           sql.NullInt64
		)
		if err := rows.Scan(&s.InstID, &s.PosSide, &tdMode, &s.Size, &avg, &mark, &margin, &up, &lastTradeMs); err != nil {
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
		if lastTradeMs.Valid {
			t := time.UnixMilli(lastTradeMs.Int64)
			s.LastTradeAt = &t
		}
		snapshots = append(snapshots, &s)
	}
	return snapshots, rows.Err()
}

func (r *Repo) MarkPositionClosed(ctx context.Context, instID, posSide string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.ExecContext(ctx, `
		UPDATE positions SET closed_ms=?, updated_ms=?
		WHERE inst_id=? AND pos_side=? AND closed_ms IS NULL
	`, now, now, instID, posSide)
	return err
}

func (r *Repo) InsertStrategyMessage(ctx context.Context, summary string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO strategy_messages(summary, created_ms) VALUES(?, ?)`,
		summary, time.Now().UnixMilli())
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
