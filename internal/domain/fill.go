package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TradeRecord 单笔成交记录，Fingerprint 为去重键
type TradeRecord struct {
	OrdID       string          `json:"ord_id"`
	TradeID     string          `json:"trade_id"`
	Fingerprint string          `json:"fingerprint"`
	InstID      string          `json:"inst_id"`
	Side        string          `json:"side"`
	TdMode      *string         `json:"td_mode,omitempty"`
	PosSide     *string         `json:"pos_side,omitempty"`
	FilledSize  float64         `json:"filled_size"`
	FillPrice   *float64        `json:"fill_price,omitempty"`
	Fee         *float64        `json:"fee,omitempty"`
	RealizedPnl *float64        `json:"realized_pnl,omitempty"`
	Ts          time.Time       `json:"ts"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// FillFingerprint computes the content hash used to deduplicate fills.
// History rescans re-deliver the same fill; two fills with the same order id,
// trade id, timestamp, size and price are the same fill.
func FillFingerprint(ordID, tradeID, ts, fillSz, fillPx string) string {
	h := sha256.New()
	h.Write([]byte(ordID))
	h.Write([]byte(tradeID))
	h.Write([]byte(ts))
	h.Write([]byte(fillSz))
	h.Write([]byte(fillPx))
	return hex.EncodeToString(h.Sum(nil))
}
