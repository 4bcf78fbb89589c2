// Package agent maintains the persistent duplex websocket channel to the
// external analysis service. Callers block on TriggerAnalysis while the
// channel matches inbound results to outstanding requests in strict FIFO
// order; unsolicited order-update pushes are handed to the reconciliation
// engine.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tradepulse/internal/application/port"
	"tradepulse/internal/domain"
	"tradepulse/internal/infrastructure/metrics"
)

var (
	// ErrChannelUnavailable 通道从未建立成功
	ErrChannelUnavailable = errors.New("agent channel not established")
	// ErrAnalysisTimeout 等待分析结果超时
	ErrAnalysisTimeout = errors.New("analysis response timeout")
	// ErrChannelClosed 等待期间连接断开
	ErrChannelClosed = errors.New("agent channel closed before response")
)

// OrderEventHandler 收到 order_update 推送后的回调（按 ordId 对账）
type OrderEventHandler func(ctx context.Context, ordID string)

// Config 通道配置
type Config struct {
	BaseURL         string        // http(s) 基址，改写为 ws(s)://…/agent/events/ws
	ReconnectDelay  time.Duration // 两次连接尝试之间的固定间隔
	AnalysisTimeout time.Duration // TriggerAnalysis 的等待上限
	WriteTimeout    time.Duration
}

type analysisOutcome struct {
	result domain.AnalysisResult
	err    error
}

// pendingRequest FIFO 队列中的单次响应槽
type pendingRequest struct {
	requestID string
	ch        chan analysisOutcome // buffered(1)，投递永不阻塞
	abandoned atomic.Bool          // 调用方已超时放弃，槽位仍占据队列序位
}

// Channel 与分析服务的关联通道
type Channel struct {
	cfg     Config
	handler OrderEventHandler
	repo    port.Repository

	outbound chan outgoingMessage

	mu      sync.Mutex
	pending []*pendingRequest

	established atomic.Bool
	clock       port.Clock
}

func New(cfg Config, repo port.Repository, handler OrderEventHandler, clock port.Clock) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &Channel{
		cfg:      cfg,
		handler:  handler,
		repo:     repo,
		outbound: make(chan outgoingMessage, 64),
		clock:    clock,
	}
}

// EventsURL 把 http(s) 基址改写为 websocket 事件端点。
func EventsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse agent base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/agent/events/ws"
	return u.String(), nil
}

// Run 永久运行连接循环：断开后按固定间隔重连，直到 ctx 取消。
func (c *Channel) Run(ctx context.Context) {
	wsURL, err := EventsURL(c.cfg.BaseURL)
	if err != nil {
		log.Error().Err(err).Str("base_url", c.cfg.BaseURL).Msg("invalid agent base url, channel disabled")
		return
	}

	log.Info().Str("url", wsURL).Msg("starting agent websocket channel")

	for {
		if ctx.Err() != nil {
			return
		}

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
		cancel()
		if err != nil {
			metrics.AgentReconnects.Inc()
			log.Warn().Err(err).Msg("agent websocket dial failed")
		} else {
			c.established.Store(true)
			log.Info().Msg("connected to agent websocket")
			err = c.duplexLoop(ctx, conn)
			_ = conn.Close()
			c.failPending(ErrChannelClosed)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("agent websocket session ended")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
			log.Info().Msg("reconnecting to agent websocket")
		}
	}
}

// duplexLoop 单条连接上的收发循环：读由独立 goroutine 推入，写在本循环串行执行。
func (c *Channel) duplexLoop(ctx context.Context, conn *websocket.Conn) error {
	inbound := make(chan []byte, 16)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	// 协议层 ping 由 gorilla 默认 PingHandler 在读循环内自动回 pong
	go func() {
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			select {
			case inbound <- payload:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case payload := <-inbound:
			if err := c.handleMessage(ctx, payload); err != nil {
				log.Warn().Err(err).Msg("failed to process agent message")
			}
		case msg := <-c.outbound:
			body, err := json.Marshal(msg)
			if err != nil {
				log.Warn().Err(err).Msg("failed to serialize outgoing agent message")
				continue
			}
			_ = conn.SetWriteDeadline(c.clock.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return fmt.Errorf("write trigger message: %w", err)
			}
			log.Debug().RawJSON("message", body).Msg("sent message to agent")
		}
	}
}

// TriggerAnalysis 入队一个响应槽、发送触发消息并等待按 FIFO 匹配到的结果。
func (c *Channel) TriggerAnalysis(ctx context.Context) (domain.AnalysisResult, error) {
	if !c.established.Load() {
		return domain.AnalysisResult{}, ErrChannelUnavailable
	}

	req := &pendingRequest{
		requestID: uuid.NewString(),
		ch:        make(chan analysisOutcome, 1),
	}
	c.mu.Lock()
	c.pending = append(c.pending, req)
	c.mu.Unlock()

	msg := outgoingMessage{Type: "trigger_analysis", RequestID: req.requestID}
	select {
	case c.outbound <- msg:
	case <-ctx.Done():
		// 触发消息从未发出，远端没有对应请求，槽位必须整个撤出队列，
		// 否则下一个入站结果会落进这个空槽
		c.removePending(req)
		return domain.AnalysisResult{}, ctx.Err()
	}

	log.Info().Str("request_id", req.requestID).Msg("triggered strategy analysis via websocket")

	timer := time.NewTimer(c.cfg.AnalysisTimeout)
	defer timer.Stop()
	select {
	case out := <-req.ch:
		return out.result, out.err
	case <-timer.C:
		// The slot stays queued so ordinal matching is not skewed; a late
		// result resolves into it and is logged as unclaimed.
		req.abandoned.Store(true)
		metrics.AnalysisTimeouts.Inc()
		return domain.AnalysisResult{}, ErrAnalysisTimeout
	case <-ctx.Done():
		req.abandoned.Store(true)
		return domain.AnalysisResult{}, ctx.Err()
	}
}

func (c *Channel) handleMessage(ctx context.Context, payload []byte) error {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decode agent envelope: %w", err)
	}

	switch envelope.Type {
	case "analysis_result":
		var msg analysisResultMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode analysis result: %w", err)
		}
		c.deliverResult(ctx, msg)
		return nil
	case "order_update":
		var msg orderUpdateMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode order update: %w", err)
		}
		if msg.OrdID == "" {
			log.Warn().Msg("order update without ordId, dropped")
			return nil
		}
		log.Info().Str("ord_id", msg.OrdID).Str("status", msg.Status).Msg("processing order update event")
		if c.handler != nil {
			// 对账要走分页 REST 扫描和落库，放独立 goroutine 执行，
			// 收发循环不能停在这里等它
			go c.handler(ctx, msg.OrdID)
		}
		return nil
	default:
		log.Debug().Str("type", envelope.Type).Msg("ignoring agent message of unknown type")
		return nil
	}
}

// deliverResult 把结果交给队首的等待者（严格按入队顺序），并持久化摘要。
func (c *Channel) deliverResult(ctx context.Context, msg analysisResultMessage) {
	result := domain.AnalysisResult{
		Summary:     msg.Analysis.Summary,
		Suggestions: msg.Analysis.Suggestions,
		ReceivedAt:  c.clock.Now(),
	}

	if c.repo != nil {
		if err := c.repo.InsertStrategyMessage(ctx, renderStrategyMessage(result)); err != nil {
			log.Warn().Err(err).Msg("failed to persist analysis result")
		}
	}

	c.mu.Lock()
	var req *pendingRequest
	if len(c.pending) > 0 {
		req = c.pending[0]
		c.pending = c.pending[1:]
	}
	c.mu.Unlock()

	if req == nil {
		log.Warn().Str("request_id", msg.RequestID).Msg("analysis result with no outstanding request")
		return
	}
	req.ch <- analysisOutcome{result: result}
	if req.abandoned.Load() {
		log.Warn().Str("request_id", req.requestID).Msg("analysis result arrived after caller timeout, unclaimed")
	}
}

// removePending 撤出一个尚未发出触发消息的槽位，其余槽位序位不变。
func (c *Channel) removePending(target *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, req := range c.pending {
		if req == target {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// failPending 连接断开时让所有在途请求以 Closed 失败。
func (c *Channel) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, req := range pending {
		req.ch <- analysisOutcome{err: err}
	}
}

func renderStrategyMessage(result domain.AnalysisResult) string {
	var sb strings.Builder
	sb.WriteString(result.Summary)
	if len(result.Suggestions) > 0 {
		sb.WriteString("\n\nSuggestions:\n")
		for _, s := range result.Suggestions {
			sb.WriteString("- ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

type outgoingMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

type analysisResultMessage struct {
	RequestID string `json:"request_id"`
	Analysis  struct {
		Summary     string   `json:"summary"`
		Suggestions []string `json:"suggestions"`
	} `json:"analysis"`
}

type orderUpdateMessage struct {
	OrdID  string `json:"ordId"`
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}
