package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradepulse/internal/application/port"
)

const DefaultRestEndpoint = "https://www.okx.com"

// Client OKX v5 REST 只读客户端，实现 port.ExchangeClient
type Client struct {
	baseURL     string
	credentials *Credentials
	httpClient  *http.Client
}

func NewClient(baseURL string, credentials *Credentials) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultRestEndpoint
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// envelope OKX v5 统一响应结构
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) GetTicker(ctx context.Context, instID string) (*port.Ticker, error) {
	params := url.Values{}
	params.Set("instId", instID)

	var tickers []port.Ticker
	if err := c.get(ctx, "/api/v5/market/ticker", params, false, &tickers); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, &APIError{Status: http.StatusOK, Msg: "empty ticker response for " + instID}
	}
	return &tickers[0], nil
}

func (c *Client) GetPositions(ctx context.Context, instType string) ([]port.PositionDetail, error) {
	params := url.Values{}
	if instType != "" {
		params.Set("instType", instType)
	}

	var positions []port.PositionDetail
	if err := c.get(ctx, "/api/v5/account/positions", params, true, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (c *Client) GetOrderHistory(ctx context.Context, instType, instID, ordID string, limit int) ([]port.OrderHistoryEntry, error) {
	params := url.Values{}
	if instType != "" {
		params.Set("instType", instType)
	}
	if instID != "" {
		params.Set("instId", instID)
	}
	if ordID != "" {
		params.Set("ordId", ordID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var entries []port.OrderHistoryEntry
	if err := c.get(ctx, "/api/v5/trade/orders-history", params, true, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) GetFills(ctx context.Context, instID, ordID string, limit int) ([]port.FillDetail, error) {
	params := url.Values{}
	if instID != "" {
		params.Set("instId", instID)
	}
	if ordID != "" {
		params.Set("ordId", ordID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var fills []port.FillDetail
	if err := c.get(ctx, "/api/v5/trade/fills", params, true, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// get 执行 GET 请求；signed 为 true 时附加 OKX 签名头。
func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool, out interface{}) error {
	requestPath := path
	if query := params.Encode(); query != "" {
		requestPath += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
	if err != nil {
		return err
	}

	if signed {
		if c.credentials == nil {
			return fmt.Errorf("okx credentials required for %s", path)
		}
		timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		// message = timestamp + method + requestPath (+ body, empty for GET)
		signature := c.credentials.Sign(timestamp + http.MethodGet + requestPath)
		req.Header.Set("OK-ACCESS-KEY", c.credentials.APIKey())
		req.Header.Set("OK-ACCESS-SIGN", signature)
		req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.credentials.Passphrase())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Msg: string(body)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode okx response %s: %w", path, err)
	}
	if env.Code != "0" {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode okx data %s: %w", path, err)
	}
	return nil
}

var _ port.ExchangeClient = (*Client)(nil)
