package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/execution"
)

// HTTPWSTransport is the reference Transport: REST for request/response
// calls, a websocket stream for closed-bar pushes. A real venue
// integration follows this same shape with its own wire formats.
type HTTPWSTransport struct {
	baseURL string
	wsURL   string
	client  *http.Client
}

// NewHTTPWSTransport builds a Transport against the configured broker
// endpoints: REST for request/response calls, a websocket for streaming.
func NewHTTPWSTransport(cfg config.Broker) *HTTPWSTransport {
	return &HTTPWSTransport{
		baseURL: cfg.BaseURL,
		wsURL:   cfg.WSURL,
		client:  &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second},
	}
}

func (t *HTTPWSTransport) postJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("broker request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("broker request %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type fetchBarsRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Count     int    `json:"count"`
}

// FetchBars requests a historical bar window over REST.
func (t *HTTPWSTransport) FetchBars(ctx context.Context, symbol string, tf bar.Timeframe, count int) ([]bar.Bar, error) {
	var bars []bar.Bar
	err := t.postJSON(ctx, "/bars", fetchBarsRequest{Symbol: symbol, Timeframe: string(tf), Count: count}, &bars)
	return bars, err
}

// AccountSnapshot requests the account balance/equity/margin view over REST.
func (t *HTTPWSTransport) AccountSnapshot(ctx context.Context) (AccountSnapshot, error) {
	var snap AccountSnapshot
	err := t.postJSON(ctx, "/account", struct{}{}, &snap)
	return snap, err
}

// SubmitOrder sends an order over REST and decodes the broker's verdict.
func (t *HTTPWSTransport) SubmitOrder(ctx context.Context, req execution.OrderRequest) (execution.OrderResult, error) {
	var result execution.OrderResult
	err := t.postJSON(ctx, "/orders", req, &result)
	return result, err
}

// Positions requests the broker's open-positions view over REST.
func (t *HTTPWSTransport) Positions(ctx context.Context) ([]OpenPosition, error) {
	var positions []OpenPosition
	err := t.postJSON(ctx, "/positions", struct{}{}, &positions)
	return positions, err
}

type wsBarMessage struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

type wsSubscribeMessage struct {
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes"`
}

// Dial opens the bar stream and feeds each closed bar to handler until the
// connection drops or ctx is cancelled.
func (t *HTTPWSTransport) Dial(ctx context.Context, symbols []string, timeframes []bar.Timeframe, handler BarHandler) error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, t.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial bar stream: %w", err)
	}
	defer conn.Close()

	tfs := make([]string, len(timeframes))
	for i, tf := range timeframes {
		tfs[i] = string(tf)
	}
	if err := conn.WriteJSON(wsSubscribeMessage{Symbols: symbols, Timeframes: tfs}); err != nil {
		return fmt.Errorf("subscribe bar stream: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg wsBarMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read bar stream: %w", err)
		}

		b := bar.Bar{Timestamp: msg.Timestamp, Open: msg.Open, High: msg.High, Low: msg.Low, Close: msg.Close, Volume: msg.Volume}
		if err := b.Validate(); err != nil {
			log.Warn().Err(err).Str("symbol", msg.Symbol).Msg("dropped invalid streamed bar")
			continue
		}
		handler(msg.Symbol, bar.Timeframe(msg.Timeframe), b)
	}
}
