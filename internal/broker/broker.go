// Package broker implements the adapter boundary to the external broker
// connectivity: historical bars, a streaming bar callback,
// account snapshots, order submission, and open positions. The actual wire
// protocol is out of scope; this package wraps a pluggable Transport
// with a circuit breaker, rate limiting, and a reconnecting websocket
// stream so a concrete venue integration can be dropped in without
// touching the core engine.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/execution"
)

// AccountSnapshot mirrors the account_snapshot() broker call.
type AccountSnapshot struct {
	Balance  float64
	Equity   float64
	Currency string
	Margin   float64
	Profit   float64
}

// OpenPosition mirrors one element of positions().
type OpenPosition struct {
	Symbol     string
	Side       string
	Volume     float64
	EntryPrice float64
	OpenedAt   time.Time
}

// BarHandler is invoked once per newly closed bar pushed by the stream.
type BarHandler func(symbol string, tf bar.Timeframe, b bar.Bar)

// Transport is the thin, venue-specific surface an adapter wraps. A real
// integration implements this against its broker's REST/WS API; this
// package supplies the reliability plumbing (breaker, rate limit,
// reconnect) around it.
type Transport interface {
	FetchBars(ctx context.Context, symbol string, tf bar.Timeframe, count int) ([]bar.Bar, error)
	Dial(ctx context.Context, symbols []string, timeframes []bar.Timeframe, handler BarHandler) error
	AccountSnapshot(ctx context.Context) (AccountSnapshot, error)
	SubmitOrder(ctx context.Context, req execution.OrderRequest) (execution.OrderResult, error)
	Positions(ctx context.Context) ([]OpenPosition, error)
}

// Adapter wraps a Transport with a circuit breaker and per-call rate
// limiting, and satisfies internal/execution.Broker so the Execution
// Router can submit orders through it directly.
type Adapter struct {
	transport Transport
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	cfg       config.Broker

	mu        sync.RWMutex
	connected bool
}

// New wires an Adapter around a Transport using the given broker config.
func New(transport Transport, cfg config.Broker) *Adapter {
	settings := gobreaker.Settings{
		Name:     "broker",
		Interval: time.Duration(cfg.BreakerOpenSec) * time.Second,
		Timeout:  time.Duration(cfg.BreakerOpenSec) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= uint32(cfg.BreakerConsecutiveFail) {
				return true
			}
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > cfg.BreakerFailureRatio
		},
	}

	return &Adapter{
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		breaker:   gobreaker.NewCircuitBreaker(settings),
		cfg:       cfg,
	}
}

// Connected reports whether the adapter currently believes the broker
// connection is usable (the stream is dialed and the breaker is closed).
func (a *Adapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected && a.breaker.State() != gobreaker.StateOpen
}

func (a *Adapter) setConnected(v bool) {
	a.mu.Lock()
	a.connected = v
	a.mu.Unlock()
}

// FetchBars returns a historical window for one symbol/timeframe,
// rate-limited and breaker-guarded.
func (a *Adapter) FetchBars(ctx context.Context, symbol string, tf bar.Timeframe, count int) ([]bar.Bar, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.transport.FetchBars(ctx, symbol, tf, count)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch bars %s/%s: %w", symbol, tf, err)
	}
	return out.([]bar.Bar), nil
}

// SubscribeBars dials the streaming transport and reconnects with a fixed
// backoff on drop, until ctx is cancelled. It blocks until ctx is done.
func (a *Adapter) SubscribeBars(ctx context.Context, symbols []string, timeframes []bar.Timeframe, handler BarHandler) error {
	backoff := time.Duration(a.cfg.ReconnectBackoffSec) * time.Second
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			a.setConnected(false)
			return ctx.Err()
		default:
		}

		err := a.transport.Dial(ctx, symbols, timeframes, handler)
		a.setConnected(err == nil)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			a.setConnected(false)
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// AccountSnapshot returns the current balance/equity/margin view.
func (a *Adapter) AccountSnapshot(ctx context.Context) (AccountSnapshot, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return AccountSnapshot{}, fmt.Errorf("rate limiter wait: %w", err)
	}

	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.transport.AccountSnapshot(ctx)
	})
	if err != nil {
		return AccountSnapshot{}, fmt.Errorf("account snapshot: %w", err)
	}
	return out.(AccountSnapshot), nil
}

// SubmitOrder implements internal/execution.Broker. It is intentionally
// not rate-limited beyond the breaker: order submission latency directly
// affects fill quality and the Execution Router already serializes one
// order at a time per signal.
func (a *Adapter) SubmitOrder(ctx context.Context, req execution.OrderRequest) (execution.OrderResult, error) {
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.transport.SubmitOrder(ctx, req)
	})
	if err != nil {
		return execution.OrderResult{}, err
	}
	return out.(execution.OrderResult), nil
}

// Positions returns the broker's view of currently open positions.
func (a *Adapter) Positions(ctx context.Context) ([]OpenPosition, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.transport.Positions(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	return out.([]OpenPosition), nil
}
