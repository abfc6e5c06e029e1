package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/execution"
)

type fakeTransport struct {
	fetchErr   error
	dialErr    error
	dialCalls  int32
	submitResp execution.OrderResult
	submitErr  error
}

func (f *fakeTransport) FetchBars(ctx context.Context, symbol string, tf bar.Timeframe, count int) ([]bar.Bar, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return []bar.Bar{{Timestamp: time.Now()}}, nil
}

func (f *fakeTransport) Dial(ctx context.Context, symbols []string, timeframes []bar.Timeframe, handler BarHandler) error {
	atomic.AddInt32(&f.dialCalls, 1)
	return f.dialErr
}

func (f *fakeTransport) AccountSnapshot(ctx context.Context) (AccountSnapshot, error) {
	return AccountSnapshot{Balance: 10000, Equity: 10000, Currency: "USD"}, nil
}

func (f *fakeTransport) SubmitOrder(ctx context.Context, req execution.OrderRequest) (execution.OrderResult, error) {
	return f.submitResp, f.submitErr
}

func (f *fakeTransport) Positions(ctx context.Context) ([]OpenPosition, error) {
	return nil, nil
}

func testCfg() config.Broker {
	cfg := config.Default().Broker
	cfg.RatePerSecond = 1000
	cfg.RateBurst = 1000
	return cfg
}

func TestFetchBars_ReturnsTransportResult(t *testing.T) {
	a := New(&fakeTransport{}, testCfg())
	bars, err := a.FetchBars(context.Background(), "EURUSD", bar.M15, 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
}

func TestSubmitOrder_TripsBreakerAfterConsecutiveFailures(t *testing.T) {
	cfg := testCfg()
	cfg.BreakerConsecutiveFail = 2
	transport := &fakeTransport{submitErr: errors.New("gateway down")}
	a := New(transport, cfg)

	_, err := a.SubmitOrder(context.Background(), execution.OrderRequest{Symbol: "EURUSD"})
	require.EqualError(t, err, "gateway down")
	_, err = a.SubmitOrder(context.Background(), execution.OrderRequest{Symbol: "EURUSD"})
	require.EqualError(t, err, "gateway down")

	// Breaker should now be open; the next call fails fast with the
	// breaker's own error rather than reaching the transport.
	_, err = a.SubmitOrder(context.Background(), execution.OrderRequest{Symbol: "EURUSD"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestConnected_FalseUntilSubscribeDials(t *testing.T) {
	transport := &fakeTransport{}
	a := New(transport, testCfg())
	require.False(t, a.Connected())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_ = a.SubscribeBars(ctx, []string{"EURUSD"}, []bar.Timeframe{bar.M15}, func(string, bar.Timeframe, bar.Bar) {})

	require.GreaterOrEqual(t, atomic.LoadInt32(&transport.dialCalls), int32(1))
}

func TestAccountSnapshot_ReturnsTransportResult(t *testing.T) {
	a := New(&fakeTransport{}, testCfg())
	snap, err := a.AccountSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10000.0, snap.Balance)
}
