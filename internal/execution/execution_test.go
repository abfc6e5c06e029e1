package execution

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/risk"
)

type fakeBroker struct {
	connected bool
	result    OrderResult
	err       error
}

func (b *fakeBroker) Connected() bool { return b.connected }
func (b *fakeBroker) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	return b.result, b.err
}

type fakeJournal struct {
	mu     sync.Mutex
	events []Event
}

func (j *fakeJournal) Append(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

type fakeSnapshotter struct {
	mu   sync.Mutex
	last map[string]float64
}

func (s *fakeSnapshotter) Snapshot(positions map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = positions
	return nil
}

func approvedDecision() *risk.RiskDecision {
	return &risk.RiskDecision{Approved: true, Lots: 1.23, RiskPct: 1.0, Stage: risk.StageApproved}
}

func TestRoute_FillsAndUpdatesPositions(t *testing.T) {
	broker := &fakeBroker{connected: true, result: OrderResult{Accepted: true, FillPrice: 1.1000}}
	journal := &fakeJournal{}
	snap := &fakeSnapshotter{}
	r := New(broker, journal, snap)

	ev := r.Route(context.Background(), Signal{
		Symbol: "EURUSD", Side: "buy", EntryPrice: 1.1000, StopLoss: 1.0950,
		Decision: approvedDecision(), BrokerStep: 0.01,
	})

	require.Equal(t, StateFilled, ev.State)
	require.InDelta(t, 1.23, r.Positions()["EURUSD"], 1e-6)
	require.Len(t, journal.events, 5) // received, validated, sized, submitted, filled
}

func TestRoute_RejectsWhenBrokerDisconnected(t *testing.T) {
	broker := &fakeBroker{connected: false}
	journal := &fakeJournal{}
	snap := &fakeSnapshotter{}
	r := New(broker, journal, snap)

	ev := r.Route(context.Background(), Signal{
		Symbol: "EURUSD", Side: "buy", Decision: approvedDecision(), BrokerStep: 0.01,
	})

	require.Equal(t, StateRejected, ev.State)
	require.Contains(t, ev.Reasons, "broker_disconnected")
}

func TestRoute_RejectsOnBrokerError(t *testing.T) {
	broker := &fakeBroker{connected: true, err: errors.New("gateway rejected order")}
	journal := &fakeJournal{}
	snap := &fakeSnapshotter{}
	r := New(broker, journal, snap)

	ev := r.Route(context.Background(), Signal{
		Symbol: "EURUSD", Side: "buy", Decision: approvedDecision(), BrokerStep: 0.01,
	})

	require.Equal(t, StateRejected, ev.State)
	require.Contains(t, ev.Reasons, "gateway rejected order")
}

func TestRoute_RefusesAlreadyConsumedDecision(t *testing.T) {
	broker := &fakeBroker{connected: true, result: OrderResult{Accepted: true}}
	journal := &fakeJournal{}
	snap := &fakeSnapshotter{}
	r := New(broker, journal, snap)

	decision := approvedDecision()
	decision.Consume()

	ev := r.Route(context.Background(), Signal{Symbol: "EURUSD", Side: "buy", Decision: decision, BrokerStep: 0.01})
	require.Equal(t, StateRejected, ev.State)
	require.Contains(t, ev.Reasons, "decision_already_consumed")
}
