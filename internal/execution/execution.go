// Package execution implements the Execution Router: a per-signal
// state machine from a RiskDecision to a terminal broker outcome, with an
// append-only trade journal and an atomic positions snapshot.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ictengine/core/internal/risk"
)

// State is one step in the Received → Validated → Sized → Submitted →
// {Filled | Rejected | TimedOut} lifecycle.
type State string

const (
	StateReceived  State = "received"
	StateValidated State = "validated"
	StateSized     State = "sized"
	StateSubmitted State = "submitted"
	StateFilled    State = "filled"
	StateRejected  State = "rejected"
	StateTimedOut  State = "timed_out"
)

// OrderRequest is what the router sends to the broker adapter on Submitted.
type OrderRequest struct {
	Symbol        string
	Side          string // "buy" | "sell"
	Volume        float64
	Type          string // "market" | "limit"
	StopLoss      float64
	TakeProfit    float64
	Comment       string
	Magic         int64
	ClientOrderID string
}

// OrderResult is the broker's synchronous response to a submitted order.
type OrderResult struct {
	Accepted bool
	FillPrice float64
	Reasons  []string
}

// Broker is the minimal surface the router needs; satisfied by
// internal/broker's adapter.
type Broker interface {
	Connected() bool
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Signal carries everything the router needs to process one approved
// decision through to a terminal state.
type Signal struct {
	Symbol     string
	Side       string
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Decision   *risk.RiskDecision
	BrokerStep float64 // lot rounding step used at the Sized transition
}

// Event is one journal entry (one line of journal/trades_YYYYMMDD.jsonl).
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	State         State     `json:"state"`
	Lots          float64   `json:"lots,omitempty"`
	Reasons       []string  `json:"reasons,omitempty"`
}

// Journal is an append-only trade-lifecycle log.
type Journal interface {
	Append(Event) error
}

// PositionsSnapshotter persists the open-positions view atomically on every
// state transition.
type PositionsSnapshotter interface {
	Snapshot(positions map[string]float64) error
}

// Router drives signals through the state machine. OpenPosition state is
// exclusively owned by the router; callers get copies.
type Router struct {
	broker  Broker
	journal Journal
	snap    PositionsSnapshotter

	mu        sync.Mutex
	pending   map[string]*Signal // client-order-id -> in-flight signal
	positions map[string]float64 // symbol -> net lots
}

// New wires a Router to its broker adapter, journal, and snapshotter.
func New(broker Broker, journal Journal, snap PositionsSnapshotter) *Router {
	return &Router{
		broker:    broker,
		journal:   journal,
		snap:      snap,
		pending:   make(map[string]*Signal),
		positions: make(map[string]float64),
	}
}

// Positions returns a copy of the current net-lots-by-symbol view.
func (r *Router) Positions() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.positions))
	for k, v := range r.positions {
		out[k] = v
	}
	return out
}

// Route drives one signal from Received through to a terminal state. A
// broker error bubbles up verbatim in the terminal event's Reasons; network
// timeouts are never retried automatically; that is an explicit operator
// action.
func (r *Router) Route(ctx context.Context, sig Signal) Event {
	clientOrderID := uuid.NewString()

	r.emit(Event{Timestamp: time.Now(), ClientOrderID: clientOrderID, Symbol: sig.Symbol, State: StateReceived})

	if !sig.Decision.Consume() {
		return r.terminal(clientOrderID, sig, StateRejected, []string{"decision_already_consumed"})
	}

	// Validated: Stage-4 re-check already happened inside the pipeline;
	// here we only re-verify broker connectivity (defense in depth).
	if !r.broker.Connected() {
		return r.terminal(clientOrderID, sig, StateRejected, []string{"broker_disconnected"})
	}
	r.emit(Event{Timestamp: time.Now(), ClientOrderID: clientOrderID, Symbol: sig.Symbol, State: StateValidated})

	lots := roundToStep(sig.Decision.Lots, sig.BrokerStep)
	r.emit(Event{Timestamp: time.Now(), ClientOrderID: clientOrderID, Symbol: sig.Symbol, State: StateSized, Lots: lots})

	req := OrderRequest{
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Volume:        lots,
		Type:          "market",
		StopLoss:      sig.StopLoss,
		TakeProfit:    sig.TakeProfit,
		ClientOrderID: clientOrderID,
	}

	r.mu.Lock()
	r.pending[clientOrderID] = &sig
	r.mu.Unlock()

	r.emit(Event{Timestamp: time.Now(), ClientOrderID: clientOrderID, Symbol: sig.Symbol, State: StateSubmitted, Lots: lots})

	result, err := r.broker.SubmitOrder(ctx, req)

	r.mu.Lock()
	delete(r.pending, clientOrderID)
	r.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return r.terminal(clientOrderID, sig, StateTimedOut, []string{fmt.Sprintf("timeout: %v", err)})
		}
		return r.terminal(clientOrderID, sig, StateRejected, []string{err.Error()})
	}

	if !result.Accepted {
		return r.terminal(clientOrderID, sig, StateRejected, result.Reasons)
	}

	r.mu.Lock()
	r.positions[sig.Symbol] += signedLots(sig.Side, lots)
	r.mu.Unlock()
	if err := r.snap.Snapshot(r.Positions()); err != nil {
		log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("positions snapshot write failed")
	}

	return r.terminal(clientOrderID, sig, StateFilled, nil)
}

func (r *Router) terminal(clientOrderID string, sig Signal, state State, reasons []string) Event {
	ev := Event{Timestamp: time.Now(), ClientOrderID: clientOrderID, Symbol: sig.Symbol, State: state, Reasons: reasons}
	r.emit(ev)
	if err := r.snap.Snapshot(r.Positions()); err != nil {
		log.Warn().Err(err).Msg("positions snapshot write failed on terminal transition")
	}
	return ev
}

func (r *Router) emit(ev Event) {
	if err := r.journal.Append(ev); err != nil {
		log.Warn().Err(err).Str("client_order_id", ev.ClientOrderID).Msg("trade journal append failed")
	}
}

func roundToStep(lots, step float64) float64 {
	if step <= 0 {
		return lots
	}
	steps := lots / step
	rounded := float64(int64(steps + 0.5))
	return rounded * step
}

func signedLots(side string, lots float64) float64 {
	if side == "sell" {
		return -lots
	}
	return lots
}
