// Package risk implements the staged risk pipeline and position sizing:
// ordered gate checks with named failure reasons, producing a single-use
// approve/reject decision with a computed lot size.
package risk

import (
	"sync"
	"time"

	"github.com/ictengine/core/internal/config"
)

// Stage names surfaced in RiskDecision.Stage and used as log/metric labels.
const (
	StageRiskGuard      = "risk_guard"
	StageRiskManager    = "risk_manager"
	StagePositionSizing = "position_sizing"
	StageFastGate       = "fast_gate"
	StageApproved       = "approved"
)

// Hard guard failure reasons, surfaced verbatim.
const (
	ReasonMaxPositions       = "MAX_POSITIONS"
	ReasonMaxPositionsSymbol = "MAX_POSITIONS_PER_SYMBOL"
	ReasonDailyLossLimit     = "DAILY_LOSS_LIMIT"
	ReasonDrawdownLimit      = "DRAWDOWN_LIMIT"
	ReasonCorrelationExtreme = "correlation_extreme"
	ReasonInvalidRiskPct     = "INVALID_RISK_PCT"
	ReasonSymbolExposure     = "SYMBOL_EXPOSURE_LIMIT"
	ReasonCooldown           = "COOLDOWN_ACTIVE"
)

// AccountState is the account/book snapshot the pipeline evaluates against.
type AccountState struct {
	Equity                 float64
	DayStartBalance        float64
	OpenPositions          int
	OpenPositionsBySymbol  map[string]int
	DrawdownPct            float64 // realized over the configured window
	SymbolExposurePct      map[string]float64
	LastSignalAt           map[string]time.Time
	CorrelationWithOpen     map[string]float64 // symbol -> correlation to the candidate
}

// CandidateOrder is one proposed entry awaiting risk evaluation.
type CandidateOrder struct {
	Symbol         string
	EntryPrice     float64
	StopLoss       float64
	PatternQuality float64 // 0..1, from the enhanced/validated pattern confidence
	SessionFactor  float64 // killzone/session weighting; the engine fills it from memory.Store.SessionFactor, in [0.85, 1.15]
	Now            time.Time
	Sizing         SizingInput
}

// RiskDecision is the pipeline's single-use verdict. The Execution Router
// must not mutate Lots; Consume marks the decision spent and is safe to
// call exactly once.
type RiskDecision struct {
	Approved bool
	Lots     float64
	RiskPct  float64
	Stage    string
	Reasons  []string

	mu       sync.Mutex
	consumed bool
}

// Consume marks the decision spent, returning false if it was already used.
func (d *RiskDecision) Consume() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.consumed {
		return false
	}
	d.consumed = true
	return true
}

func reject(stage string, reasons ...string) *RiskDecision {
	return &RiskDecision{Approved: false, Stage: stage, Reasons: reasons}
}

// Pipeline evaluates candidates through the four ordered stages.
type Pipeline struct {
	cfg *config.RiskPolicy
}

// New wires a Pipeline to its policy config.
func New(cfg *config.RiskPolicy) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Evaluate runs all four stages in order, returning at the first failure.
func (p *Pipeline) Evaluate(acct AccountState, order CandidateOrder) *RiskDecision {
	if d := p.hardGuards(acct, order.Symbol); d != nil {
		return d
	}

	hint, warn, d := p.strategicAdjustment(acct, order)
	if d != nil {
		return d
	}

	sizing := ComputeSize(order.Sizing)
	lots := sizing.Lots
	if hint > 0 {
		lots = (lots + hint) / 2
	}

	riskPct := order.Sizing.RiskPercent

	decision := &RiskDecision{
		Approved: true,
		Lots:     lots,
		RiskPct:  riskPct,
		Stage:    StageApproved,
	}
	if warn != "" {
		decision.Reasons = append(decision.Reasons, warn)
	}

	if d := p.fastGate(acct, order, decision); d != nil {
		return d
	}

	return decision
}

// hardGuards is Stage 1.
func (p *Pipeline) hardGuards(acct AccountState, symbol string) *RiskDecision {
	if acct.OpenPositions >= p.cfg.MaxPositions {
		return reject(StageRiskGuard, ReasonMaxPositions)
	}

	if acct.OpenPositionsBySymbol != nil && acct.OpenPositionsBySymbol[symbol] >= p.cfg.MaxPositionsPerSymbol {
		return reject(StageRiskGuard, ReasonMaxPositionsSymbol)
	}

	if acct.DayStartBalance > 0 {
		floor := acct.DayStartBalance * (1 - p.cfg.MaxDailyLossPct/100)
		if acct.Equity < floor {
			return reject(StageRiskGuard, ReasonDailyLossLimit)
		}
	}

	if acct.DrawdownPct > p.cfg.MaxDrawdownPct {
		return reject(StageRiskGuard, ReasonDrawdownLimit)
	}

	return nil
}

// strategicAdjustment is Stage 2: correlation check plus an
// ICT-aware sizing hint. Returns the hint (0 if unavailable), an optional
// warning string, and a non-nil decision only on hard rejection.
func (p *Pipeline) strategicAdjustment(acct AccountState, order CandidateOrder) (float64, string, *RiskDecision) {
	var warn string
	if acct.CorrelationWithOpen != nil {
		if corr, ok := acct.CorrelationWithOpen[order.Symbol]; ok {
			if corr >= 0.9 {
				return 0, "", reject(StageRiskManager, ReasonCorrelationExtreme)
			}
			if corr >= 0.7 {
				warn = "correlation_elevated"
			}
		}
	}

	hint := order.PatternQuality * order.SessionFactor
	return hint, warn, nil
}

// fastGate is Stage 4, a defense-in-depth re-check on the
// already-sized decision.
func (p *Pipeline) fastGate(acct AccountState, order CandidateOrder, decision *RiskDecision) *RiskDecision {
	if decision.RiskPct <= 0 || decision.RiskPct > p.cfg.MaxRiskPerTradePct {
		return reject(StageFastGate, ReasonInvalidRiskPct)
	}

	if acct.SymbolExposurePct != nil {
		existing := acct.SymbolExposurePct[order.Symbol]
		if existing+decision.RiskPct > p.cfg.MaxSymbolExposurePct {
			return reject(StageFastGate, ReasonSymbolExposure)
		}
	}

	if acct.LastSignalAt != nil {
		if last, ok := acct.LastSignalAt[order.Symbol]; ok {
			cooldown := time.Duration(p.cfg.MinCooldownSecPerSymbol) * time.Second
			if order.Now.Sub(last) < cooldown {
				return reject(StageFastGate, ReasonCooldown)
			}
		}
	}

	return nil
}
