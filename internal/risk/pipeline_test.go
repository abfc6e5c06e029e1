package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/config"
)

func defaultAccount() AccountState {
	return AccountState{
		Equity:                10000,
		DayStartBalance:       10000,
		OpenPositions:         0,
		OpenPositionsBySymbol: map[string]int{},
		DrawdownPct:           0,
		SymbolExposurePct:     map[string]float64{},
		LastSignalAt:          map[string]time.Time{},
		CorrelationWithOpen:   map[string]float64{},
	}
}

func baseOrder() CandidateOrder {
	return CandidateOrder{
		Symbol:         "EURUSD",
		EntryPrice:     1.1000,
		StopLoss:       1.0950,
		PatternQuality: 0.8,
		SessionFactor:  0.9,
		Now:            time.Now(),
		Sizing: SizingInput{
			Symbol:         "EURUSD",
			AccountBalance: 10000,
			RiskPercent:    1.0,
			EntryPrice:     1.1000,
			StopLoss:       1.0950,
		},
	}
}

func TestEvaluate_ApprovesCleanOrder(t *testing.T) {
	cfg := config.Default().RiskPolicy
	p := New(&cfg)

	d := p.Evaluate(defaultAccount(), baseOrder())
	require.True(t, d.Approved)
	require.Equal(t, StageApproved, d.Stage)
	require.Greater(t, d.Lots, 0.0)
}

func TestEvaluate_RejectsAtMaxPositions(t *testing.T) {
	cfg := config.Default().RiskPolicy
	p := New(&cfg)

	acct := defaultAccount()
	acct.OpenPositions = cfg.MaxPositions

	d := p.Evaluate(acct, baseOrder())
	require.False(t, d.Approved)
	require.Equal(t, StageRiskGuard, d.Stage)
	require.Contains(t, d.Reasons, ReasonMaxPositions)
}

func TestEvaluate_RejectsOnDailyLossLimit(t *testing.T) {
	cfg := config.Default().RiskPolicy
	p := New(&cfg)

	acct := defaultAccount()
	acct.Equity = acct.DayStartBalance * (1 - cfg.MaxDailyLossPct/100) - 1

	d := p.Evaluate(acct, baseOrder())
	require.False(t, d.Approved)
	require.Contains(t, d.Reasons, ReasonDailyLossLimit)
}

func TestEvaluate_RejectsOnExtremeCorrelation(t *testing.T) {
	cfg := config.Default().RiskPolicy
	p := New(&cfg)

	acct := defaultAccount()
	acct.CorrelationWithOpen["EURUSD"] = 0.95

	d := p.Evaluate(acct, baseOrder())
	require.False(t, d.Approved)
	require.Equal(t, StageRiskManager, d.Stage)
	require.Contains(t, d.Reasons, ReasonCorrelationExtreme)
}

func TestEvaluate_RejectsOnActiveCooldown(t *testing.T) {
	cfg := config.Default().RiskPolicy
	p := New(&cfg)

	acct := defaultAccount()
	acct.LastSignalAt["EURUSD"] = time.Now()

	d := p.Evaluate(acct, baseOrder())
	require.False(t, d.Approved)
	require.Equal(t, StageFastGate, d.Stage)
	require.Contains(t, d.Reasons, ReasonCooldown)
}

func TestRiskDecision_ConsumeIsSingleUse(t *testing.T) {
	d := &RiskDecision{Approved: true, Lots: 1.0}
	require.True(t, d.Consume())
	require.False(t, d.Consume())
}

func TestComputeSize_StandardFXCase(t *testing.T) {
	out := ComputeSize(SizingInput{
		Symbol:         "EURUSD",
		AccountBalance: 10000,
		RiskPercent:    1.0,
		EntryPrice:     1.1000,
		StopLoss:       1.0950,
	})

	require.InDelta(t, 50.0, out.StopDistancePips, 1e-6)
	require.InDelta(t, 100.0, out.RiskAmount, 1e-6)
	// lots = 100 / (50 * 0.0001*100000) = 100/500 = 0.2
	require.InDelta(t, 0.2, out.Lots, 1e-6)
	require.InDelta(t, 1.0, out.Confidence, 1e-9)
}

func TestComputeSize_ConfidencePenalties(t *testing.T) {
	out := ComputeSize(SizingInput{
		Symbol:         "EURUSD",
		AccountBalance: 1000,
		RiskPercent:    2.0,
		EntryPrice:     1.1000,
		StopLoss:       1.0990,
	})
	require.Less(t, out.Confidence, 1.0)
}

func TestStaticCorrelation_SymmetricAndSelfIdentity(t *testing.T) {
	require.InDelta(t, 1.0, StaticCorrelation("EURUSD", "eurusd"), 1e-9)
	require.InDelta(t, StaticCorrelation("EURUSD", "GBPUSD"), StaticCorrelation("GBPUSD", "EURUSD"), 1e-9)
	require.InDelta(t, 0.0, StaticCorrelation("EURUSD", "USDMXN"), 1e-9)
}

func TestMaxStaticCorrelation_PicksStrongestAbsolute(t *testing.T) {
	got := MaxStaticCorrelation("EURUSD", []string{"USDJPY", "USDCHF"})
	require.InDelta(t, -0.92, got, 1e-9)
	require.InDelta(t, 0.0, MaxStaticCorrelation("EURUSD", nil), 1e-9)
}
