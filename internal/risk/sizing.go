package risk

import (
	"math"

	"github.com/ictengine/core/internal/bar"
)

// BrokerMetadata carries the per-symbol contract parameters position sizing
// needs; zero fields fall back to conservative FX defaults.
type BrokerMetadata struct {
	ContractSize float64
	MinLot       float64
	MaxLot       float64
	LotStep      float64
}

func (m BrokerMetadata) withDefaults() BrokerMetadata {
	if m.ContractSize == 0 {
		m.ContractSize = 100000
	}
	if m.MinLot == 0 {
		m.MinLot = 0.01
	}
	if m.MaxLot == 0 {
		m.MaxLot = 100
	}
	if m.LotStep == 0 {
		m.LotStep = 0.01
	}
	return m
}

// SizingInput is the position-sizing request.
type SizingInput struct {
	Symbol         string
	AccountBalance float64
	RiskPercent    float64
	EntryPrice     float64
	StopLoss       float64
	Broker         BrokerMetadata
}

// SizingOutput is the computed lot size plus its confidence score.
type SizingOutput struct {
	Lots               float64
	StopDistancePips   float64
	RiskAmount         float64
	Confidence         float64
}

// ComputeSize derives the lot size from balance, risk percent, and stop distance.
func ComputeSize(in SizingInput) SizingOutput {
	broker := in.Broker.withDefaults()

	pipSize := bar.PipSize(in.Symbol)
	stopDistancePips := math.Abs(in.EntryPrice-in.StopLoss) / pipSize
	riskAmount := in.AccountBalance * in.RiskPercent / 100

	pipValuePerLot := pipSize * broker.ContractSize

	var lots float64
	if stopDistancePips > 0 && pipValuePerLot > 0 {
		lots = riskAmount / (stopDistancePips * pipValuePerLot)
	}
	lots = clampToStep(lots, broker.MinLot, broker.MaxLot, broker.LotStep)

	confidence := 1.0
	if in.AccountBalance > 0 && riskAmount/in.AccountBalance > 0.02 {
		confidence -= 0.2
	}
	if lots > 5.0 {
		confidence -= 0.1
	}
	if in.RiskPercent > 1.5 {
		confidence -= 0.15
	}
	if confidence < 0.1 {
		confidence = 0.1
	}

	return SizingOutput{
		Lots:             lots,
		StopDistancePips: stopDistancePips,
		RiskAmount:       riskAmount,
		Confidence:       confidence,
	}
}

func clampToStep(lots, minLot, maxLot, step float64) float64 {
	if lots < minLot {
		lots = minLot
	}
	if lots > maxLot {
		lots = maxLot
	}
	if step > 0 {
		lots = math.Round(lots/step) * step
	}
	return lots
}
