package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/execution"
	"github.com/ictengine/core/internal/pattern"
)

func TestLatestIndexPatternsAggregatesAcrossTimeframes(t *testing.T) {
	idx := newLatestIndex()
	idx.store("EURUSD", bar.M15, []pattern.Pattern{{Kind: pattern.KindFVG, Symbol: "EURUSD", Timeframe: bar.M15}})
	idx.store("EURUSD", bar.H4, []pattern.Pattern{{Kind: pattern.KindBOS, Symbol: "EURUSD", Timeframe: bar.H4}})
	idx.store("GBPUSD", bar.M15, []pattern.Pattern{{Kind: pattern.KindOrderBlock, Symbol: "GBPUSD", Timeframe: bar.M15}})

	got := idx.Patterns("EURUSD", []string{"M15", "H4"})
	require.Len(t, got, 2)
}

func TestLatestIndexHigherTFContextNeedsAtLeastOneBar(t *testing.T) {
	idx := newLatestIndex()
	_, ok := idx.higherTFContext("EURUSD", bar.H4)
	require.False(t, ok)

	idx.storeBars("EURUSD", bar.H4, []bar.Bar{
		{Open: 1.1000, High: 1.1050, Low: 1.0990, Close: 1.1040},
	})
	ctx, ok := idx.higherTFContext("EURUSD", bar.H4)
	require.True(t, ok)
	require.True(t, ctx.HasTrend)
	require.Equal(t, pattern.Bullish, ctx.TrendDirection)
	require.False(t, ctx.HasSwing) // only one bar seen so far
}

func TestLatestIndexHigherTFContextDerivesSwingFromPriorBar(t *testing.T) {
	idx := newLatestIndex()
	idx.storeBars("EURUSD", bar.H4, []bar.Bar{
		{Open: 1.1050, High: 1.1060, Low: 1.0990, Close: 1.1000}, // bearish prior bar
		{Open: 1.1000, High: 1.1070, Low: 1.0995, Close: 1.1060}, // bullish latest bar
	})

	ctx, ok := idx.higherTFContext("EURUSD", bar.H4)
	require.True(t, ok)
	require.Equal(t, pattern.Bullish, ctx.TrendDirection)
	require.True(t, ctx.HasSwing)
	require.Equal(t, pattern.Bearish, ctx.SwingDirection)
	require.InDelta(t, 1.0990, ctx.SwingPrice, 1e-9) // prior bar's low, since it was bearish
	require.InDelta(t, 0.0075, ctx.ATR, 1e-9)         // latest bar's high-low range
}

type fakeJournal struct {
	events []execution.Event
	err    error
}

func (j *fakeJournal) Append(ev execution.Event) error {
	j.events = append(j.events, ev)
	return j.err
}

func TestMultiJournalFansOutToBothSinks(t *testing.T) {
	canonical := &fakeJournal{}
	durable := &fakeJournal{}
	mj := &multiJournal{canonical: canonical, durable: durable}

	ev := execution.Event{ClientOrderID: "abc", Symbol: "EURUSD", State: execution.StateFilled, Timestamp: time.Now()}
	err := mj.Append(ev)

	require.NoError(t, err)
	require.Len(t, canonical.events, 1)
	require.Len(t, durable.events, 1)
}

func TestMultiJournalSurfacesOnlyCanonicalError(t *testing.T) {
	canonical := &fakeJournal{err: errors.New("disk full")}
	durable := &fakeJournal{}
	mj := &multiJournal{canonical: canonical, durable: durable}

	err := mj.Append(execution.Event{ClientOrderID: "xyz"})
	require.Error(t, err)
	require.Len(t, durable.events, 1) // durable sink still attempted
}

func TestMultiJournalWorksWithoutDurableSink(t *testing.T) {
	canonical := &fakeJournal{}
	mj := &multiJournal{canonical: canonical}

	err := mj.Append(execution.Event{ClientOrderID: "solo"})
	require.NoError(t, err)
	require.Len(t, canonical.events, 1)
}
