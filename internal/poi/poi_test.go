package poi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/pattern"
)

func mkPattern(kind pattern.Kind, mid float64) pattern.Pattern {
	return pattern.Pattern{
		Symbol:     "EURUSD",
		Timeframe:  bar.M15,
		Kind:       kind,
		DetectedAt: time.Now(),
		PriceZone:  pattern.PriceZone{Low: mid - 0.0001, High: mid + 0.0001},
	}
}

func TestFromPattern_AssignsBaseSignificance(t *testing.T) {
	p := FromPattern(mkPattern(pattern.KindOrderBlock, 1.1000))
	require.Equal(t, SignificanceHigh, p.Significance)
	require.InDelta(t, 1.1000, p.PriceLevel, 1e-9)
}

func TestConsolidate_DedupesSameKindNearDuplicates(t *testing.T) {
	a := FromPattern(mkPattern(pattern.KindFVG, 1.1000))
	b := FromPattern(mkPattern(pattern.KindFVG, 1.10005))
	out := Consolidate([]POI{a, b})
	require.Len(t, out, 1)
}

func TestConsolidate_UpgradesSignificanceOnMultiKindConfluence(t *testing.T) {
	fvg := FromPattern(mkPattern(pattern.KindFVG, 1.1000))       // medium
	bos := FromPattern(mkPattern(pattern.KindBOS, 1.10005))       // medium, different kind
	liq := FromPattern(mkPattern(pattern.KindLiquidity, 1.10008)) // high, different kind

	out := Consolidate([]POI{fvg, bos, liq})

	var upgraded *POI
	for i := range out {
		if out[i].Kind == pattern.KindFVG {
			upgraded = &out[i]
		}
	}
	require.NotNil(t, upgraded)
	require.Equal(t, SignificanceHigh, upgraded.Significance) // medium -> high with 2 confluent neighbors
	require.Len(t, upgraded.Confluences, 2)
}

func TestActive_FiltersExpiredPOIs(t *testing.T) {
	now := time.Now()
	expired := POI{ExpiresAt: now.Add(-time.Hour)}
	fresh := POI{ExpiresAt: now.Add(time.Hour)}
	out := Active([]POI{expired, fresh}, now)
	require.Len(t, out, 1)
}
