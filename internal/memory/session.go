package memory

// Trading session classification for the smart-money statistics carried in
// the snapshot's smart_money_history section. Sessions follow the
// conventional UTC killzone windows: Asian overnight, London morning,
// New York afternoon.

import "time"

const (
	SessionAsian   = "asian"
	SessionLondon  = "london"
	SessionNewYork = "new_york"
)

// SessionAt buckets a timestamp into its trading session by UTC hour.
func SessionAt(t time.Time) string {
	h := t.UTC().Hour()
	switch {
	case h >= 7 && h < 13:
		return SessionLondon
	case h >= 13 && h < 21:
		return SessionNewYork
	default:
		return SessionAsian
	}
}

// sessionStatsLocked aggregates per-session decayed success rates across
// every record. Outcomes recorded without a session context are skipped.
// Caller must hold at least s.mu.RLock.
func (s *Store) sessionStatsLocked(now time.Time) []SmartMoneyStat {
	type acc struct {
		weighted float64
		total    float64
		samples  int
	}
	bySession := map[string]*acc{}

	for _, rec := range s.records {
		for _, o := range rec.Outcomes {
			session, _ := o.Context["session"].(string)
			if session == "" {
				continue
			}
			a := bySession[session]
			if a == nil {
				a = &acc{}
				bySession[session] = a
			}
			days := now.Sub(o.Timestamp).Hours() / 24
			w := 1 - days*s.cfg.TimeDecayFactor
			if w < 0.1 {
				w = 0.1
			}
			if o.Success {
				a.weighted += w
			}
			a.total += w
			a.samples++
		}
	}

	out := make([]SmartMoneyStat, 0, len(bySession))
	for _, session := range []string{SessionAsian, SessionLondon, SessionNewYork} {
		a, ok := bySession[session]
		if !ok || a.total == 0 {
			continue
		}
		out = append(out, SmartMoneyStat{
			Session:     session,
			SuccessRate: a.weighted / a.total,
			Samples:     a.samples,
		})
	}
	return out
}

// SessionStats returns the current per-session success aggregates, the same
// view Export persists under smart_money_history.
func (s *Store) SessionStats(now time.Time) []SmartMoneyStat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionStatsLocked(now)
}

// SessionFactor maps a session's decayed success rate into a bounded
// [0.85, 1.15] multiplier consumed by the risk pipeline's strategic
// adjustment stage. Sessions with fewer than min_samples outcomes return
// the neutral 1.0.
func (s *Store) SessionFactor(session string, now time.Time) float64 {
	s.mu.RLock()
	stats := s.sessionStatsLocked(now)
	minSamples := s.cfg.MinSamples
	s.mu.RUnlock()

	for _, st := range stats {
		if st.Session != session || st.Samples < minSamples {
			continue
		}
		// rate 0 -> 0.85, rate 0.5 -> 1.0, rate 1 -> 1.15
		return clamp(1.0+(st.SuccessRate-0.5)*0.3, 0.85, 1.15)
	}
	return 1.0
}
