package cluster

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// nodeMetrics are the metrics of one member. Every member owns its own set, so several members
// can live in one process.
type nodeMetrics struct {
	set *metrics.Set

	appliedEntries   *metrics.Counter
	rejectedEntries  *metrics.Counter
	sessionsOpened   *metrics.Counter
	sessionsClosed   *metrics.Counter
	sessionsTimedOut *metrics.Counter
	timersFired      *metrics.Counter
	droppedOffers    *metrics.Counter
	proposalRetries  *metrics.Counter
	proposalsDropped *metrics.Counter
	redirects        *metrics.Counter
	proposeDuration  *metrics.Histogram

	activeSessions    atomic.Int64
	egressConnections atomic.Int64
	leader            atomic.Bool
}

func newNodeMetrics(memberID int) *nodeMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`%s{member="%d"}`, metric, memberID)
	}

	m := &nodeMetrics{
		set:              set,
		appliedEntries:   set.NewCounter(name("rsm_applied_entries_total")),
		rejectedEntries:  set.NewCounter(name("rsm_rejected_entries_total")),
		sessionsOpened:   set.NewCounter(name("rsm_sessions_opened_total")),
		sessionsClosed:   set.NewCounter(name("rsm_sessions_closed_total")),
		sessionsTimedOut: set.NewCounter(name("rsm_sessions_timed_out_total")),
		timersFired:      set.NewCounter(name("rsm_timers_fired_total")),
		droppedOffers:    set.NewCounter(name("rsm_egress_dropped_offers_total")),
		proposalRetries:  set.NewCounter(name("rsm_proposal_retries_total")),
		proposalsDropped: set.NewCounter(name("rsm_proposals_dropped_total")),
		redirects:        set.NewCounter(name("rsm_ingress_redirects_total")),
		proposeDuration:  set.NewHistogram(name("rsm_propose_duration_seconds")),
	}
	set.NewGauge(name("rsm_active_sessions"), func() float64 {
		return float64(m.activeSessions.Load())
	})
	set.NewGauge(name("rsm_egress_connections"), func() float64 {
		return float64(m.egressConnections.Load())
	})
	set.NewGauge(name("rsm_is_leader"), func() float64 {
		if m.leader.Load() {
			return 1
		}
		return 0
	})
	return m
}

// WritePrometheus writes the metrics in the prometheus text format
func (m *nodeMetrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
