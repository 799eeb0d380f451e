// Package metrics holds the Prometheus collectors of the keeper.
//
//   - ladder_rebalance_total{account,result}   rebalance outcomes (changed|noop|error)
//   - ladder_orders_total{account,action}      cancel / place requests that succeeded
//   - ladder_protection_gaps_total{account}    orders cancelled but not re-placed
//   - ladder_monitors{tier}                    monitors per urgency tier
//   - ladder_inflight_jobs                     scheduler group jobs running
//   - ladder_cycle_seconds                     scheduler cycle duration
//   - ladder_recovered_total{account}          monitors rebuilt from exchange state
//   - ladder_snapshot_saves_total{result}      persistence writes
//   - ladder_mirror_ratio                      current mirror/primary ratio
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"ladder_bot/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	rebalances  *prometheus.CounterVec
	orders      *prometheus.CounterVec
	gaps        *prometheus.CounterVec
	monitors    *prometheus.GaugeVec
	inflight    prometheus.Gauge
	cycle       prometheus.Histogram
	recovered   *prometheus.CounterVec
	saves       *prometheus.CounterVec
	mirrorRatio prometheus.Gauge
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rebalances: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ladder_rebalance_total", Help: "Rebalance outcomes"},
			[]string{"account", "result"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ladder_orders_total", Help: "Order requests that succeeded"},
			[]string{"account", "action"},
		),
		gaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ladder_protection_gaps_total", Help: "Orders cancelled but not re-placed"},
			[]string{"account"},
		),
		monitors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "ladder_monitors", Help: "Monitors per urgency tier"},
			[]string{"tier"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "ladder_inflight_jobs", Help: "Scheduler group jobs running"},
		),
		cycle: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ladder_cycle_seconds",
				Help:    "Scheduler cycle duration",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		recovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ladder_recovered_total", Help: "Monitors rebuilt from exchange state"},
			[]string{"account"},
		),
		saves: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ladder_snapshot_saves_total", Help: "Snapshot writes"},
			[]string{"result"},
		),
		mirrorRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "ladder_mirror_ratio", Help: "Mirror to primary size ratio"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.rebalances, m.orders, m.gaps, m.monitors, m.inflight,
			m.cycle, m.recovered, m.saves, m.mirrorRatio)
	}
	return m
}

func (m *Metrics) Rebalance(account models.Account, result string) {
	if m == nil {
		return
	}
	m.rebalances.WithLabelValues(string(account), result).Inc()
}

func (m *Metrics) Order(account models.Account, action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orders.WithLabelValues(string(account), action).Add(float64(n))
}

func (m *Metrics) Gap(account models.Account) {
	if m == nil {
		return
	}
	m.gaps.WithLabelValues(string(account)).Inc()
}

// Tiers replaces the per-tier monitor counts.
func (m *Metrics) Tiers(counts map[string]int) {
	if m == nil {
		return
	}
	m.monitors.Reset()
	for tier, n := range counts {
		m.monitors.WithLabelValues(tier).Set(float64(n))
	}
}

func (m *Metrics) InFlight(n int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(n))
}

func (m *Metrics) Cycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycle.Observe(d.Seconds())
}

func (m *Metrics) Recovered(account models.Account) {
	if m == nil {
		return
	}
	m.recovered.WithLabelValues(string(account)).Inc()
}

func (m *Metrics) Save(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.saves.WithLabelValues(result).Inc()
}

func (m *Metrics) MirrorRatio(r float64) {
	if m == nil {
		return
	}
	m.mirrorRatio.Set(r)
}
