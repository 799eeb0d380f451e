package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ladder_bot/internal/models"
	"ladder_bot/internal/recovery"
	"ladder_bot/internal/scheduler"
	"ladder_bot/internal/store"

	"go.uber.org/zap"
)

type Reloader interface {
	Reload(ctx context.Context) (int, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (recovery.Report, error)
}

type SchedulerView interface {
	Status() scheduler.Status
	Nudge()
}

// Control is the operator surface shared by the admin HTTP endpoints and the
// Telegram commands.
type Control struct {
	store *store.Store
	layer Reloader
	rec   Reconciler
	sched SchedulerView
	log   *zap.Logger
}

func NewControl(st *store.Store, layer Reloader, rec Reconciler, sched SchedulerView, log *zap.Logger) *Control {
	return &Control{store: st, layer: layer, rec: rec, sched: sched, log: log.Named("control")}
}

// Reload merges the persisted snapshot into memory; in-memory monitors win.
func (c *Control) Reload(ctx context.Context) (int, error) {
	added, err := c.layer.Reload(ctx)
	if err != nil {
		c.log.Warn("reload failed", zap.Error(err))
		return 0, err
	}
	if added > 0 {
		c.sched.Nudge()
	}
	c.log.Info("reload done", zap.Int("added", added))
	return added, nil
}

// Recover runs one reconciliation pass now.
func (c *Control) Recover(ctx context.Context) (recovery.Report, error) {
	rep, err := c.rec.Reconcile(ctx)
	if err != nil {
		c.log.Warn("recover finished with errors", zap.Error(err))
	}
	return rep, err
}

type Status struct {
	Scheduler scheduler.Status       `json:"scheduler"`
	Monitors  int                    `json:"monitors"`
	ByPhase   map[models.Phase]int   `json:"by_phase"`
	ByAccount map[models.Account]int `json:"by_account"`
	Recovered int                    `json:"recovered"`
	Failing   []string               `json:"failing,omitempty"`
}

func (c *Control) Status() Status {
	snap := c.store.Snapshot()
	s := Status{
		Scheduler: c.sched.Status(),
		Monitors:  len(snap),
		ByPhase:   make(map[models.Phase]int),
		ByAccount: make(map[models.Account]int),
	}
	for _, m := range snap {
		s.ByPhase[m.Phase]++
		s.ByAccount[m.Account]++
		if m.Recovered {
			s.Recovered++
		}
		if m.LastError != "" {
			s.Failing = append(s.Failing, m.Key().String())
		}
	}
	sort.Strings(s.Failing)
	return s
}

// Text renders the status for chat.
func (s Status) Text(now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Monitors: %d (primary %d, mirror %d, recovered %d)\n",
		s.Monitors, s.ByAccount[models.AccountPrimary], s.ByAccount[models.AccountMirror], s.Recovered)
	for _, p := range []models.Phase{models.PhaseBuilding, models.PhaseMonitoring, models.PhaseProfitTaking, models.PhaseClosed} {
		if n := s.ByPhase[p]; n > 0 {
			fmt.Fprintf(&b, "• %s: %d\n", p, n)
		}
	}
	last := "never"
	if !s.Scheduler.LastCycleAt.IsZero() {
		last = now.Sub(s.Scheduler.LastCycleAt).Truncate(time.Second).String() + " ago"
	}
	fmt.Fprintf(&b, "⏱ Cycles: %d, last %s, in flight %d, critical %d\n",
		s.Scheduler.Cycles, last, s.Scheduler.InFlight, s.Scheduler.Critical)
	if len(s.Failing) > 0 {
		fmt.Fprintf(&b, "⚠️ Failing: %s\n", strings.Join(s.Failing, ", "))
	}
	return b.String()
}

// ReportText renders a recovery report for chat.
func ReportText(rep recovery.Report) string {
	return fmt.Sprintf("🛟 Expected %d, tracked %d, missing %d, recovered %d, pruned %d, closed %d",
		rep.Gaps.Expected, rep.Gaps.Actual, rep.Gaps.Missing(), rep.Recovered, rep.Pruned, rep.Closed)
}
