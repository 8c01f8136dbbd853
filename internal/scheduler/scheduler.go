package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/kypseli/hive/internal/config"
	"github.com/kypseli/hive/internal/hive"
	"github.com/kypseli/hive/internal/orchestrator"
)

// Scheduler is the hive's maintenance sweeper. It polls on a fixed
// interval, marking agents offline once their heartbeat goes stale, and
// broadcasts a periodic hive report on a cron schedule. Tasks and
// decisions are deliberately left alone: the coordination core has no
// timeouts, and the sweeper keeps it that way.
type Scheduler struct {
	orch       *orchestrator.Orchestrator
	cfg        config.SweepConfig
	cron       *gronx.Gronx
	reloadCh   chan struct{}
	lastReport time.Time
}

func New(orch *orchestrator.Orchestrator, cfg config.SweepConfig) *Scheduler {
	return &Scheduler{
		orch:     orch,
		cfg:      cfg,
		cron:     gronx.New(),
		reloadCh: make(chan struct{}, 1),
	}
}

// UpdateConfig swaps the sweep settings and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(cfg config.SweepConfig) {
	s.cfg = cfg
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.Interval == 0 {
		s.cfg.Interval = 30 * time.Second
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.Info("sweeper started", "interval", s.cfg.Interval, "offline_after", s.cfg.OfflineAfter)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.cfg.Interval)
			slog.Info("sweeper config reloaded", "interval", s.cfg.Interval)
		case <-ticker.C:
			s.Sweep()
			s.maybeReport()
		}
	}
}

// Sweep marks active agents offline when their last heartbeat is older
// than the configured cutoff. Returns the ids it touched.
func (s *Scheduler) Sweep() []string {
	if s.cfg.OfflineAfter <= 0 {
		return nil
	}

	cutoff := time.Now().UTC().Add(-s.cfg.OfflineAfter)
	stale := s.orch.Registry().MarkOfflineBefore(cutoff)
	for _, id := range stale {
		slog.Warn("agent marked offline", "id", id, "offline_after", s.cfg.OfflineAfter)
	}
	return stale
}

// maybeReport broadcasts a hive_report when the cron schedule is due. Due
// checks are minute-granular, so a report fires at most once per minute.
func (s *Scheduler) maybeReport() {
	if s.cfg.ReportSchedule == "" || s.orch.Bus() == nil {
		return
	}

	minute := time.Now().Truncate(time.Minute)
	if minute.Equal(s.lastReport) {
		return
	}

	due, err := s.cron.IsDue(s.cfg.ReportSchedule, minute)
	if err != nil {
		slog.Error("invalid report schedule", "schedule", s.cfg.ReportSchedule, "error", err)
		return
	}
	if !due {
		return
	}
	s.lastReport = minute

	st := s.orch.HiveStatus()
	s.orch.Bus().Broadcast(hive.EventHiveReport, map[string]any{
		"total_agents":      st.TotalAgents,
		"active_agents":     st.ActiveAgents,
		"pending_tasks":     st.PendingTasks,
		"assigned_tasks":    st.AssignedTasks,
		"pending_decisions": st.PendingDecisions,
	})
	slog.Info("hive report published", "active_agents", st.ActiveAgents)
}
