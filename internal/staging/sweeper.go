package staging

import (
	"context"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/events"
	"github.com/ashureev/tablestage/internal/session"
)

const defaultSweepInterval = 5 * time.Second

// SessionSource lists live sessions.
type SessionSource interface {
	Sessions() []*session.Session
}

// RunSweeper periodically auto-approves approvals that have waited longer
// than the configured timeout. It returns when ctx is done, and immediately
// if no timeout is configured.
func (w *Workflow) RunSweeper(ctx context.Context, sessions SessionSource, interval time.Duration) error {
	if w.timeout <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	w.logger.Info("Approval sweeper started", "interval", interval, "timeout", w.timeout)

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx, sessions.Sessions())
		case <-ctx.Done():
			w.logger.Info("Approval sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep auto-approves every expired approval in sessions and returns how
// many it resolved.
func (w *Workflow) Sweep(ctx context.Context, sessions []*session.Session) int {
	cutoff := w.now().Add(-w.timeout)
	resolved := 0
	for _, s := range sessions {
		var stale []domain.RequestID
		s.Staging(func(st *session.StagingState) {
			stale = st.StaleRequests(cutoff)
		})
		for _, id := range stale {
			if w.autoApprove(ctx, s, id) {
				resolved++
			}
		}
	}
	if resolved > 0 {
		w.logger.Info("Approval sweeper auto-approved stagings", "count", resolved)
	}
	return resolved
}

func (w *Workflow) autoApprove(ctx context.Context, s *session.Session, id domain.RequestID) bool {
	rec := domain.StagingRecord{
		ID:         domain.NewStagingID(),
		WorldID:    s.WorldID(),
		ApprovedAt: s.GameTime(),
		TTLHours:   w.defaultTTL(s.World()),
		Source:     domain.SourceAutoApproved,
		ApprovedBy: systemApprover,
	}

	var pending *domain.PendingStagingApproval
	s.Staging(func(st *session.StagingState) {
		p, ok := st.TakePending(id)
		if !ok {
			return
		}
		pending = p
		rec.RegionID = p.RegionID
		rec.LocationID = p.LocationID
		rec.Npcs = p.Proposal.RuleBased
		st.Put(rec)
	})
	if pending == nil {
		// Director got there first.
		return false
	}

	w.logger.Warn("Staging approval timed out, auto-approving rule-based NPCs",
		"session_id", s.ID(), "request_id", id, "region_id", rec.RegionID, "waiting", len(pending.WaitingPcs))
	w.complete(ctx, s, pending, rec, events.StagingAutoApproved)
	return true
}
