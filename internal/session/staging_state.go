package session

import (
	"sort"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
)

// StagingState holds the approved stagings and in-flight approvals of a
// session. It is only reachable through Session.Staging.
type StagingState struct {
	pending   map[domain.RegionID]*domain.PendingStagingApproval
	byRequest map[domain.RequestID]domain.RegionID
	cache     map[domain.RegionID]domain.StagingRecord
}

func newStagingState() StagingState {
	return StagingState{
		pending:   make(map[domain.RegionID]*domain.PendingStagingApproval),
		byRequest: make(map[domain.RequestID]domain.RegionID),
		cache:     make(map[domain.RegionID]domain.StagingRecord),
	}
}

// Current returns the cached record for region if it is valid at gameTime.
func (s *StagingState) Current(region domain.RegionID, gameTime time.Time) (domain.StagingRecord, bool) {
	rec, ok := s.cache[region]
	if !ok || !rec.IsValidAt(gameTime) {
		return domain.StagingRecord{}, false
	}
	return rec, true
}

// Latest returns the most recent record for region regardless of validity.
func (s *StagingState) Latest(region domain.RegionID) (domain.StagingRecord, bool) {
	rec, ok := s.cache[region]
	return rec, ok
}

// Put caches rec as the newest record for its region.
func (s *StagingState) Put(rec domain.StagingRecord) {
	s.cache[rec.RegionID] = rec
}

// Pending returns the open approval for region, if any.
func (s *StagingState) Pending(region domain.RegionID) (*domain.PendingStagingApproval, bool) {
	p, ok := s.pending[region]
	return p, ok
}

// PendingByRequest returns the open approval with the given request id.
func (s *StagingState) PendingByRequest(id domain.RequestID) (*domain.PendingStagingApproval, bool) {
	region, ok := s.byRequest[id]
	if !ok {
		return nil, false
	}
	p, ok := s.pending[region]
	return p, ok
}

// AddPending opens an approval. It reports false if the region already has one.
func (s *StagingState) AddPending(p *domain.PendingStagingApproval) bool {
	if _, exists := s.pending[p.RegionID]; exists {
		return false
	}
	s.pending[p.RegionID] = p
	s.byRequest[p.RequestID] = p.RegionID
	return true
}

// TakePending removes and returns the approval with the given request id.
// A second call with the same id finds nothing.
func (s *StagingState) TakePending(id domain.RequestID) (*domain.PendingStagingApproval, bool) {
	region, ok := s.byRequest[id]
	if !ok {
		return nil, false
	}
	p := s.pending[region]
	delete(s.byRequest, id)
	delete(s.pending, region)
	return p, p != nil
}

// TakePendingForRegion removes and returns the approval open for region.
func (s *StagingState) TakePendingForRegion(region domain.RegionID) (*domain.PendingStagingApproval, bool) {
	p, ok := s.pending[region]
	if !ok {
		return nil, false
	}
	delete(s.pending, region)
	delete(s.byRequest, p.RequestID)
	return p, true
}

// StaleRequests returns ready approvals created before cutoff, oldest first.
func (s *StagingState) StaleRequests(cutoff time.Time) []domain.RequestID {
	var stale []*domain.PendingStagingApproval
	for _, p := range s.pending {
		if p.Ready && p.CreatedAt.Before(cutoff) {
			stale = append(stale, p)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	ids := make([]domain.RequestID, len(stale))
	for i, p := range stale {
		ids[i] = p.RequestID
	}
	return ids
}

// ReadyPending returns copies of the approvals waiting on a Director,
// oldest first.
func (s *StagingState) ReadyPending() []domain.PendingStagingApproval {
	var out []domain.PendingStagingApproval
	for _, p := range s.pending {
		if !p.Ready {
			continue
		}
		c := *p
		c.WaitingPcs = append([]domain.WaitingPc(nil), p.WaitingPcs...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PendingCount returns the number of open approvals.
func (s *StagingState) PendingCount() int {
	return len(s.pending)
}
