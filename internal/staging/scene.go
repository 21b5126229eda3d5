package staging

import (
	"context"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/protocol"
	"github.com/ashureev/tablestage/internal/session"
)

// deliver sends StagingReady followed by SceneChanged to each waiter and
// moves their characters into region. Hidden and absent NPCs are stripped.
func (w *Workflow) deliver(ctx context.Context, s *session.Session, waiters []domain.WaitingPc, region domain.Region, loc domain.Location, npcs []domain.NpcPresence, source domain.StagingSource) {
	visible := domain.VisibleNpcs(npcs)
	nav := w.navigation(ctx, region.ID)
	gameTime := s.GameTime()
	view := protocol.RegionView{
		ID:           string(region.ID),
		Name:         region.Name,
		LocationID:   string(loc.ID),
		LocationName: loc.Name,
		Backdrop:     region.Backdrop,
	}

	ready := protocol.NewMessage(protocol.TypeStagingReady, protocol.StagingReadyPayload{
		RegionID: string(region.ID),
		Npcs:     visible,
		Source:   string(source),
	})
	for _, pc := range waiters {
		s.SetPosition(pc.PCID, region.ID)
		if err := w.router.SendTo(pc.ClientID, ready); err != nil {
			w.logger.Warn("Failed to deliver staging", "client_id", pc.ClientID, "pc_id", pc.PCID, "error", err)
			continue
		}
		_ = w.router.SendTo(pc.ClientID, protocol.NewMessage(protocol.TypeSceneChanged, protocol.SceneChangedPayload{
			PCID:       string(pc.PCID),
			Region:     view,
			Npcs:       visible,
			Navigation: nav,
			GameTime:   gameTime,
		}))
	}
	w.logger.Info("Staging delivered", "session_id", s.ID(), "region_id", region.ID, "source", source,
		"visible_npcs", len(visible), "recipients", len(waiters))
}

// navigation lists the exits of region. Lookup failures yield an empty
// list rather than blocking the scene.
func (w *Workflow) navigation(ctx context.Context, region domain.RegionID) protocol.Navigation {
	nav := protocol.Navigation{Regions: []protocol.ExitView{}, Locations: []protocol.ExitView{}}

	conns, err := w.world.RegionExits(ctx, region)
	if err != nil {
		w.logger.Warn("Failed to load region exits", "region_id", region, "error", err)
	}
	for _, c := range conns {
		name := string(c.To)
		if r, err := w.world.Region(ctx, c.To); err == nil && r != nil {
			name = r.Name
		}
		nav.Regions = append(nav.Regions, protocol.ExitView{
			RegionID:    string(c.To),
			Name:        name,
			Description: c.Description,
			Locked:      c.Locked,
			LockReason:  c.LockReason,
		})
	}

	exits, err := w.world.LocationExits(ctx, region)
	if err != nil {
		w.logger.Warn("Failed to load location exits", "region_id", region, "error", err)
	}
	for _, e := range exits {
		name := string(e.ToLocation)
		if l, err := w.world.Location(ctx, e.ToLocation); err == nil && l != nil {
			name = l.Name
		}
		nav.Locations = append(nav.Locations, protocol.ExitView{
			LocationID:  string(e.ToLocation),
			Name:        name,
			Description: e.Description,
			Locked:      e.Locked,
			LockReason:  e.LockReason,
		})
	}
	return nav
}
