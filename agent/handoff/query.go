package handoff

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/agent/protocol/mesh"
	"github.com/BaSui01/skillmesh/types"
)

// QuerySkill asks every connected peer whether it offers skillID and
// collects answers until timeout, ctx end or every peer has answered. It
// never fails: the result holds however many responses arrived.
func (p *Protocol) QuerySkill(ctx context.Context, skillID string, timeout time.Duration) []*mesh.SkillResponse {
	if timeout <= 0 {
		timeout = p.config.SkillQueryTimeout
	}
	queryID := uuid.NewString()

	peers := len(p.transport.Peers())
	if peers == 0 {
		return nil
	}
	ch := make(chan *mesh.SkillResponse, peers)

	p.mu.Lock()
	p.queries[queryID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.queries, queryID)
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sent, err := p.broadcast(ctx, &mesh.SkillQuery{QueryID: queryID, SkillID: skillID})
	if err != nil {
		p.logger.Debug("skill query partially sent", zap.String("skill_id", skillID), zap.Error(err))
	}

	var responses []*mesh.SkillResponse
	for len(responses) < sent {
		select {
		case r := <-ch:
			responses = append(responses, r)
		case <-ctx.Done():
			return responses
		}
	}
	return responses
}

func (p *Protocol) handleSkillQuery(peerID string, m *mesh.SkillQuery) {
	resp := &mesh.SkillResponse{QueryID: m.QueryID, SkillID: m.SkillID}
	if p.runtime != nil && p.runtime.Has(m.SkillID) {
		resp.Available = true
		if p.registry != nil {
			resp.Device = p.registry.Local()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.SkillQueryTimeout)
	defer cancel()
	if err := p.send(ctx, peerID, resp); err != nil {
		p.logger.Debug("skill response not delivered", zap.String("peer_id", peerID), zap.Error(err))
	}
}

func (p *Protocol) handleSkillResponse(m *mesh.SkillResponse) {
	p.mu.Lock()
	ch, ok := p.queries[m.QueryID]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- m:
	default:
	}
}

// InviteToTeam invites a peer to a team and waits for its answer.
func (p *Protocol) InviteToTeam(ctx context.Context, peerID, teamID, role string) (bool, error) {
	inviteID := uuid.NewString()
	ch := make(chan bool, 1)

	p.mu.Lock()
	p.invites[inviteID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.invites, inviteID)
		p.mu.Unlock()
	}()

	if err := p.send(ctx, peerID, &mesh.TeamInvite{InviteID: inviteID, TeamID: teamID, Role: role}); err != nil {
		return false, err
	}

	timer := time.NewTimer(p.config.InviteTimeout)
	defer timer.Stop()

	select {
	case accepted := <-ch:
		return accepted, nil
	case <-timer.C:
		return false, types.Errorf(types.ErrTimeout, "team invite %s timed out", inviteID).
			WithPeer(peerID).WithRetryable(true)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *Protocol) handleTeamInvite(peerID string, m *mesh.TeamInvite) {
	accepted := true
	if p.config.InviteHandler != nil {
		accepted = p.config.InviteHandler(peerID, m)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.DelegateTimeout)
	defer cancel()
	if err := p.send(ctx, peerID, &mesh.TeamInviteResponse{InviteID: m.InviteID, TeamID: m.TeamID, Accepted: accepted}); err != nil {
		p.logger.Warn("invite response not delivered", zap.String("peer_id", peerID), zap.Error(err))
	}

	invite := *m
	p.emitEvent(&Event{
		Type:      EventTeamInvite,
		PeerID:    peerID,
		Invite:    &invite,
		Accepted:  accepted,
		Timestamp: p.now(),
	})
}

func (p *Protocol) handleTeamInviteResponse(m *mesh.TeamInviteResponse) {
	p.mu.Lock()
	ch, ok := p.invites[m.InviteID]
	p.mu.Unlock()
	if !ok {
		p.logger.Debug("late invite response dropped", zap.String("invite_id", m.InviteID))
		return
	}
	select {
	case ch <- m.Accepted:
	default:
	}
}
