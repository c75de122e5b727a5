package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/engine"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/types"
)

// handleConnectionClosed runs when a socket drops. Pre-battle the real
// reconciliation is deferred behind the grace period so a page reload that
// reconnects in time mutates nothing; mid-battle it runs immediately.
func (s *Session) handleConnectionClosed(connID string) {
	c := s.clients[connID]
	if c == nil {
		return
	}
	delete(s.clients, connID)
	userID := c.userID
	if userID == "" {
		return
	}
	if s.userConns[userID] != connID {
		return // superseded connection; the newer one is still live
	}
	delete(s.userConns, userID)

	team := s.teamOf(userID)
	if team == nil {
		if err := s.store.SetUserOnline(s.ctx, userID, c.displayName, false); err != nil {
			s.log.Warn("set user offline", zap.Error(err))
		}
		return
	}

	if s.battle != nil && s.battle.Status == engine.StatusPlaying {
		s.reconcileBattleLeave(userID, team)
		return
	}

	s.graceGen++
	gen := s.graceGen
	s.pending[userID] = &pendingDisconnect{
		UserID: userID,
		ConnID: connID,
		Gen:    gen,
		timer:  s.after(s.cfg.DisconnectGrace, graceExpired{UserID: userID, Gen: gen}),
	}
}

func (s *Session) handleGraceExpired(userID string, gen int) {
	p := s.pending[userID]
	if p == nil || p.Gen != gen {
		return // reconnect cancelled it, or a newer entry replaced it
	}
	delete(s.pending, userID)

	if err := s.store.SetUserOnline(s.ctx, userID, s.displayNameOf(userID), false); err != nil {
		s.log.Warn("set user offline", zap.Error(err))
	}
	team := s.teamOf(userID)
	if team == nil {
		return
	}
	s.reconcileSetupLeave(userID, team)
}

// handleLeavingSetup is the explicit pre-battle departure; it takes the
// same path as an expired grace period, without the grace.
func (s *Session) handleLeavingSetup(connID string) {
	userID := s.userOf(connID)
	if userID == "" {
		return
	}
	s.cancelPendingDisconnect(userID)
	team := s.teamOf(userID)
	if team == nil {
		return
	}
	s.reconcileSetupLeave(userID, team)
}

// handleLeavingBattle is the explicit mid-battle departure.
func (s *Session) handleLeavingBattle(connID string) {
	userID := s.userOf(connID)
	if userID == "" {
		return
	}
	team := s.teamOf(userID)
	if team == nil || s.battle == nil || s.battle.Status != engine.StatusPlaying {
		return
	}
	delete(s.userConns, userID)
	s.reconcileBattleLeave(userID, team)
}

// reconcileSetupLeave mutates formation state after a confirmed pre-battle
// departure. Which side the leaver captained decides how much survives:
// the host side cannot be vacant, so losing its captain cancels the whole
// setup, while losing the opposing captain only clears that side.
func (s *Session) reconcileSetupLeave(userID string, team *Team) {
	wasCaptain := team.CaptainID == userID
	hostSide := len(s.teams) > 0 && s.teams[0].ID == team.ID

	switch {
	case wasCaptain && hostSide:
		for _, t := range s.teams {
			if err := s.store.DeleteTeam(s.ctx, t.ID); err != nil {
				s.log.Warn("delete team", zap.Error(err))
			}
		}
		if s.battleID != "" {
			if err := s.store.DeleteTeamBattle(s.ctx, s.battleID); err != nil {
				s.log.Warn("delete team battle", zap.Error(err))
			}
		}
		s.teams = nil
		s.toSession(types.Event(types.EvtBattleEnded, map[string]any{
			"reason":    "cancelled",
			"cancelled": true,
			"user_id":   userID,
		}))

	case wasCaptain:
		if err := s.store.DeleteTeam(s.ctx, team.ID); err != nil {
			s.log.Warn("delete team", zap.Error(err))
		}
		s.removeTeam(team.ID)
		s.toSession(types.Event(types.EvtOpponentDisconnected, map[string]any{
			"user_id":     userID,
			"was_captain": true,
			"team_id":     team.ID,
		}))

	default:
		team.RemoveMember(userID)
		if err := s.store.UpdateTeam(s.ctx, s.teamRow(team)); err != nil {
			s.log.Warn("update team", zap.Error(err))
		}
		s.toTeam(team, types.Event(types.EvtTeammateDisconnected, map[string]any{
			"user_id": userID,
		}))
		if opp := s.opposingTeam(team); opp != nil {
			s.toTeam(opp, types.Event(types.EvtOpponentMemberDisconnect, map[string]any{
				"user_id": userID,
			}))
		}
		s.toSession(types.Event(types.EvtTeamUpdated, map[string]any{"teams": s.teamViews()}))
	}

	s.rosterChanged()
}

// reconcileBattleLeave handles a confirmed mid-battle departure: captain
// failover first, then a vote-completion check, then either forfeiture
// (whole team gone) or a warning to the opposing side.
func (s *Session) reconcileBattleLeave(userID string, team *Team) {
	wasCaptain := team.CaptainID == userID
	remaining := s.connectedMembersExcept(team, userID)

	if wasCaptain && len(remaining) > 0 {
		s.reassignCaptain(team, remaining[0])
	}

	if s.battle.AnsweringTeam() == team.ID && len(remaining) > 0 &&
		s.battle.VotedAll(team.ID, remaining) {
		if err := s.finalizeCurrent(team); err != nil && !errors.Is(err, engine.ErrAlreadyFinalized) {
			s.log.Warn("finalize after disconnect", zap.Error(err))
		}
	}

	if len(remaining) == 0 {
		s.forfeit(team)
		return
	}

	s.toTeam(team, types.Event(types.EvtTeammateDisconnected, map[string]any{
		"user_id": userID,
	}))
	if opp := s.opposingTeam(team); opp != nil {
		evt := types.EvtOpponentMemberDisconnect
		if wasCaptain {
			evt = types.EvtOpponentDisconnected
		}
		s.toTeam(opp, types.Event(evt, map[string]any{
			"user_id":     userID,
			"was_captain": wasCaptain,
		}))
	}
}

func (s *Session) reassignCaptain(team *Team, newCaptainID string) {
	oldCaptainID := team.CaptainID
	team.CaptainID = newCaptainID
	for i := range team.Members {
		switch team.Members[i].UserID {
		case newCaptainID:
			team.Members[i].Role = RoleCaptain
		case oldCaptainID:
			team.Members[i].Role = RoleMember
		}
	}
	if err := s.store.UpdateTeam(s.ctx, s.teamRow(team)); err != nil {
		s.log.Warn("update team", zap.Error(err))
	}
	s.toSession(types.Event(types.EvtCaptainChanged, map[string]any{
		"team_id":         team.ID,
		"new_captain_id":  newCaptainID,
		"prev_captain_id": oldCaptainID,
	}))
}

func (s *Session) connectedMembersExcept(team *Team, exceptUserID string) []string {
	var ids []string
	for _, id := range s.connectedMembers(team) {
		if id != exceptUserID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Session) removeTeam(id string) {
	for i, t := range s.teams {
		if t.ID == id {
			s.teams = append(s.teams[:i], s.teams[i+1:]...)
			return
		}
	}
}
