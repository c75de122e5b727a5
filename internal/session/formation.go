package session

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/engine"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/models"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/types"
)

type invitationView struct {
	ID          string                `json:"id"`
	InviterID   string                `json:"inviter_id"`
	InviterName string                `json:"inviter_name,omitempty"`
	InviteeID   string                `json:"invitee_id"`
	TeamID      string                `json:"team_id,omitempty"`
	TeamName    string                `json:"team_name,omitempty"`
	Kind        models.InvitationKind `json:"kind"`
	ExpiresAt   time.Time             `json:"expires_at"`
}

// handleCreateTeam creates a forming, single-member team captained by the
// caller. An unauthenticated caller is a silent no-op.
func (s *Session) handleCreateTeam(connID string, msg types.ClientMessage) {
	userID := s.userOf(connID)
	if userID == "" {
		return
	}
	if s.teamOf(userID) != nil {
		s.toConn(connID, types.ErrorEvent("You are already on a team"))
		return
	}
	if len(s.teams) >= 2 {
		s.toConn(connID, types.ErrorEvent("This session already has two teams"))
		return
	}
	name := msg.TeamName
	if name == "" {
		name = s.displayNameOf(userID) + "'s team"
	}
	if _, err := s.createTeam(userID, name); err != nil {
		s.toConn(connID, types.ErrorEvent("Could not create team, try again"))
	}
}

// createTeam persists first and mutates memory only on success, so a store
// failure leaves nothing half-applied.
func (s *Session) createTeam(captainID, name string) (*Team, error) {
	team := &Team{
		ID:        uuid.NewString(),
		Name:      name,
		CaptainID: captainID,
		Status:    TeamForming,
		Members: []Member{{
			UserID:      captainID,
			DisplayName: s.displayNameOf(captainID),
			Role:        RoleCaptain,
			JoinedAt:    time.Now(),
		}},
	}
	if err := s.store.CreateTeam(s.ctx, s.teamRow(team)); err != nil {
		s.log.Error("create team", zap.Error(err))
		return nil, err
	}
	s.teams = append(s.teams, team)
	s.toSession(types.Event(types.EvtTeamCreated, team.View()))
	s.rosterChanged()
	return team, nil
}

// handleRecruit routes a recruit call through the decision table: an
// opponent-captain invitation until the opposing team exists, a teammate
// invitation once both teams do.
func (s *Session) handleRecruit(connID string, msg types.ClientMessage) {
	userID := s.userOf(connID)
	if userID == "" {
		s.toConn(connID, types.ErrorEvent("Authenticate before recruiting"))
		return
	}
	inviteeID := msg.InviteeID
	if inviteeID == "" {
		s.toConn(connID, types.ErrorEvent("invitee_id is required"))
		return
	}
	if inviteeID == userID {
		s.toConn(connID, types.ErrorEvent("You can't invite yourself"))
		return
	}
	if s.teamOf(inviteeID) != nil {
		s.toConn(connID, types.ErrorEvent("That player is already on a team"))
		return
	}
	if s.pendingInvitationBetween(userID, inviteeID) {
		s.toConn(connID, types.ErrorEvent("An invitation between you is already pending"))
		return
	}

	callerTeam := s.teamOf(userID)
	in := engine.RecruitInput{
		TeamsInSession: len(s.teams),
		CallerHasTeam:  callerTeam != nil,
	}
	if callerTeam != nil {
		in.CallerIsCaptain = callerTeam.CaptainID == userID
		in.CallerTeamSize = len(callerTeam.Members)
	}
	kind, err := engine.DecideRecruit(in)
	if err != nil {
		s.toConn(connID, types.ErrorEvent(err.Error()))
		return
	}

	// The first captain invitation lazily creates the recruiter's own team.
	if kind == engine.RecruitOpponentCaptain && callerTeam == nil {
		callerTeam, err = s.createTeam(userID, s.displayNameOf(userID)+"'s team")
		if err != nil {
			s.toConn(connID, types.ErrorEvent("Could not create team, try again"))
			return
		}
	}

	inv := &Invitation{
		ID:        uuid.NewString(),
		InviterID: userID,
		InviteeID: inviteeID,
		Kind:      models.InvitationOpponent,
		Status:    models.InvitationPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(s.cfg.InvitationTTL),
	}
	if kind == engine.RecruitTeammate {
		inv.Kind = models.InvitationTeammate
		inv.TeamID = callerTeam.ID
	}
	if err := s.store.SaveInvitation(s.ctx, s.invitationRow(inv)); err != nil {
		s.log.Error("save invitation", zap.Error(err))
		s.toConn(connID, types.ErrorEvent("Could not send invitation, try again"))
		return
	}
	s.invitations[inv.ID] = inv
	s.after(s.cfg.InvitationTTL, invitationExpired{ID: inv.ID})

	view := s.invitationView(inv)
	s.toUser(inviteeID, types.Event(types.EvtTeamInvitationReceived, view))
	s.toConn(connID, types.Event(types.EvtTeamInvitationSent, view))

	if err := s.store.CreateNotification(s.ctx, &models.Notification{
		ID:        uuid.NewString(),
		UserID:    inviteeID,
		Type:      types.EvtTeamInvitationReceived,
		Message:   s.displayNameOf(userID) + " invited you to a team battle",
		CreatedAt: time.Now(),
	}); err != nil {
		s.log.Warn("create notification", zap.Error(err))
	}
}

func (s *Session) handleAcceptInvitation(connID string, msg types.ClientMessage) {
	userID := s.userOf(connID)
	inv := s.invitations[msg.InvitationID]
	if inv == nil || inv.Status != models.InvitationPending || inv.InviteeID != userID || time.Now().After(inv.ExpiresAt) {
		s.toConn(connID, types.ErrorEvent("Invitation not found or expired"))
		return
	}

	switch inv.Kind {
	case models.InvitationOpponent:
		if len(s.teams) >= 2 {
			s.toConn(connID, types.ErrorEvent("This session already has two teams"))
			return
		}
		if s.teamOf(userID) != nil {
			s.toConn(connID, types.ErrorEvent("You are already on a team"))
			return
		}
		team, err := s.createTeam(userID, s.displayNameOf(userID)+"'s team")
		if err != nil {
			s.toConn(connID, types.ErrorEvent("Could not create team, try again"))
			return
		}
		s.markInvitation(inv, models.InvitationAccepted)
		s.expireOtherOffers(userID, inv.ID)
		s.toSession(types.Event(types.EvtTeamJoined, map[string]any{
			"user_id": userID,
			"team":    team.View(),
		}))

	case models.InvitationTeammate:
		team := s.teamByID(inv.TeamID)
		if team == nil {
			s.toConn(connID, types.ErrorEvent("Team not found"))
			return
		}
		if s.teamOf(userID) != nil {
			s.toConn(connID, types.ErrorEvent("You are already on a team"))
			return
		}
		if len(team.Members) >= engine.MaxTeamSize {
			s.toConn(connID, types.ErrorEvent("That team is already full"))
			return
		}
		team.Members = append(team.Members, Member{
			UserID:      userID,
			DisplayName: s.displayNameOf(userID),
			Role:        RoleMember,
			JoinedAt:    time.Now(),
		})
		if err := s.store.UpdateTeam(s.ctx, s.teamRow(team)); err != nil {
			s.log.Error("update team", zap.Error(err))
		}
		s.markInvitation(inv, models.InvitationAccepted)
		// Joining one team invalidates every other offer addressed to the
		// invitee; that is what enforces single-team membership.
		s.expireOtherOffers(userID, inv.ID)
		s.toSession(types.Event(types.EvtTeamJoined, map[string]any{
			"user_id": userID,
			"team":    team.View(),
		}))
	}

	s.toSession(types.Event(types.EvtTeamUpdated, map[string]any{"teams": s.teamViews()}))
	s.rosterChanged()
}

func (s *Session) handleDeclineInvitation(connID string, msg types.ClientMessage) {
	userID := s.userOf(connID)
	inv := s.invitations[msg.InvitationID]
	if inv == nil || inv.Status != models.InvitationPending || inv.InviteeID != userID {
		s.toConn(connID, types.ErrorEvent("Invitation not found or expired"))
		return
	}
	s.markInvitation(inv, models.InvitationDeclined)
	s.toUser(inv.InviterID, types.Event(types.EvtInvitationDeclined, map[string]string{
		"invitation_id": inv.ID,
		"invitee_id":    userID,
	}))
}

func (s *Session) handleRequestJoin(connID string, msg types.ClientMessage) {
	userID := s.userOf(connID)
	if userID == "" {
		s.toConn(connID, types.ErrorEvent("Authenticate before joining"))
		return
	}
	team := s.teamByID(msg.TeamID)
	if team == nil {
		s.toConn(connID, types.ErrorEvent("Team not found"))
		return
	}
	if s.teamOf(userID) != nil {
		s.toConn(connID, types.ErrorEvent("You are already on a team"))
		return
	}
	for _, jr := range s.joinRequests {
		if jr.RequesterID == userID && jr.TeamID == team.ID && jr.Status == models.InvitationPending {
			s.toConn(connID, types.ErrorEvent("You already asked to join this team"))
			return
		}
	}
	req := &JoinRequest{
		ID:          uuid.NewString(),
		RequesterID: userID,
		TeamID:      team.ID,
		Status:      models.InvitationPending,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(s.cfg.JoinRequestTTL),
	}
	if err := s.store.SaveJoinRequest(s.ctx, s.joinRequestRow(req)); err != nil {
		s.log.Error("save join request", zap.Error(err))
		s.toConn(connID, types.ErrorEvent("Could not send join request, try again"))
		return
	}
	s.joinRequests[req.ID] = req
	s.after(s.cfg.JoinRequestTTL, joinRequestExpired{ID: req.ID})
	s.toUser(team.CaptainID, types.Event(types.EvtJoinRequestReceived, map[string]any{
		"request_id":     req.ID,
		"requester_id":   userID,
		"requester_name": s.displayNameOf(userID),
		"team_id":        team.ID,
		"expires_at":     req.ExpiresAt,
	}))
}

// handleAcceptJoinRequest appends the requester if capacity allows,
// otherwise the request is auto-rejected.
func (s *Session) handleAcceptJoinRequest(connID string, msg types.ClientMessage) {
	userID := s.userOf(connID)
	req := s.joinRequests[msg.RequestID]
	if req == nil || req.Status != models.InvitationPending || time.Now().After(req.ExpiresAt) {
		s.toConn(connID, types.ErrorEvent("Join request not found or expired"))
		return
	}
	team := s.teamByID(req.TeamID)
	if team == nil {
		s.toConn(connID, types.ErrorEvent("Team not found"))
		return
	}
	if team.CaptainID != userID {
		s.toConn(connID, types.ErrorEvent(engine.ErrNotCaptain.Error()))
		return
	}
	if len(team.Members) >= engine.MaxTeamSize {
		s.markJoinRequest(req, models.InvitationDeclined)
		s.toUser(req.RequesterID, types.Event(types.EvtJoinRequestDeclined, map[string]string{
			"request_id": req.ID,
			"reason":     "team is already full",
		}))
		s.toConn(connID, types.ErrorEvent(engine.ErrTeamFull.Error()))
		return
	}
	if s.teamOf(req.RequesterID) != nil {
		s.markJoinRequest(req, models.InvitationDeclined)
		s.toConn(connID, types.ErrorEvent("That player is already on a team"))
		return
	}
	team.Members = append(team.Members, Member{
		UserID:      req.RequesterID,
		DisplayName: s.displayNameOf(req.RequesterID),
		Role:        RoleMember,
		JoinedAt:    time.Now(),
	})
	if err := s.store.UpdateTeam(s.ctx, s.teamRow(team)); err != nil {
		s.log.Error("update team", zap.Error(err))
	}
	s.markJoinRequest(req, models.InvitationAccepted)
	s.expireOtherOffers(req.RequesterID, "")
	s.toSession(types.Event(types.EvtTeamJoined, map[string]any{
		"user_id": req.RequesterID,
		"team":    team.View(),
	}))
	s.toSession(types.Event(types.EvtTeamUpdated, map[string]any{"teams": s.teamViews()}))
	s.rosterChanged()
}

func (s *Session) handleDeclineJoinRequest(connID string, msg types.ClientMessage) {
	userID := s.userOf(connID)
	req := s.joinRequests[msg.RequestID]
	if req == nil || req.Status != models.InvitationPending {
		s.toConn(connID, types.ErrorEvent("Join request not found or expired"))
		return
	}
	team := s.teamByID(req.TeamID)
	if team == nil || team.CaptainID != userID {
		s.toConn(connID, types.ErrorEvent(engine.ErrNotCaptain.Error()))
		return
	}
	s.markJoinRequest(req, models.InvitationDeclined)
	s.toUser(req.RequesterID, types.Event(types.EvtJoinRequestDeclined, map[string]string{
		"request_id": req.ID,
	}))
}

// handleTeamReady is the strict captain ready-up.
func (s *Session) handleTeamReady(connID string, msg types.ClientMessage) {
	userID := s.userOf(connID)
	team := s.teamByID(msg.TeamID)
	if team == nil {
		team = s.teamOf(userID)
	}
	if team == nil {
		s.toConn(connID, types.ErrorEvent("Team not found"))
		return
	}
	if team.CaptainID != userID {
		s.toConn(connID, types.ErrorEvent(engine.ErrNotCaptain.Error()))
		return
	}
	team.Status = TeamReady
	team.Ready = true
	if err := s.store.UpdateTeam(s.ctx, s.teamRow(team)); err != nil {
		s.log.Warn("update team", zap.Error(err))
	}
	s.announceReady(team)
}

// handleTeamBattleReady is the permissive variant: any member flags their
// side ready, and two ready one-member teams are enough to count down.
func (s *Session) handleTeamBattleReady(connID string) {
	userID := s.userOf(connID)
	team := s.teamOf(userID)
	if team == nil {
		s.toConn(connID, types.ErrorEvent("You are not on a team"))
		return
	}
	team.Ready = true
	s.announceReady(team)
}

func (s *Session) announceReady(team *Team) {
	both := s.bothTeamsReady()
	s.toSession(types.Event(types.EvtTeamReadyStatus, map[string]any{
		"team_id":    team.ID,
		"ready":      team.Ready,
		"both_ready": both,
	}))
	if both {
		s.armCountdown()
	}
}

func (s *Session) bothTeamsReady() bool {
	if len(s.teams) != 2 {
		return false
	}
	for _, t := range s.teams {
		if !t.Ready || len(t.Members) == 0 {
			return false
		}
	}
	return true
}

func (s *Session) armCountdown() {
	if s.countdownArmed || s.battle != nil {
		return
	}
	s.countdownArmed = true
	countdown := types.Event(types.EvtBattleCountdown, map[string]any{
		"seconds": int(s.cfg.Countdown.Seconds()),
	})
	for _, t := range s.teams {
		s.toUser(t.CaptainID, countdown)
	}
	s.after(s.cfg.Countdown, countdownDone{})
}

func (s *Session) handleCountdownDone() {
	s.countdownArmed = false
	if s.battle != nil || !s.bothTeamsReady() {
		return
	}
	s.startBattle()
}

// handleStartTeamBattle lets a captain start without waiting out the
// countdown.
func (s *Session) handleStartTeamBattle(connID string) {
	userID := s.userOf(connID)
	team := s.teamOf(userID)
	if team == nil || team.CaptainID != userID {
		s.toConn(connID, types.ErrorEvent(engine.ErrNotCaptain.Error()))
		return
	}
	if s.battle != nil {
		s.toConn(connID, types.ErrorEvent("Battle already running"))
		return
	}
	if !s.bothTeamsReady() {
		s.toConn(connID, types.ErrorEvent("Both teams must be ready"))
		return
	}
	s.startBattle()
}

func (s *Session) handleInvitationExpired(id string) {
	inv := s.invitations[id]
	if inv == nil || inv.Status != models.InvitationPending {
		return
	}
	s.markInvitation(inv, models.InvitationExpired)
}

func (s *Session) handleJoinRequestExpired(id string) {
	req := s.joinRequests[id]
	if req == nil || req.Status != models.InvitationPending {
		return
	}
	s.markJoinRequest(req, models.InvitationExpired)
}

// expireOtherOffers kills every other pending invitation or join request
// addressed to a user who just landed on a team.
func (s *Session) expireOtherOffers(userID, exceptID string) {
	for _, inv := range s.invitations {
		if inv.ID != exceptID && inv.InviteeID == userID && inv.Status == models.InvitationPending {
			s.markInvitation(inv, models.InvitationExpired)
		}
	}
	for _, req := range s.joinRequests {
		if req.ID != exceptID && req.RequesterID == userID && req.Status == models.InvitationPending {
			s.markJoinRequest(req, models.InvitationExpired)
		}
	}
}

func (s *Session) pendingInvitationBetween(a, b string) bool {
	for _, inv := range s.invitations {
		if inv.Status != models.InvitationPending {
			continue
		}
		if (inv.InviterID == a && inv.InviteeID == b) || (inv.InviterID == b && inv.InviteeID == a) {
			return true
		}
	}
	return false
}

func (s *Session) markInvitation(inv *Invitation, status models.InvitationStatus) {
	inv.Status = status
	if err := s.store.UpdateInvitationStatus(s.ctx, inv.ID, status); err != nil {
		s.log.Warn("update invitation", zap.Error(err))
	}
}

func (s *Session) markJoinRequest(req *JoinRequest, status models.InvitationStatus) {
	req.Status = status
	if err := s.store.UpdateJoinRequestStatus(s.ctx, req.ID, status); err != nil {
		s.log.Warn("update join request", zap.Error(err))
	}
}

func (s *Session) displayNameOf(userID string) string {
	if connID, ok := s.userConns[userID]; ok {
		if c := s.clients[connID]; c != nil && c.displayName != "" {
			return c.displayName
		}
	}
	for _, t := range s.teams {
		for _, m := range t.Members {
			if m.UserID == userID && m.DisplayName != "" {
				return m.DisplayName
			}
		}
	}
	return userID
}

func (s *Session) invitationView(inv *Invitation) invitationView {
	v := invitationView{
		ID:          inv.ID,
		InviterID:   inv.InviterID,
		InviterName: s.displayNameOf(inv.InviterID),
		InviteeID:   inv.InviteeID,
		TeamID:      inv.TeamID,
		Kind:        inv.Kind,
		ExpiresAt:   inv.ExpiresAt,
	}
	if team := s.teamByID(inv.TeamID); team != nil {
		v.TeamName = team.Name
	}
	return v
}

// Row mappers to the persisted shapes.

func (s *Session) teamRow(t *Team) *models.Team {
	return &models.Team{
		ID:          t.ID,
		SessionCode: s.code,
		Name:        t.Name,
		CaptainID:   t.CaptainID,
		Status:      string(t.Status),
	}
}

func (s *Session) invitationRow(inv *Invitation) *models.Invitation {
	row := &models.Invitation{
		ID:        inv.ID,
		InviterID: inv.InviterID,
		InviteeID: inv.InviteeID,
		Kind:      inv.Kind,
		Status:    inv.Status,
		CreatedAt: inv.CreatedAt,
		ExpiresAt: inv.ExpiresAt,
	}
	if inv.TeamID != "" {
		teamID := inv.TeamID
		row.TeamID = &teamID
	}
	return row
}

func (s *Session) joinRequestRow(req *JoinRequest) *models.JoinRequest {
	return &models.JoinRequest{
		ID:          req.ID,
		RequesterID: req.RequesterID,
		TeamID:      req.TeamID,
		Status:      req.Status,
		CreatedAt:   req.CreatedAt,
		ExpiresAt:   req.ExpiresAt,
	}
}
