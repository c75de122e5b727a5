package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/config"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/engine"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/types"
)

// Session is the actor owning one match session: formation state, the
// battle, connection bindings and every timer. A single goroutine consumes
// the inbox, so every read-modify-write in a handler is atomic with
// respect to the others; timers re-enter through the same inbox.
type Session struct {
	code  string
	cfg   *config.Config
	store Store
	hub   Notifier
	log   *zap.Logger

	inbox  chan Msg
	ctx    context.Context
	cancel context.CancelFunc

	clients   map[string]*client // connID -> client
	userConns map[string]string  // userID -> most recent connID

	teams        []*Team // index 0 is side A and the host ("required") side
	invitations  map[string]*Invitation
	joinRequests map[string]*JoinRequest
	pending      map[string]*pendingDisconnect // userID -> grace entry
	graceGen     int

	countdownArmed bool

	battle        *engine.State
	battleID      string
	battleGen     int
	deadlineTimer *time.Timer
}

func New(parent context.Context, code string, cfg *config.Config, st Store, hub Notifier, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		code:         code,
		cfg:          cfg,
		store:        st,
		hub:          hub,
		log:          log.With(zap.String("session", code)),
		inbox:        make(chan Msg, 64),
		ctx:          ctx,
		cancel:       cancel,
		clients:      map[string]*client{},
		userConns:    map[string]string{},
		invitations:  map[string]*Invitation{},
		joinRequests: map[string]*JoinRequest{},
		pending:      map[string]*pendingDisconnect{},
	}
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) Code() string { return s.code }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return
		case m := <-s.inbox:
			s.dispatch(m)
			if _, done := m.(Shutdown); done {
				return
			}
		}
	}
}

// dispatch never lets a handler fault escape: a panic degrades to a logged
// no-op so the loop survives.
func (s *Session) dispatch(m Msg) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", zap.Any("panic", r))
		}
	}()

	switch msg := m.(type) {
	case Join:
		s.clients[msg.ConnID] = &client{id: msg.ConnID, outbox: msg.Outbox}

	case Leave:
		s.handleConnectionClosed(msg.ConnID)

	case FromClient:
		s.handleClient(msg.ConnID, msg.Msg)

	case invitationExpired:
		s.handleInvitationExpired(msg.ID)

	case joinRequestExpired:
		s.handleJoinRequestExpired(msg.ID)

	case graceExpired:
		s.handleGraceExpired(msg.UserID, msg.Gen)

	case countdownDone:
		s.handleCountdownDone()

	case questionDeadline:
		s.handleQuestionDeadline(msg.QIndex, msg.Gen)

	case advanceQuestion:
		s.handleAdvanceQuestion(msg.Gen)

	case teardownBattle:
		s.handleTeardownBattle(msg.Gen)

	case GetView:
		msg.Reply <- s.view()

	case Shutdown:
		s.shutdown()
	}
}

func (s *Session) handleClient(connID string, msg types.ClientMessage) {
	switch msg.Type {
	case types.EvtAuthenticate:
		s.handleAuthenticate(connID, msg)
	case types.EvtCreateTeam:
		s.handleCreateTeam(connID, msg)
	case types.EvtRecruitPlayer:
		s.handleRecruit(connID, msg)
	case types.EvtAcceptInvitation:
		s.handleAcceptInvitation(connID, msg)
	case types.EvtDeclineInvitation:
		s.handleDeclineInvitation(connID, msg)
	case types.EvtRequestJoinTeam:
		s.handleRequestJoin(connID, msg)
	case types.EvtAcceptJoinRequest:
		s.handleAcceptJoinRequest(connID, msg)
	case types.EvtDeclineJoinRequest:
		s.handleDeclineJoinRequest(connID, msg)
	case types.EvtTeamReady:
		s.handleTeamReady(connID, msg)
	case types.EvtTeamBattleReady:
		s.handleTeamBattleReady(connID)
	case types.EvtStartTeamBattle:
		s.handleStartTeamBattle(connID)
	case types.EvtSubmitTeamAnswer:
		s.handleSubmitAnswer(connID, msg)
	case types.EvtFinalizeTeamAnswer:
		s.handleFinalizeAnswer(connID)
	case types.EvtGetGameState:
		s.handleGetGameState(connID)
	case types.EvtRejoinTeam:
		s.handleRejoinTeam(connID)
	case types.EvtPlayerLeavingBattle:
		s.handleLeavingBattle(connID)
	case types.EvtPlayerLeavingTeamSetup:
		s.handleLeavingSetup(connID)
	default:
		s.toConn(connID, types.ErrorEvent("unknown event type"))
	}
}

// handleAuthenticate binds the connection to a user. A fresh
// authentication supersedes any prior connection for that user; the older
// connection is orphaned, not closed. A reconnect inside the grace window
// cancels the pending disconnect with zero state mutation.
func (s *Session) handleAuthenticate(connID string, msg types.ClientMessage) {
	c := s.clients[connID]
	if c == nil {
		return
	}
	if msg.UserID == "" {
		s.toConn(connID, types.ErrorEvent("user_id is required"))
		return
	}
	c.userID = msg.UserID
	c.displayName = msg.DisplayName

	if old, ok := s.userConns[msg.UserID]; ok && old != connID {
		if orphan := s.clients[old]; orphan != nil {
			orphan.userID = ""
		}
	}
	s.userConns[msg.UserID] = connID

	s.cancelPendingDisconnect(msg.UserID)

	if err := s.store.SetUserOnline(s.ctx, msg.UserID, msg.DisplayName, true); err != nil {
		s.log.Warn("set user online", zap.Error(err))
	}
	s.hub.UserBound(connID, msg.UserID, msg.DisplayName)

	s.toConn(connID, types.Event(types.EvtAuthenticated, map[string]string{
		"user_id":      msg.UserID,
		"session_code": s.code,
	}))
}

func (s *Session) cancelPendingDisconnect(userID string) {
	p := s.pending[userID]
	if p == nil {
		return
	}
	p.timer.Stop()
	delete(s.pending, userID)
}

func (s *Session) shutdown() {
	s.stopDeadline()
	for _, p := range s.pending {
		p.timer.Stop()
	}
	// Outboxes are shared with the hub, so they are never closed here;
	// writers shut down with their connection contexts.
	clear(s.clients)
	clear(s.userConns)
	s.cancel()
}

// after schedules a fire-once callback that re-enters the loop as a
// message. A session shutdown releases the callback instead of leaking it.
func (s *Session) after(d time.Duration, m Msg) *time.Timer {
	return time.AfterFunc(d, func() {
		select {
		case s.inbox <- m:
		case <-s.ctx.Done():
		}
	})
}

// Fan-out. Delivery is best-effort: a missing or saturated connection is
// skipped, never queued or retried.

func (s *Session) toConn(connID string, msg types.ServerMessage) {
	c := s.clients[connID]
	if c == nil {
		return
	}
	select {
	case c.outbox <- msg:
	default:
	}
}

func (s *Session) toUser(userID string, msg types.ServerMessage) {
	if connID, ok := s.userConns[userID]; ok {
		s.toConn(connID, msg)
	}
}

func (s *Session) toTeam(t *Team, msg types.ServerMessage) {
	for _, m := range t.Members {
		s.toUser(m.UserID, msg)
	}
}

func (s *Session) toSession(msg types.ServerMessage) {
	for id := range s.clients {
		s.toConn(id, msg)
	}
}

// Lookups.

func (s *Session) userOf(connID string) string {
	if c := s.clients[connID]; c != nil {
		return c.userID
	}
	return ""
}

func (s *Session) teamByID(id string) *Team {
	for _, t := range s.teams {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Session) teamOf(userID string) *Team {
	for _, t := range s.teams {
		if t.HasMember(userID) {
			return t
		}
	}
	return nil
}

func (s *Session) opposingTeam(t *Team) *Team {
	for _, other := range s.teams {
		if other.ID != t.ID {
			return other
		}
	}
	return nil
}

func (s *Session) rosteredUserIDs() []string {
	var ids []string
	for _, t := range s.teams {
		ids = append(ids, t.MemberIDs()...)
	}
	return ids
}

func (s *Session) connectedMembers(t *Team) []string {
	var ids []string
	for _, m := range t.Members {
		if connID, ok := s.userConns[m.UserID]; ok {
			if _, live := s.clients[connID]; live {
				ids = append(ids, m.UserID)
			}
		}
	}
	return ids
}

func (s *Session) teamViews() []TeamView {
	views := make([]TeamView, 0, len(s.teams))
	for _, t := range s.teams {
		views = append(views, t.View())
	}
	return views
}

func (s *Session) rosterChanged() {
	s.hub.RosterChanged(s.code, s.rosteredUserIDs())
}

func (s *Session) view() View {
	v := View{
		Code:         s.code,
		NumClients:   len(s.clients),
		Teams:        s.teamViews(),
		Invitations:  len(s.invitations),
		JoinRequests: len(s.joinRequests),
		Pending:      len(s.pending),
		Standings:    map[string]int{},
	}
	if s.battle != nil {
		v.BattleActive = s.battle.Status == engine.StatusPlaying
		v.BattleIndex = s.battle.Index
		for teamID, tally := range s.battle.Tallies {
			v.Standings[teamID] = tally.Score
		}
	}
	return v
}
