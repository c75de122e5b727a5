package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/config"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/models"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/types"
)

// stubStore is an in-memory collaborator so sessions can be exercised in
// isolation; it never fails and records the calls tests assert on.
type stubStore struct {
	questionCount int

	mu          sync.Mutex
	onlineCalls []onlineCall
	invStatuses map[string]models.InvitationStatus
}

type onlineCall struct {
	userID      string
	displayName string
	online      bool
}

func (s *stubStore) lastOnline(userID string) (onlineCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.onlineCalls) - 1; i >= 0; i-- {
		if s.onlineCalls[i].userID == userID {
			return s.onlineCalls[i], true
		}
	}
	return onlineCall{}, false
}

func (s *stubStore) invitationStatus(id string) models.InvitationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invStatuses[id]
}

func (s *stubStore) CreateTeam(context.Context, *models.Team) error       { return nil }
func (s *stubStore) UpdateTeam(context.Context, *models.Team) error       { return nil }
func (s *stubStore) DeleteTeam(context.Context, string) error             { return nil }
func (s *stubStore) CreateTeamBattle(context.Context, *models.TeamBattle) error {
	return nil
}
func (s *stubStore) UpdateTeamBattle(context.Context, *models.TeamBattle) error {
	return nil
}
func (s *stubStore) DeleteTeamBattle(context.Context, string) error { return nil }
func (s *stubStore) SaveInvitation(context.Context, *models.Invitation) error {
	return nil
}
func (s *stubStore) UpdateInvitationStatus(_ context.Context, id string, status models.InvitationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invStatuses == nil {
		s.invStatuses = map[string]models.InvitationStatus{}
	}
	s.invStatuses[id] = status
	return nil
}
func (s *stubStore) SaveJoinRequest(context.Context, *models.JoinRequest) error { return nil }
func (s *stubStore) UpdateJoinRequestStatus(context.Context, string, models.InvitationStatus) error {
	return nil
}
func (s *stubStore) SetUserOnline(_ context.Context, userID, displayName string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onlineCalls = append(s.onlineCalls, onlineCall{userID, displayName, online})
	return nil
}
func (s *stubStore) CreateNotification(context.Context, *models.Notification) error {
	return nil
}

func (s *stubStore) SampleQuestions(_ context.Context, n int, _, _ string) ([]models.Question, error) {
	count := s.questionCount
	if count == 0 {
		count = n
	}
	qs := make([]models.Question, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("q%d", i)
		qs = append(qs, models.Question{
			ID:              id,
			Text:            "question " + id,
			CorrectAnswerID: id + "-a",
			Answers: []models.Answer{
				{ID: id + "-a", QuestionID: id, Text: "right"},
				{ID: id + "-b", QuestionID: id, Text: "wrong"},
			},
		})
	}
	return qs, nil
}

func testConfig() *config.Config {
	return &config.Config{
		QuestionCount:    3,
		QuestionDeadline: 400 * time.Millisecond,
		DisconnectGrace:  60 * time.Millisecond,
		Countdown:        20 * time.Millisecond,
		ResultsDelay:     20 * time.Millisecond,
		InvitationTTL:    time.Minute,
		JoinRequestTTL:   time.Minute,
	}
}

func newTestSession(t *testing.T, cfg *config.Config) *Session {
	s, _ := newSessionAndStore(t, cfg)
	return s
}

func newSessionAndStore(t *testing.T, cfg *config.Config) (*Session, *stubStore) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := &stubStore{}
	return New(ctx, "TEST01", cfg, st, NopNotifier{}, zap.NewNop()), st
}

func joinClient(s *Session, connID string) chan types.ServerMessage {
	out := make(chan types.ServerMessage, 64)
	s.Inbox() <- Join{ConnID: connID, Outbox: out}
	return out
}

func authAs(s *Session, connID, userID string) {
	s.Inbox() <- FromClient{ConnID: connID, Msg: types.ClientMessage{
		Type:        types.EvtAuthenticate,
		UserID:      userID,
		DisplayName: userID,
	}}
}

func send(s *Session, connID string, msg types.ClientMessage) {
	s.Inbox() <- FromClient{ConnID: connID, Msg: msg}
}

// recvEvent waits for the next frame of the wanted type, skipping the
// rest, so broadcasts interleaving in the buffer do not flake tests.
func recvEvent(t *testing.T, ch <-chan types.ServerMessage, typ string, within time.Duration) map[string]any {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting for %q", typ)
			}
			if msg.Type != typ {
				continue
			}
			payload := map[string]any{}
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &payload); err != nil {
					t.Fatalf("bad payload for %q: %v", typ, err)
				}
			}
			if msg.Error != "" {
				payload["error"] = msg.Error
			}
			return payload
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
			return nil
		}
	}
}

func recvNoEvent(t *testing.T, ch <-chan types.ServerMessage, typ string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Type == typ {
				t.Fatalf("expected no %q within %v, but got one", typ, within)
			}
		case <-deadline:
			return
		}
	}
}

func getView(t *testing.T, s *Session) View {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

// formTwoTeams drives the canonical recruit flow: alice recruits bob as
// the opposing captain, bob accepts. Returns once both teams exist.
func formTwoTeams(t *testing.T, s *Session, outA, outB chan types.ServerMessage) {
	t.Helper()
	send(s, "connA", types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: "bob"})
	inv := recvEvent(t, outB, types.EvtTeamInvitationReceived, time.Second)
	require.Equal(t, "opponent", inv["kind"])
	send(s, "connB", types.ClientMessage{Type: types.EvtAcceptInvitation, InvitationID: inv["id"].(string)})
	recvEvent(t, outA, types.EvtTeamJoined, time.Second)
}

func startBattle(t *testing.T, s *Session, outA, outB chan types.ServerMessage) {
	t.Helper()
	send(s, "connA", types.ClientMessage{Type: types.EvtTeamBattleReady})
	send(s, "connB", types.ClientMessage{Type: types.EvtTeamBattleReady})
	recvEvent(t, outA, types.EvtBattleStarted, time.Second)
	recvEvent(t, outB, types.EvtBattleStarted, time.Second)
}

func TestRecruit_OpponentFirstThenTeammate(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	outC := joinClient(s, "connC")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	authAs(s, "connC", "carol")

	// With no opposing team, recruiting yields an opponent-captain
	// invitation and lazily creates alice's own team.
	formTwoTeams(t, s, outA, outB)

	v := getView(t, s)
	require.Len(t, v.Teams, 2)
	require.Equal(t, "alice", v.Teams[0].CaptainID)
	require.Equal(t, "bob", v.Teams[1].CaptainID)

	// Both teams exist now, so the next recruit is a teammate invitation.
	send(s, "connA", types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: "carol"})
	inv := recvEvent(t, outC, types.EvtTeamInvitationReceived, time.Second)
	require.Equal(t, "teammate", inv["kind"])

	send(s, "connC", types.ClientMessage{Type: types.EvtAcceptInvitation, InvitationID: inv["id"].(string)})
	recvEvent(t, outA, types.EvtTeamJoined, time.Second)

	v = getView(t, s)
	require.Len(t, v.Teams[0].Members, 2)
	require.Equal(t, RoleMember, v.Teams[0].Members[1].Role)
}

func TestRecruit_SelfInvitationRejected(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	authAs(s, "connA", "alice")

	send(s, "connA", types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: "alice"})
	evt := recvEvent(t, outA, types.EvtError, time.Second)
	require.Contains(t, evt["error"], "yourself")
}

func TestGraceReconnect_ZeroMutationZeroNotifications(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	formTwoTeams(t, s, outA, outB)

	// Bob's socket drops and comes back inside the grace window, like a
	// page reload.
	s.Inbox() <- Leave{ConnID: "connB"}
	outB2 := joinClient(s, "connB2")
	authAs(s, "connB2", "bob")
	recvEvent(t, outB2, types.EvtAuthenticated, time.Second)

	// Wait past the grace window: no roster mutation, no peer noise.
	recvNoEvent(t, outA, types.EvtOpponentDisconnected, 150*time.Millisecond)

	v := getView(t, s)
	require.Len(t, v.Teams, 2)
	require.Len(t, v.Teams[1].Members, 1)
	require.Zero(t, v.Pending)
}

func TestGraceExpiry_HostCaptainCancelsSetup(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	formTwoTeams(t, s, outA, outB)

	s.Inbox() <- Leave{ConnID: "connA"}

	evt := recvEvent(t, outB, types.EvtBattleEnded, time.Second)
	require.Equal(t, true, evt["cancelled"])

	v := getView(t, s)
	require.Empty(t, v.Teams)
}

func TestGraceExpiry_MemberRemovedAndPeersNotified(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	outC := joinClient(s, "connC")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	authAs(s, "connC", "carol")
	formTwoTeams(t, s, outA, outB)

	send(s, "connA", types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: "carol"})
	inv := recvEvent(t, outC, types.EvtTeamInvitationReceived, time.Second)
	send(s, "connC", types.ClientMessage{Type: types.EvtAcceptInvitation, InvitationID: inv["id"].(string)})
	recvEvent(t, outA, types.EvtTeamJoined, time.Second)

	s.Inbox() <- Leave{ConnID: "connC"}

	recvEvent(t, outA, types.EvtTeammateDisconnected, time.Second)
	recvEvent(t, outB, types.EvtOpponentMemberDisconnect, time.Second)

	v := getView(t, s)
	require.Len(t, v.Teams[0].Members, 1)
}

func TestBothReady_CountdownThenStartAndTurnTagging(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	formTwoTeams(t, s, outA, outB)

	// Two one-member teams are enough in the permissive variant; the
	// second ready call observes both_ready and arms the countdown.
	send(s, "connA", types.ClientMessage{Type: types.EvtTeamBattleReady})
	send(s, "connB", types.ClientMessage{Type: types.EvtTeamBattleReady})

	recvEvent(t, outA, types.EvtBattleCountdown, time.Second)
	recvEvent(t, outB, types.EvtBattleCountdown, time.Second)
	recvEvent(t, outA, types.EvtBattleStarted, time.Second)

	// Question 1 is side A's: tagged is_your_turn for alice only.
	qA := recvEvent(t, outA, types.EvtBattleQuestion, time.Second)
	require.Equal(t, true, qA["is_your_turn"])
	qB := recvEvent(t, outB, types.EvtBattleQuestion, time.Second)
	require.Equal(t, false, qB["is_your_turn"])
	require.Equal(t, qA["id"], qB["id"])
}

func TestSubmitAnswer_FullRosterFinalizesEarly(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	formTwoTeams(t, s, outA, outB)
	startBattle(t, s, outA, outB)

	q := recvEvent(t, outA, types.EvtBattleQuestion, time.Second)
	recvEvent(t, outB, types.EvtBattleQuestion, time.Second)
	answerID := q["id"].(string) + "-a"
	send(s, "connA", types.ClientMessage{Type: types.EvtSubmitTeamAnswer, AnswerID: answerID})

	fin := recvEvent(t, outA, types.EvtTeamAnswerFinalized, time.Second)
	final := fin["final"].(map[string]any)
	require.Equal(t, true, final["correct"])
	recvEvent(t, outB, types.EvtBattleQuestionResults, time.Second)

	// Next question belongs to side B.
	q2 := recvEvent(t, outB, types.EvtBattleQuestion, time.Second)
	require.Equal(t, true, q2["is_your_turn"])
}

func TestDeadline_FinalizesWithNoVotes(t *testing.T) {
	cfg := testConfig()
	cfg.QuestionDeadline = 60 * time.Millisecond
	s := newTestSession(t, cfg)
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	formTwoTeams(t, s, outA, outB)
	startBattle(t, s, outA, outB)

	recvEvent(t, outA, types.EvtBattleQuestion, time.Second)

	// Nobody votes; the deadline finalizes a did-not-answer result.
	res := recvEvent(t, outA, types.EvtBattleQuestionResults, time.Second)
	standings := res["standings"].([]any)
	for _, raw := range standings {
		st := raw.(map[string]any)
		require.Equal(t, float64(0), st["score"])
	}
}

func TestForfeiture_OpponentDeclaredWinnerWithFlag(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	formTwoTeams(t, s, outA, outB)
	startBattle(t, s, outA, outB)

	// Team B's only connection closes mid-battle: immediate forfeiture,
	// no grace period.
	s.Inbox() <- Leave{ConnID: "connB"}

	evt := recvEvent(t, outA, types.EvtBattleEndedByDisconnect, time.Second)
	require.Equal(t, true, evt["is_winner"])

	v := getView(t, s)
	require.False(t, v.BattleActive)
}

func TestCaptainFailover_DuringBattle(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	outC := joinClient(s, "connC")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	authAs(s, "connC", "carol")
	formTwoTeams(t, s, outA, outB)

	send(s, "connA", types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: "carol"})
	inv := recvEvent(t, outC, types.EvtTeamInvitationReceived, time.Second)
	send(s, "connC", types.ClientMessage{Type: types.EvtAcceptInvitation, InvitationID: inv["id"].(string)})
	recvEvent(t, outA, types.EvtTeamJoined, time.Second)
	startBattle(t, s, outA, outB)

	s.Inbox() <- Leave{ConnID: "connA"}

	evt := recvEvent(t, outC, types.EvtCaptainChanged, time.Second)
	require.Equal(t, "carol", evt["new_captain_id"])
	recvEvent(t, outB, types.EvtOpponentDisconnected, time.Second)

	v := getView(t, s)
	require.True(t, v.BattleActive)
	require.Equal(t, "carol", v.Teams[0].CaptainID)
}

func TestAcceptInvitation_ExpiresCompetingOffers(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	outC := joinClient(s, "connC")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	authAs(s, "connC", "carol")
	formTwoTeams(t, s, outA, outB)

	// Carol is courted by both captains.
	send(s, "connA", types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: "carol"})
	invFromAlice := recvEvent(t, outC, types.EvtTeamInvitationReceived, time.Second)
	send(s, "connB", types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: "carol"})
	invFromBob := recvEvent(t, outC, types.EvtTeamInvitationReceived, time.Second)

	send(s, "connC", types.ClientMessage{Type: types.EvtAcceptInvitation, InvitationID: invFromAlice["id"].(string)})
	recvEvent(t, outC, types.EvtTeamJoined, time.Second)

	// Bob's invitation was expired the moment carol landed on a team.
	send(s, "connC", types.ClientMessage{Type: types.EvtAcceptInvitation, InvitationID: invFromBob["id"].(string)})
	evt := recvEvent(t, outC, types.EvtError, time.Second)
	require.Contains(t, evt["error"], "not found or expired")
}

func TestDuplicatePendingInvitationRejected(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")

	send(s, "connA", types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: "bob"})
	recvEvent(t, outB, types.EvtTeamInvitationReceived, time.Second)

	send(s, "connA", types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: "bob"})
	evt := recvEvent(t, outA, types.EvtError, time.Second)
	require.Contains(t, evt["error"], "already pending")
}

func TestGetGameState_ReconnectionSnapshot(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	formTwoTeams(t, s, outA, outB)
	startBattle(t, s, outA, outB)
	recvEvent(t, outA, types.EvtBattleQuestion, time.Second)

	send(s, "connA", types.ClientMessage{Type: types.EvtGetGameState})
	state := recvEvent(t, outA, types.EvtGameState, time.Second)
	require.Len(t, state["teams"].([]any), 2)
	battle := state["battle"].(map[string]any)
	require.Equal(t, "playing", battle["status"])
	question := state["question"].(map[string]any)
	require.Equal(t, true, question["is_your_turn"])
}

// addTeammate drives a captain's teammate invitation through acceptance.
func addTeammate(t *testing.T, s *Session, captainConn string, inviteeConn, inviteeID string, outInvitee chan types.ServerMessage) {
	t.Helper()
	send(s, captainConn, types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: inviteeID})
	inv := recvEvent(t, outInvitee, types.EvtTeamInvitationReceived, time.Second)
	require.Equal(t, "teammate", inv["kind"])
	send(s, inviteeConn, types.ClientMessage{Type: types.EvtAcceptInvitation, InvitationID: inv["id"].(string)})
	recvEvent(t, outInvitee, types.EvtTeamJoined, time.Second)
}

func TestTeamReady_CaptainOnly(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	outC := joinClient(s, "connC")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	authAs(s, "connC", "carol")
	formTwoTeams(t, s, outA, outB)
	addTeammate(t, s, "connA", "connC", "carol", outC)

	send(s, "connC", types.ClientMessage{Type: types.EvtTeamReady})
	evt := recvEvent(t, outC, types.EvtError, time.Second)
	require.Contains(t, evt["error"], "captain")

	send(s, "connA", types.ClientMessage{Type: types.EvtTeamReady})
	status := recvEvent(t, outB, types.EvtTeamReadyStatus, time.Second)
	require.Equal(t, true, status["ready"])
	require.Equal(t, false, status["both_ready"])
}

func TestJoinRequest_AcceptAddsMember(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	outC := joinClient(s, "connC")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	authAs(s, "connC", "carol")
	formTwoTeams(t, s, outA, outB)

	teamID := getView(t, s).Teams[0].ID
	send(s, "connC", types.ClientMessage{Type: types.EvtRequestJoinTeam, TeamID: teamID})

	req := recvEvent(t, outA, types.EvtJoinRequestReceived, time.Second)
	require.Equal(t, "carol", req["requester_id"])
	send(s, "connA", types.ClientMessage{Type: types.EvtAcceptJoinRequest, RequestID: req["request_id"].(string)})

	recvEvent(t, outC, types.EvtTeamJoined, time.Second)
	v := getView(t, s)
	require.Len(t, v.Teams[0].Members, 2)
	require.Equal(t, "carol", v.Teams[0].Members[1].UserID)
}

func TestJoinRequest_DeclineNotifiesRequester(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	outC := joinClient(s, "connC")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	authAs(s, "connC", "carol")
	formTwoTeams(t, s, outA, outB)

	teamID := getView(t, s).Teams[0].ID
	send(s, "connC", types.ClientMessage{Type: types.EvtRequestJoinTeam, TeamID: teamID})
	req := recvEvent(t, outA, types.EvtJoinRequestReceived, time.Second)

	send(s, "connA", types.ClientMessage{Type: types.EvtDeclineJoinRequest, RequestID: req["request_id"].(string)})
	recvEvent(t, outC, types.EvtJoinRequestDeclined, time.Second)

	require.Len(t, getView(t, s).Teams[0].Members, 1)
}

func TestJoinRequest_AutoRejectedAtCapacity(t *testing.T) {
	s := newTestSession(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	outC := joinClient(s, "connC")
	outD := joinClient(s, "connD")
	outE := joinClient(s, "connE")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	authAs(s, "connC", "carol")
	authAs(s, "connD", "dave")
	authAs(s, "connE", "eve")
	formTwoTeams(t, s, outA, outB)
	addTeammate(t, s, "connA", "connC", "carol", outC)
	addTeammate(t, s, "connA", "connD", "dave", outD)

	// Alice's side is at the roster cap; the request still lands but
	// accepting it auto-rejects and tells the requester why.
	teamID := getView(t, s).Teams[0].ID
	send(s, "connE", types.ClientMessage{Type: types.EvtRequestJoinTeam, TeamID: teamID})
	req := recvEvent(t, outA, types.EvtJoinRequestReceived, time.Second)
	send(s, "connA", types.ClientMessage{Type: types.EvtAcceptJoinRequest, RequestID: req["request_id"].(string)})

	declined := recvEvent(t, outE, types.EvtJoinRequestDeclined, time.Second)
	require.Contains(t, declined["reason"], "full")
	evt := recvEvent(t, outA, types.EvtError, time.Second)
	require.Contains(t, evt["error"], "full")
	require.Len(t, getView(t, s).Teams[0].Members, 3)
}

func TestJoinRequest_ExpiresAfterTTL(t *testing.T) {
	cfg := testConfig()
	cfg.JoinRequestTTL = 40 * time.Millisecond
	s := newTestSession(t, cfg)
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	joinClient(s, "connC")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")
	authAs(s, "connC", "carol")
	formTwoTeams(t, s, outA, outB)

	teamID := getView(t, s).Teams[0].ID
	send(s, "connC", types.ClientMessage{Type: types.EvtRequestJoinTeam, TeamID: teamID})
	req := recvEvent(t, outA, types.EvtJoinRequestReceived, time.Second)

	time.Sleep(120 * time.Millisecond)
	send(s, "connA", types.ClientMessage{Type: types.EvtAcceptJoinRequest, RequestID: req["request_id"].(string)})
	evt := recvEvent(t, outA, types.EvtError, time.Second)
	require.Contains(t, evt["error"], "not found or expired")
	require.Len(t, getView(t, s).Teams[0].Members, 1)
}

func TestInvitation_ExpiresAfterTTL(t *testing.T) {
	cfg := testConfig()
	cfg.InvitationTTL = 40 * time.Millisecond
	s, st := newSessionAndStore(t, cfg)
	joinClient(s, "connA")
	outB := joinClient(s, "connB")
	authAs(s, "connA", "alice")
	authAs(s, "connB", "bob")

	send(s, "connA", types.ClientMessage{Type: types.EvtRecruitPlayer, InviteeID: "bob"})
	inv := recvEvent(t, outB, types.EvtTeamInvitationReceived, time.Second)
	invID := inv["id"].(string)

	// The TTL timer flips the invitation to expired on its own.
	require.Eventually(t, func() bool {
		return st.invitationStatus(invID) == models.InvitationExpired
	}, time.Second, 10*time.Millisecond)

	send(s, "connB", types.ClientMessage{Type: types.EvtAcceptInvitation, InvitationID: invID})
	evt := recvEvent(t, outB, types.EvtError, time.Second)
	require.Contains(t, evt["error"], "not found or expired")
}

func TestGraceExpiry_PreservesDisplayName(t *testing.T) {
	s, st := newSessionAndStore(t, testConfig())
	outA := joinClient(s, "connA")
	outB := joinClient(s, "connB")
	authAs(s, "connA", "alice")
	send(s, "connB", types.ClientMessage{Type: types.EvtAuthenticate, UserID: "bob", DisplayName: "Bobby"})
	recvEvent(t, outB, types.EvtAuthenticated, time.Second)
	formTwoTeams(t, s, outA, outB)

	s.Inbox() <- Leave{ConnID: "connB"}
	recvEvent(t, outA, types.EvtOpponentDisconnected, time.Second)

	// The offline write must carry bob's last known name, not blank it.
	call, ok := st.lastOnline("bob")
	require.True(t, ok)
	require.False(t, call.online)
	require.Equal(t, "Bobby", call.displayName)
}
