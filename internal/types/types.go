package types

import "encoding/json"

// Client -> server events. Every inbound frame carries a string type
// discriminant plus whichever fields that event needs; there is no
// request/response correlation on the wire.
const (
	EvtAuthenticate           = "authenticate"
	EvtCreateTeam             = "create_team"
	EvtRecruitPlayer          = "recruit_player"
	EvtAcceptInvitation       = "accept_invitation"
	EvtDeclineInvitation      = "decline_invitation"
	EvtRequestJoinTeam        = "request_join_team"
	EvtAcceptJoinRequest      = "accept_join_request"
	EvtDeclineJoinRequest     = "decline_join_request"
	EvtSubmitTeamAnswer       = "submit_team_answer"
	EvtFinalizeTeamAnswer     = "finalize_team_answer"
	EvtTeamReady              = "team_ready"
	EvtTeamBattleReady        = "team_battle_ready"
	EvtStartTeamBattle        = "start_team_battle"
	EvtGetGameState           = "get_game_state"
	EvtRejoinTeam             = "rejoin_team"
	EvtPlayerLeavingBattle    = "player_leaving_team_battle"
	EvtPlayerLeavingTeamSetup = "player_leaving_team_setup"
)

// Server -> client events.
const (
	EvtConnectionEstablished    = "connection_established"
	EvtAuthenticated            = "authenticated"
	EvtOnlineUsersUpdated       = "online_users_updated"
	EvtTeamCreated              = "team_created"
	EvtTeamUpdated              = "team_updated"
	EvtTeamJoined               = "team_joined"
	EvtTeamRejoined             = "team_rejoined"
	EvtTeamInvitationReceived   = "team_invitation_received"
	EvtTeamInvitationSent       = "team_invitation_sent"
	EvtInvitationDeclined       = "team_invitation_declined"
	EvtJoinRequestReceived      = "join_request_received"
	EvtJoinRequestDeclined      = "join_request_declined"
	EvtTeamReadyStatus          = "team_ready_status"
	EvtBattleCountdown          = "team_battle_countdown"
	EvtBattleStarted            = "team_battle_started"
	EvtBattleQuestion           = "team_battle_question"
	EvtBattleQuestionResults    = "team_battle_question_results"
	EvtTeamAnswerFinalized      = "team_answer_finalized"
	EvtCaptainChanged           = "captain_changed"
	EvtOpponentDisconnected     = "opponent_disconnected"
	EvtOpponentMemberDisconnect = "opponent_team_member_disconnected"
	EvtTeammateDisconnected     = "teammate_disconnected"
	EvtBattleEnded              = "team_battle_ended"
	EvtBattleEndedByDisconnect  = "team_battle_ended_opponent_disconnect"
	EvtGameState                = "game_state"
	EvtError                    = "error"
)

// ClientMessage is the single inbound frame shape; unused fields are
// omitted per event type.
type ClientMessage struct {
	Type         string `json:"type"`
	UserID       string `json:"user_id,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	TeamName     string `json:"team_name,omitempty"`
	TeamID       string `json:"team_id,omitempty"`
	InviteeID    string `json:"invitee_id,omitempty"`
	InvitationID string `json:"invitation_id,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	QuestionID   string `json:"question_id,omitempty"`
	AnswerID     string `json:"answer_id,omitempty"`
}

// ServerMessage is the outbound frame: a type tag plus an event-specific
// payload marshalled as one object.
type ServerMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Event builds a ServerMessage from any payload value. A marshal failure
// collapses to an empty payload; the type tag still goes out.
func Event(typ string, payload any) ServerMessage {
	if payload == nil {
		return ServerMessage{Type: typ}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ServerMessage{Type: typ}
	}
	return ServerMessage{Type: typ, Payload: raw}
}

// ErrorEvent is the uniform validation/not-found reply sent only to the
// originating connection.
func ErrorEvent(msg string) ServerMessage {
	return ServerMessage{Type: EvtError, Error: msg}
}
