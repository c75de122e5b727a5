package session

import "github.com/wttaideveloper/BTQ-Project-sub000/internal/types"

type Msg interface{ isSessionMsg() }

// Join attaches a live connection's outbox to the session.
type Join struct {
	ConnID string
	Outbox chan types.ServerMessage
}

func (Join) isSessionMsg() {}

// Leave is posted when the connection closes.
type Leave struct{ ConnID string }

func (Leave) isSessionMsg() {}

// FromClient carries one decoded inbound frame.
type FromClient struct {
	ConnID string
	Msg    types.ClientMessage
}

func (FromClient) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// GetView reflects internal state for tests without data races.
type GetView struct{ Reply chan View }

func (GetView) isSessionMsg() {}

type View struct {
	Code         string
	NumClients   int
	Teams        []TeamView
	Invitations  int
	JoinRequests int
	Pending      int
	BattleActive bool
	BattleIndex  int
	Standings    map[string]int
}

// Timer re-entry messages. Each carries enough to detect staleness.

type invitationExpired struct{ ID string }

func (invitationExpired) isSessionMsg() {}

type joinRequestExpired struct{ ID string }

func (joinRequestExpired) isSessionMsg() {}

type graceExpired struct {
	UserID string
	Gen    int
}

func (graceExpired) isSessionMsg() {}

type countdownDone struct{}

func (countdownDone) isSessionMsg() {}

type questionDeadline struct {
	QIndex int
	Gen    int
}

func (questionDeadline) isSessionMsg() {}

type advanceQuestion struct{ Gen int }

func (advanceQuestion) isSessionMsg() {}

type teardownBattle struct{ Gen int }

func (teardownBattle) isSessionMsg() {}
