package session

import (
	"time"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/engine"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/models"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/types"
)

type Role string

const (
	RoleCaptain Role = "captain"
	RoleMember  Role = "member"
)

type TeamStatus string

const (
	TeamForming  TeamStatus = "forming"
	TeamReady    TeamStatus = "ready"
	TeamPlaying  TeamStatus = "playing"
	TeamFinished TeamStatus = "finished"
)

type Member struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Team is the in-memory roster. It is only ever touched from the session
// loop; the models.Team row is its eventually-consistent mirror.
type Team struct {
	ID        string
	Name      string
	CaptainID string
	Members   []Member
	Status    TeamStatus
	Ready     bool
}

func (t *Team) HasMember(userID string) bool {
	for _, m := range t.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (t *Team) RemoveMember(userID string) {
	for i, m := range t.Members {
		if m.UserID == userID {
			t.Members = append(t.Members[:i], t.Members[i+1:]...)
			return
		}
	}
}

func (t *Team) MemberIDs() []string {
	ids := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

type Invitation struct {
	ID        string
	InviterID string
	InviteeID string
	TeamID    string // empty for found-a-new-team invitations
	Kind      models.InvitationKind
	Status    models.InvitationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

type JoinRequest struct {
	ID          string
	RequesterID string
	TeamID      string
	Status      models.InvitationStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// pendingDisconnect buffers a connection loss behind the grace period so a
// page reload does not tear the user out of their team.
type pendingDisconnect struct {
	UserID string
	ConnID string
	Gen    int
	timer  *time.Timer
}

// client is one live connection attached to this session.
type client struct {
	id          string
	userID      string
	displayName string
	outbox      chan types.ServerMessage
}

// Wire views.

type MemberView struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

type TeamView struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	CaptainID string       `json:"captain_id"`
	Status    TeamStatus   `json:"status"`
	Ready     bool         `json:"ready"`
	Members   []MemberView `json:"members"`
}

func (t *Team) View() TeamView {
	v := TeamView{
		ID:        t.ID,
		Name:      t.Name,
		CaptainID: t.CaptainID,
		Status:    t.Status,
		Ready:     t.Ready,
		Members:   make([]MemberView, 0, len(t.Members)),
	}
	for _, m := range t.Members {
		v.Members = append(v.Members, MemberView{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Role:        m.Role,
			JoinedAt:    m.JoinedAt,
		})
	}
	return v
}

type QuestionView struct {
	Number     int             `json:"number"` // 1-indexed
	Total      int             `json:"total"`
	ID         string          `json:"id"`
	Text       string          `json:"text"`
	Answers    []engine.Answer `json:"answers"`
	TeamID     string          `json:"team_id"` // answering team
	IsYourTurn bool            `json:"is_your_turn"`
	DeadlineMS int64           `json:"deadline_ms"`
}

type BattleView struct {
	ID        string            `json:"id"`
	Status    engine.Status     `json:"status"`
	Number    int               `json:"number"`
	Total     int               `json:"total"`
	Standings []engine.Standing `json:"standings"`
}

type GameStateView struct {
	SessionCode string        `json:"session_code"`
	Teams       []TeamView    `json:"teams"`
	Battle      *BattleView   `json:"battle,omitempty"`
	Question    *QuestionView `json:"question,omitempty"`
}
