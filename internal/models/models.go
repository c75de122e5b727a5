package models

import "time"

type User struct {
	ID          string    `json:"id" gorm:"primaryKey;size:64"`
	DisplayName string    `json:"display_name" gorm:"size:100"`
	IsOnline    bool      `json:"is_online" gorm:"default:false;index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Team is the persisted mirror of an in-memory session team. Roster
// membership lives on the battle row; the team row carries identity,
// captaincy and running counters.
type Team struct {
	ID          string    `json:"id" gorm:"primaryKey;size:64"`
	SessionCode string    `json:"session_code" gorm:"index;size:20"`
	Name        string    `json:"name" gorm:"size:100"`
	CaptainID   string    `json:"captain_id" gorm:"index;size:64"`
	Status      string    `json:"status" gorm:"default:'forming';size:20;index"`
	Score       int       `json:"score" gorm:"default:0"`
	Correct     int       `json:"correct" gorm:"default:0"`
	Incorrect   int       `json:"incorrect" gorm:"default:0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Team) TableName() string { return "teams" }

type TeamBattle struct {
	ID           string     `json:"id" gorm:"primaryKey;size:64"`
	SessionCode  string     `json:"session_code" gorm:"uniqueIndex;size:20"`
	CaptainAID   string     `json:"captain_a_id" gorm:"size:64"`
	CaptainBID   string     `json:"captain_b_id" gorm:"size:64"`
	TeammateAIDs string     `json:"teammate_a_ids" gorm:"type:text"` // JSON array of user ids
	TeammateBIDs string     `json:"teammate_b_ids" gorm:"type:text"`
	ScoreA       int        `json:"score_a" gorm:"default:0"`
	ScoreB       int        `json:"score_b" gorm:"default:0"`
	CorrectA     int        `json:"correct_a" gorm:"default:0"`
	CorrectB     int        `json:"correct_b" gorm:"default:0"`
	IncorrectA   int        `json:"incorrect_a" gorm:"default:0"`
	IncorrectB   int        `json:"incorrect_b" gorm:"default:0"`
	Status       string     `json:"status" gorm:"default:'waiting';size:20;index"`
	FinishedAt   *time.Time `json:"finished_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (TeamBattle) TableName() string { return "team_battles" }

type InvitationKind string

const (
	InvitationTeammate InvitationKind = "teammate"
	InvitationOpponent InvitationKind = "opponent"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

type Invitation struct {
	ID        string           `json:"id" gorm:"primaryKey;size:64"`
	InviterID string           `json:"inviter_id" gorm:"index;size:64"`
	InviteeID string           `json:"invitee_id" gorm:"index;size:64"`
	TeamID    *string          `json:"team_id" gorm:"size:64"` // nil for found-a-new-team invitations
	Kind      InvitationKind   `json:"kind" gorm:"size:20"`
	Status    InvitationStatus `json:"status" gorm:"default:'pending';size:20;index"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at" gorm:"index"`
}

func (Invitation) TableName() string { return "invitations" }

type JoinRequest struct {
	ID          string           `json:"id" gorm:"primaryKey;size:64"`
	RequesterID string           `json:"requester_id" gorm:"index;size:64"`
	TeamID      string           `json:"team_id" gorm:"index;size:64"`
	Status      InvitationStatus `json:"status" gorm:"default:'pending';size:20;index"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at" gorm:"index"`
}

func (JoinRequest) TableName() string { return "join_requests" }

type Question struct {
	ID              string    `json:"id" gorm:"primaryKey;size:64"`
	Text            string    `json:"text" gorm:"type:text"`
	Category        string    `json:"category" gorm:"size:50;index"`
	Difficulty      string    `json:"difficulty" gorm:"size:20;index"`
	CorrectAnswerID string    `json:"-" gorm:"size:64"`
	Answers         []Answer  `json:"answers" gorm:"foreignKey:QuestionID"`
	CreatedAt       time.Time `json:"created_at"`
}

func (Question) TableName() string { return "questions" }

type Answer struct {
	ID         string `json:"id" gorm:"primaryKey;size:64"`
	QuestionID string `json:"question_id" gorm:"index;size:64"`
	Text       string `json:"text" gorm:"type:text"`
}

func (Answer) TableName() string { return "answers" }

type Notification struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	UserID    string    `json:"user_id" gorm:"index;size:64"`
	Type      string    `json:"type" gorm:"size:50"`
	Message   string    `json:"message" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (Notification) TableName() string { return "notifications" }
