package session

import (
	"context"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/models"
)

// Store is the persistence collaborator as the session needs it. Calls run
// inline in the session loop; a failure is logged and the in-memory state
// is left as it was before the call.
type Store interface {
	CreateTeam(ctx context.Context, team *models.Team) error
	UpdateTeam(ctx context.Context, team *models.Team) error
	DeleteTeam(ctx context.Context, id string) error

	CreateTeamBattle(ctx context.Context, battle *models.TeamBattle) error
	UpdateTeamBattle(ctx context.Context, battle *models.TeamBattle) error
	DeleteTeamBattle(ctx context.Context, id string) error

	SaveInvitation(ctx context.Context, inv *models.Invitation) error
	UpdateInvitationStatus(ctx context.Context, id string, status models.InvitationStatus) error
	SaveJoinRequest(ctx context.Context, req *models.JoinRequest) error
	UpdateJoinRequestStatus(ctx context.Context, id string, status models.InvitationStatus) error

	SetUserOnline(ctx context.Context, userID, displayName string, online bool) error
	SampleQuestions(ctx context.Context, n int, category, difficulty string) ([]models.Question, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Notifier lets the session tell the process-wide registry about binding
// and roster changes without importing it.
type Notifier interface {
	UserBound(connID, userID, displayName string)
	RosterChanged(sessionCode string, rosteredUserIDs []string)
}

// NopNotifier is used by tests that exercise a session in isolation.
type NopNotifier struct{}

func (NopNotifier) UserBound(string, string, string) {}
func (NopNotifier) RosterChanged(string, []string)   {}
