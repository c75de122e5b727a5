package store

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/models"
)

// Store is the gorm-backed persistence collaborator. Every method takes a
// context and returns an error; callers treat failures as best-effort and
// keep the session loop alive.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(databaseURL string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.TeamBattle{},
		&models.Invitation{},
		&models.JoinRequest{},
		&models.Question{},
		&models.Answer{},
		&models.Notification{},
	); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) CreateTeam(ctx context.Context, team *models.Team) error {
	return s.db.WithContext(ctx).Create(team).Error
}

func (s *Store) UpdateTeam(ctx context.Context, team *models.Team) error {
	return s.db.WithContext(ctx).Save(team).Error
}

func (s *Store) DeleteTeam(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&models.Team{}, "id = ?", id).Error
}

func (s *Store) CreateTeamBattle(ctx context.Context, battle *models.TeamBattle) error {
	return s.db.WithContext(ctx).Create(battle).Error
}

func (s *Store) UpdateTeamBattle(ctx context.Context, battle *models.TeamBattle) error {
	return s.db.WithContext(ctx).Save(battle).Error
}

func (s *Store) DeleteTeamBattle(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&models.TeamBattle{}, "id = ?", id).Error
}

func (s *Store) SaveInvitation(ctx context.Context, inv *models.Invitation) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(inv).Error
}

func (s *Store) UpdateInvitationStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	return s.db.WithContext(ctx).
		Model(&models.Invitation{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (s *Store) SaveJoinRequest(ctx context.Context, req *models.JoinRequest) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(req).Error
}

func (s *Store) UpdateJoinRequestStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	return s.db.WithContext(ctx).
		Model(&models.JoinRequest{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// SetUserOnline upserts the user row and flips its online flag. An empty
// display name leaves the stored one untouched.
func (s *Store) SetUserOnline(ctx context.Context, userID, displayName string, online bool) error {
	user := models.User{ID: userID, DisplayName: displayName, IsOnline: online}
	cols := []string{"is_online", "updated_at"}
	if displayName != "" {
		cols = append(cols, "display_name")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&user).Error
}

// SampleQuestions pulls n random questions with their answers, optionally
// filtered by category and difficulty.
func (s *Store) SampleQuestions(ctx context.Context, n int, category, difficulty string) ([]models.Question, error) {
	q := s.db.WithContext(ctx).Preload("Answers")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if difficulty != "" {
		q = q.Where("difficulty = ?", difficulty)
	}
	var questions []models.Question
	if err := q.Order("RANDOM()").Limit(n).Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}
