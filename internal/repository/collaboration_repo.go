package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"question-collab/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/*
LEARNING: ACCESS AND PRESENCE QUERIES

Query patterns:
- GetAccess: one question row + at most one grant row, decides the joiner's role
- TouchPresence: upsert keyed by (question_id, user_id), never deletes
- ActiveUsers: recency-window read used for the room roster
*/

// CollaborationRepositoryImpl handles grants and presence rows.
type CollaborationRepositoryImpl struct {
	db *gorm.DB
}

// NewCollaborationRepository creates a new collaboration repository
func NewCollaborationRepository(db *gorm.DB) *CollaborationRepositoryImpl {
	return &CollaborationRepositoryImpl{db: db}
}

// GetAccess returns ownership, publication status and the user's grant for a question.
func (r *CollaborationRepositoryImpl) GetAccess(ctx context.Context, questionID, userID string) (*models.Access, error) {
	var q models.Question

	err := r.db.WithContext(ctx).
		Select("id", "user_id", "status").
		First(&q, "id = ?", questionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("question %s: %w", questionID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get question access: %v", models.ErrPersistence, err)
	}

	access := &models.Access{
		OwnerID:   q.UserID,
		Published: q.Status == models.StatusPublished,
	}

	var grants []models.Collaboration
	err = r.db.WithContext(ctx).
		Where("question_id = ? AND user_id = ?", questionID, userID).
		Limit(1).
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get collaboration grant: %v", models.ErrPersistence, err)
	}
	if len(grants) > 0 {
		access.GrantRole = grants[0].Role
	}

	return access, nil
}

// TouchPresence creates or refreshes the presence row of a user in a question room.
func (r *CollaborationRepositoryImpl) TouchPresence(ctx context.Context, p *models.Presence) error {
	if p.LastActive.IsZero() {
		p.LastActive = time.Now()
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "question_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "role", "last_active"}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("%w: failed to touch presence: %v", models.ErrPersistence, err)
	}

	return nil
}

// ActiveUsers returns presence rows updated at or after since, oldest first.
func (r *CollaborationRepositoryImpl) ActiveUsers(ctx context.Context, questionID string, since time.Time) ([]models.ActiveUser, error) {
	var rows []models.Presence

	err := r.db.WithContext(ctx).
		Where("question_id = ? AND last_active >= ?", questionID, since).
		Order("last_active ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get active users: %v", models.ErrPersistence, err)
	}

	users := make([]models.ActiveUser, 0, len(rows))
	for _, p := range rows {
		users = append(users, models.ActiveUser{
			ID:         p.UserID,
			Email:      p.Email,
			Role:       p.Role,
			LastActive: p.LastActive,
		})
	}

	return users, nil
}
