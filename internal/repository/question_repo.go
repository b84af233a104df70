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

// QuestionRepositoryImpl loads and persists the collaborative fields of a question.
// Learning: This is the IMPLEMENTATION. The collaboration package declares
// the two-method interface it actually needs.
type QuestionRepositoryImpl struct {
	db *gorm.DB
}

// NewQuestionRepository creates a new question repository
func NewQuestionRepository(db *gorm.DB) *QuestionRepositoryImpl {
	return &QuestionRepositoryImpl{db: db}
}

// Load returns the stored question text and context fields.
// A missing question yields models.ErrNotFound; a missing context row yields empty fields.
func (r *QuestionRepositoryImpl) Load(ctx context.Context, questionID string) (models.Fields, error) {
	var q models.Question

	err := r.db.WithContext(ctx).
		Preload("Context").
		First(&q, "id = ?", questionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Fields{}, fmt.Errorf("question %s: %w", questionID, models.ErrNotFound)
	}
	if err != nil {
		return models.Fields{}, fmt.Errorf("%w: failed to load question %s: %v", models.ErrPersistence, questionID, err)
	}

	return models.FieldsFromQuestion(&q), nil
}

// Save writes the materialized fields back in one transaction:
// the question text first, then an upsert of the context row.
func (r *QuestionRepositoryImpl) Save(ctx context.Context, questionID string, fields models.Fields) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Question{}).
			Where("id = ?", questionID).
			Updates(map[string]interface{}{
				"core_question": fields.Question,
				"updated_at":    time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("question %s: %w", questionID, models.ErrNotFound)
		}

		qc := &models.QuestionContext{
			QuestionID:        questionID,
			Background:        fields.Context.Background,
			PriorKnowledge:    fields.Context.PriorKnowledge,
			AttemptedApproach: fields.Context.AttemptedApproach,
			ExpectedUse:       fields.Context.ExpectedUse,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"background", "prior_knowledge", "attempted_approach", "expected_use", "updated_at",
			}),
		}).Create(qc).Error
	})

	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: failed to save question %s: %v", models.ErrPersistence, questionID, err)
}
