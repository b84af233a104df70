package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type QuestionStatus string

const (
	StatusDraft     QuestionStatus = "DRAFT"
	StatusPublished QuestionStatus = "PUBLISHED"
)

// Question is the canonical row behind a collaborative document.
// The schema is owned by the REST layer; the realtime service only reads
// ownership/status and writes the core question text.
type Question struct {
	ID           string           `json:"id" gorm:"type:char(27);primaryKey"`
	UserID       string           `json:"user_id" gorm:"type:varchar(64);not null;index"`
	CoreQuestion string           `json:"core_question" gorm:"type:text;not null;default:''"`
	Status       QuestionStatus   `json:"status" gorm:"type:varchar(20);not null;default:'DRAFT'"`
	Context      *QuestionContext `json:"context,omitempty" gorm:"foreignKey:QuestionID;references:ID"`
	CreatedAt    time.Time        `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = ksuid.New().String()
	}
	return nil
}

func (Question) TableName() string {
	return "questions"
}

// QuestionContext holds the four structured context fields of a question.
type QuestionContext struct {
	ID                string    `json:"id" gorm:"type:char(27);primaryKey"`
	QuestionID        string    `json:"question_id" gorm:"type:char(27);not null;uniqueIndex"`
	Background        string    `json:"background" gorm:"type:text;not null;default:''"`
	PriorKnowledge    string    `json:"prior_knowledge" gorm:"type:text;not null;default:''"`
	AttemptedApproach string    `json:"attempted_approach" gorm:"type:text;not null;default:''"`
	ExpectedUse       string    `json:"expected_use" gorm:"type:text;not null;default:''"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (c *QuestionContext) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ksuid.New().String()
	}
	return nil
}

func (QuestionContext) TableName() string {
	return "question_contexts"
}

// Context map keys used inside the collaborative document.
const (
	ContextBackground        = "background"
	ContextPriorKnowledge    = "priorKnowledge"
	ContextAttemptedApproach = "attemptedApproach"
	ContextExpectedUse       = "expectedUse"
)

// ContextKeys lists the structured context fields in a stable order.
var ContextKeys = []string{
	ContextBackground,
	ContextPriorKnowledge,
	ContextAttemptedApproach,
	ContextExpectedUse,
}

// ContextFields is the materialized form of the context map.
type ContextFields struct {
	Background        string `json:"background"`
	PriorKnowledge    string `json:"priorKnowledge"`
	AttemptedApproach string `json:"attemptedApproach"`
	ExpectedUse       string `json:"expectedUse"`
}

// Get returns the value stored under one of the ContextKeys.
func (c ContextFields) Get(key string) string {
	switch key {
	case ContextBackground:
		return c.Background
	case ContextPriorKnowledge:
		return c.PriorKnowledge
	case ContextAttemptedApproach:
		return c.AttemptedApproach
	case ContextExpectedUse:
		return c.ExpectedUse
	}
	return ""
}

// Set stores value under key. Unknown keys are ignored.
func (c *ContextFields) Set(key, value string) {
	switch key {
	case ContextBackground:
		c.Background = value
	case ContextPriorKnowledge:
		c.PriorKnowledge = value
	case ContextAttemptedApproach:
		c.AttemptedApproach = value
	case ContextExpectedUse:
		c.ExpectedUse = value
	}
}

// Fields is everything the realtime service loads and saves for a question.
type Fields struct {
	Question string        `json:"question"`
	Context  ContextFields `json:"context"`
}

// FieldsFromQuestion builds Fields from a stored question row.
func FieldsFromQuestion(q *Question) Fields {
	f := Fields{Question: q.CoreQuestion}
	if q.Context != nil {
		f.Context = ContextFields{
			Background:        q.Context.Background,
			PriorKnowledge:    q.Context.PriorKnowledge,
			AttemptedApproach: q.Context.AttemptedApproach,
			ExpectedUse:       q.Context.ExpectedUse,
		}
	}
	return f
}
