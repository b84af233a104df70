package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Role is the permission level a user holds inside a question room.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// CanEdit reports whether the role may submit document updates.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// Collaboration is a grant giving a user a role on someone else's question.
type Collaboration struct {
	ID         string    `json:"id" gorm:"type:char(27);primaryKey"`
	QuestionID string    `json:"question_id" gorm:"type:char(27);not null;uniqueIndex:idx_collab_question_user"`
	UserID     string    `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_collab_question_user"`
	Role       Role      `json:"role" gorm:"type:varchar(20);not null;default:'VIEWER'"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (c *Collaboration) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ksuid.New().String()
	}
	return nil
}

func (Collaboration) TableName() string {
	return "collaborations"
}

/*
LEARNING: PRESENCE IS NOT MEMBERSHIP

Room membership lives in memory and disappears with the socket.
The presence row survives restarts and is only aged out by a recency window,
so a flapping reconnect never produces a "left / joined / left" storm.
*/

// Presence records the last time a user was active in a question room.
type Presence struct {
	ID         string    `json:"id" gorm:"type:char(27);primaryKey"`
	QuestionID string    `json:"question_id" gorm:"type:char(27);not null;uniqueIndex:idx_presence_question_user"`
	UserID     string    `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_presence_question_user"`
	Email      string    `json:"email" gorm:"type:varchar(255);not null;default:''"`
	Role       Role      `json:"role" gorm:"type:varchar(20);not null"`
	LastActive time.Time `json:"last_active" gorm:"column:last_active;not null;index"`
}

func (p *Presence) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = ksuid.New().String()
	}
	return nil
}

func (Presence) TableName() string {
	return "presences"
}

// Access is what the room manager needs to decide a joiner's role.
type Access struct {
	OwnerID   string
	Published bool
	GrantRole Role // empty when the user holds no collaboration grant
}

// ActiveUser is one entry of a room roster.
type ActiveUser struct {
	ID         string    `json:"id"`
	Email      string    `json:"email,omitempty"`
	Role       Role      `json:"role"`
	LastActive time.Time `json:"lastActive"`
}

// Identity is the verified user behind a connection.
type Identity struct {
	UserID string
	Email  string
}
