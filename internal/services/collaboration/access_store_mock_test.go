package collaboration

import (
	"context"
	"sync"
	"time"

	"question-collab/internal/models"
)

var _ AccessStore = &accessStoreMock{}

type accessStoreMock struct {
	GetAccessFunc     func(ctx context.Context, documentID string, userID string) (*models.Access, error)
	TouchPresenceFunc func(ctx context.Context, p *models.Presence) error
	ActiveUsersFunc   func(ctx context.Context, documentID string, since time.Time) ([]models.ActiveUser, error)

	calls struct {
		GetAccess []struct {
			Ctx        context.Context
			DocumentID string
			UserID     string
		}
		TouchPresence []struct {
			Ctx context.Context
			P   *models.Presence
		}
		ActiveUsers []struct {
			Ctx        context.Context
			DocumentID string
			Since      time.Time
		}
	}
	lockGetAccess     sync.RWMutex
	lockTouchPresence sync.RWMutex
	lockActiveUsers   sync.RWMutex
}

func (mock *accessStoreMock) GetAccess(ctx context.Context, documentID string, userID string) (*models.Access, error) {
	if mock.GetAccessFunc == nil {
		panic("accessStoreMock.GetAccessFunc: method is nil but AccessStore.GetAccess was just called")
	}
	callInfo := struct {
		Ctx        context.Context
		DocumentID string
		UserID     string
	}{Ctx: ctx, DocumentID: documentID, UserID: userID}
	mock.lockGetAccess.Lock()
	mock.calls.GetAccess = append(mock.calls.GetAccess, callInfo)
	mock.lockGetAccess.Unlock()
	return mock.GetAccessFunc(ctx, documentID, userID)
}

func (mock *accessStoreMock) GetAccessCalls() []struct {
	Ctx        context.Context
	DocumentID string
	UserID     string
} {
	mock.lockGetAccess.RLock()
	calls := mock.calls.GetAccess
	mock.lockGetAccess.RUnlock()
	return calls
}

func (mock *accessStoreMock) TouchPresence(ctx context.Context, p *models.Presence) error {
	if mock.TouchPresenceFunc == nil {
		panic("accessStoreMock.TouchPresenceFunc: method is nil but AccessStore.TouchPresence was just called")
	}
	callInfo := struct {
		Ctx context.Context
		P   *models.Presence
	}{Ctx: ctx, P: p}
	mock.lockTouchPresence.Lock()
	mock.calls.TouchPresence = append(mock.calls.TouchPresence, callInfo)
	mock.lockTouchPresence.Unlock()
	return mock.TouchPresenceFunc(ctx, p)
}

func (mock *accessStoreMock) TouchPresenceCalls() []struct {
	Ctx context.Context
	P   *models.Presence
} {
	mock.lockTouchPresence.RLock()
	calls := mock.calls.TouchPresence
	mock.lockTouchPresence.RUnlock()
	return calls
}

func (mock *accessStoreMock) ActiveUsers(ctx context.Context, documentID string, since time.Time) ([]models.ActiveUser, error) {
	if mock.ActiveUsersFunc == nil {
		panic("accessStoreMock.ActiveUsersFunc: method is nil but AccessStore.ActiveUsers was just called")
	}
	callInfo := struct {
		Ctx        context.Context
		DocumentID string
		Since      time.Time
	}{Ctx: ctx, DocumentID: documentID, Since: since}
	mock.lockActiveUsers.Lock()
	mock.calls.ActiveUsers = append(mock.calls.ActiveUsers, callInfo)
	mock.lockActiveUsers.Unlock()
	return mock.ActiveUsersFunc(ctx, documentID, since)
}

func (mock *accessStoreMock) ActiveUsersCalls() []struct {
	Ctx        context.Context
	DocumentID string
	Since      time.Time
} {
	mock.lockActiveUsers.RLock()
	calls := mock.calls.ActiveUsers
	mock.lockActiveUsers.RUnlock()
	return calls
}
