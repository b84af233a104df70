package collaboration

import (
	"context"
	"sync"

	"question-collab/internal/models"
)

var _ DocumentStore = &documentStoreMock{}

type documentStoreMock struct {
	LoadFunc func(ctx context.Context, documentID string) (models.Fields, error)
	SaveFunc func(ctx context.Context, documentID string, fields models.Fields) error

	calls struct {
		Load []struct {
			Ctx        context.Context
			DocumentID string
		}
		Save []struct {
			Ctx        context.Context
			DocumentID string
			Fields     models.Fields
		}
	}
	lockLoad sync.RWMutex
	lockSave sync.RWMutex
}

func (mock *documentStoreMock) Load(ctx context.Context, documentID string) (models.Fields, error) {
	if mock.LoadFunc == nil {
		panic("documentStoreMock.LoadFunc: method is nil but DocumentStore.Load was just called")
	}
	callInfo := struct {
		Ctx        context.Context
		DocumentID string
	}{Ctx: ctx, DocumentID: documentID}
	mock.lockLoad.Lock()
	mock.calls.Load = append(mock.calls.Load, callInfo)
	mock.lockLoad.Unlock()
	return mock.LoadFunc(ctx, documentID)
}

func (mock *documentStoreMock) LoadCalls() []struct {
	Ctx        context.Context
	DocumentID string
} {
	mock.lockLoad.RLock()
	calls := mock.calls.Load
	mock.lockLoad.RUnlock()
	return calls
}

func (mock *documentStoreMock) Save(ctx context.Context, documentID string, fields models.Fields) error {
	if mock.SaveFunc == nil {
		panic("documentStoreMock.SaveFunc: method is nil but DocumentStore.Save was just called")
	}
	callInfo := struct {
		Ctx        context.Context
		DocumentID string
		Fields     models.Fields
	}{Ctx: ctx, DocumentID: documentID, Fields: fields}
	mock.lockSave.Lock()
	mock.calls.Save = append(mock.calls.Save, callInfo)
	mock.lockSave.Unlock()
	return mock.SaveFunc(ctx, documentID, fields)
}

func (mock *documentStoreMock) SaveCalls() []struct {
	Ctx        context.Context
	DocumentID string
	Fields     models.Fields
} {
	mock.lockSave.RLock()
	calls := mock.calls.Save
	mock.lockSave.RUnlock()
	return calls
}
