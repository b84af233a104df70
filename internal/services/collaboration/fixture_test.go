package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"question-collab/internal/crdt"
	"question-collab/internal/models"
)

//go:generate moq -out document_store_mock_test.go -pkg collaboration . DocumentStore
//go:generate moq -out access_store_mock_test.go -pkg collaboration . AccessStore
//go:generate moq -out token_verifier_mock_test.go -pkg collaboration . TokenVerifier

// fixtureQuestion is one stored question with its access rules.
type fixtureQuestion struct {
	owner     string
	published bool
	grants    map[string]models.Role
	fields    models.Fields
}

// fixture backs the store mocks with shared in-memory state, so several
// registries (processes) can see the same "database".
type fixture struct {
	mu        sync.Mutex
	questions map[string]*fixtureQuestion
	presence  map[string]map[string]models.ActiveUser
}

func newFixture() *fixture {
	return &fixture{
		questions: make(map[string]*fixtureQuestion),
		presence:  make(map[string]map[string]models.ActiveUser),
	}
}

func (f *fixture) addQuestion(id, owner string, published bool, fields models.Fields) *fixtureQuestion {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := &fixtureQuestion{owner: owner, published: published, grants: map[string]models.Role{}, fields: fields}
	f.questions[id] = q
	return q
}

func (f *fixture) grant(id, userID string, role models.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions[id].grants[userID] = role
}

func (f *fixture) stored(id string) models.Fields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.questions[id].fields
}

func (f *fixture) documentStore() *documentStoreMock {
	return &documentStoreMock{
		LoadFunc: func(ctx context.Context, id string) (models.Fields, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			q, ok := f.questions[id]
			if !ok {
				return models.Fields{}, fmt.Errorf("question %s: %w", id, models.ErrNotFound)
			}
			return q.fields, nil
		},
		SaveFunc: func(ctx context.Context, id string, fields models.Fields) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			q, ok := f.questions[id]
			if !ok {
				return fmt.Errorf("question %s: %w", id, models.ErrNotFound)
			}
			q.fields = fields
			return nil
		},
	}
}

func (f *fixture) accessStore() *accessStoreMock {
	return &accessStoreMock{
		GetAccessFunc: func(ctx context.Context, id, userID string) (*models.Access, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			q, ok := f.questions[id]
			if !ok {
				return nil, fmt.Errorf("question %s: %w", id, models.ErrNotFound)
			}
			return &models.Access{OwnerID: q.owner, Published: q.published, GrantRole: q.grants[userID]}, nil
		},
		TouchPresenceFunc: func(ctx context.Context, p *models.Presence) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.presence[p.QuestionID] == nil {
				f.presence[p.QuestionID] = make(map[string]models.ActiveUser)
			}
			f.presence[p.QuestionID][p.UserID] = models.ActiveUser{ID: p.UserID, Email: p.Email, Role: p.Role, LastActive: p.LastActive}
			return nil
		},
		ActiveUsersFunc: func(ctx context.Context, id string, since time.Time) ([]models.ActiveUser, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			var out []models.ActiveUser
			for _, u := range f.presence[id] {
				if !u.LastActive.Before(since) {
					out = append(out, u)
				}
			}
			sort.Slice(out, func(i, j int) bool { return out[i].LastActive.Before(out[j].LastActive) })
			return out, nil
		},
	}
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testRegistryConfig() RegistryConfig {
	return RegistryConfig{
		FlushDebounce:    40 * time.Millisecond,
		SaveTimeout:      time.Second,
		IdleTimeout:      time.Minute,
		EvictionInterval: time.Hour,
	}
}

// clientEdit loads a replica from state, applies fn and returns the update bytes.
func clientEdit(t *testing.T, doc *crdt.Document, fn func(e *crdt.Editor) error) []byte {
	t.Helper()
	update, err := doc.Edit(fn)
	require.NoError(t, err)
	return update
}

func loadReplica(t *testing.T, state []byte) *crdt.Document {
	t.Helper()
	doc, err := crdt.Load(state)
	require.NoError(t, err)
	return doc
}

// send pushes a client frame through the manager.
func send(sm *SessionManager, s *Session, env *models.Envelope) {
	sm.HandleMessage(context.Background(), s, env.Encode())
}

// nextFrame waits for the next outbound frame of s.
func nextFrame(t *testing.T, s *Session) *models.Envelope {
	t.Helper()
	select {
	case data, ok := <-s.Send:
		require.True(t, ok, "send buffer of %s closed", s.UserID)
		var env models.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return &env
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", s.UserID)
		return nil
	}
}

// expectFrame waits for the next frame and checks its type.
func expectFrame(t *testing.T, s *Session, typ models.MessageType) *models.Envelope {
	t.Helper()
	env := nextFrame(t, s)
	require.Equal(t, typ, env.Type, "unexpected frame for %s: %+v", s.UserID, env)
	return env
}

// assertNoFrame fails if s receives anything within a short grace period.
func assertNoFrame(t *testing.T, s *Session) {
	t.Helper()
	select {
	case data, ok := <-s.Send:
		if ok {
			t.Fatalf("unexpected frame for %s: %s", s.UserID, data)
		}
	case <-time.After(60 * time.Millisecond):
	}
}

func rosterIDs(users []models.ActiveUser) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	sort.Strings(ids)
	return ids
}
