package collaboration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"question-collab/internal/models"
)

func TestResolveRole(t *testing.T) {
	tests := []struct {
		name    string
		access  models.Access
		want    models.Role
		wantErr error
	}{
		{name: "owner", access: models.Access{OwnerID: "u1"}, want: models.RoleOwner},
		{name: "owner wins over grant", access: models.Access{OwnerID: "u1", GrantRole: models.RoleViewer}, want: models.RoleOwner},
		{name: "editor grant", access: models.Access{OwnerID: "x", GrantRole: models.RoleEditor}, want: models.RoleEditor},
		{name: "viewer grant on draft", access: models.Access{OwnerID: "x", GrantRole: models.RoleViewer}, want: models.RoleViewer},
		{name: "published", access: models.Access{OwnerID: "x", Published: true}, want: models.RoleViewer},
		{name: "grant wins over published", access: models.Access{OwnerID: "x", Published: true, GrantRole: models.RoleEditor}, want: models.RoleEditor},
		{name: "draft without grant", access: models.Access{OwnerID: "x"}, wantErr: models.ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveRole(&tt.access, "u1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newTestPresence(f *fixture) (*PresenceManager, *accessStoreMock) {
	store := f.accessStore()
	return NewPresenceManager(store, PresenceConfig{Window: 5 * time.Minute, TouchInterval: time.Minute}), store
}

func TestPresence_JoinDeniedLeavesNoMembership(t *testing.T) {
	f := newFixture()
	f.addQuestion("q1", "alice", false, seedQuestion())
	pm, store := newTestPresence(f)

	_, err := pm.Join(context.Background(), "q1", &Member{ConnectionID: "c1", UserID: "mallory"})
	assert.ErrorIs(t, err, models.ErrAccessDenied)
	assert.Empty(t, pm.Members("q1"))
	assert.Empty(t, store.TouchPresenceCalls())
}

func TestPresence_JoinUnknownDocument(t *testing.T) {
	pm, _ := newTestPresence(newFixture())

	_, err := pm.Join(context.Background(), "missing", &Member{ConnectionID: "c1", UserID: "alice"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPresence_RosterFollowsJoinAndLeave(t *testing.T) {
	f := newFixture()
	f.addQuestion("q1", "alice", true, seedQuestion())
	pm, _ := newTestPresence(f)
	ctx := context.Background()

	res, err := pm.Join(ctx, "q1", &Member{ConnectionID: "c1", UserID: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, res.Role)
	assert.Equal(t, []string{"alice"}, rosterIDs(res.ActiveUsers))

	res, err = pm.Join(ctx, "q1", &Member{ConnectionID: "c2", UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, res.Role)
	assert.Equal(t, []string{"alice", "bob"}, rosterIDs(res.ActiveUsers))

	m, ok := pm.Leave("q1", "c2")
	require.True(t, ok)
	assert.Equal(t, "bob", m.UserID)
	assert.Equal(t, []string{"alice"}, rosterIDs(pm.Roster(ctx, "q1")))

	_, ok = pm.Leave("q1", "c2")
	assert.False(t, ok)

	// Coming back makes bob visible again.
	_, err = pm.Join(ctx, "q1", &Member{ConnectionID: "c3", UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, rosterIDs(pm.Roster(ctx, "q1")))
}

func TestPresence_UserWithSecondConnectionStaysInRoster(t *testing.T) {
	f := newFixture()
	f.addQuestion("q1", "alice", false, seedQuestion())
	pm, _ := newTestPresence(f)
	ctx := context.Background()

	_, err := pm.Join(ctx, "q1", &Member{ConnectionID: "tab1", UserID: "alice"})
	require.NoError(t, err)
	_, err = pm.Join(ctx, "q1", &Member{ConnectionID: "tab2", UserID: "alice"})
	require.NoError(t, err)

	pm.Leave("q1", "tab1")
	assert.Equal(t, []string{"alice"}, rosterIDs(pm.Roster(ctx, "q1")))
}

func TestPresence_RejoinKeepsRole(t *testing.T) {
	f := newFixture()
	f.addQuestion("q1", "alice", true, seedQuestion())
	f.grant("q1", "bob", models.RoleEditor)
	pm, _ := newTestPresence(f)
	ctx := context.Background()

	res, err := pm.Join(ctx, "q1", &Member{ConnectionID: "c1", UserID: "bob"})
	require.NoError(t, err)
	require.Equal(t, models.RoleEditor, res.Role)
	assert.False(t, res.Rejoined)

	// The grant is revoked mid-session; the membership keeps its role.
	f.grant("q1", "bob", "")
	res, err = pm.Join(ctx, "q1", &Member{ConnectionID: "c1", UserID: "bob"})
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Equal(t, models.RoleEditor, res.Role)
	assert.Len(t, pm.Members("q1"), 1)
}

func TestPresence_AuthorizeUpdate(t *testing.T) {
	f := newFixture()
	f.addQuestion("q1", "alice", true, seedQuestion())
	f.grant("q1", "bob", models.RoleEditor)
	pm, _ := newTestPresence(f)
	ctx := context.Background()

	for conn, user := range map[string]string{"c1": "alice", "c2": "bob", "c3": "carol"} {
		_, err := pm.Join(ctx, "q1", &Member{ConnectionID: conn, UserID: user})
		require.NoError(t, err)
	}

	assert.NoError(t, pm.AuthorizeUpdate("q1", "c1"))
	assert.NoError(t, pm.AuthorizeUpdate("q1", "c2"))
	assert.ErrorIs(t, pm.AuthorizeUpdate("q1", "c3"), models.ErrPermissionDenied)
	assert.ErrorIs(t, pm.AuthorizeUpdate("q1", "stranger"), models.ErrProtocol)
}

func TestPresence_TouchIsThrottled(t *testing.T) {
	f := newFixture()
	f.addQuestion("q1", "alice", false, seedQuestion())
	pm, store := newTestPresence(f)
	clock := newTestClock()
	pm.now = clock.Now
	ctx := context.Background()

	_, err := pm.Join(ctx, "q1", &Member{ConnectionID: "c1", UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, store.TouchPresenceCalls(), 1)

	pm.Touch(ctx, "q1", "c1")
	clock.Advance(30 * time.Second)
	pm.Touch(ctx, "q1", "c1")
	assert.Len(t, store.TouchPresenceCalls(), 1)

	clock.Advance(31 * time.Second)
	pm.Touch(ctx, "q1", "c1")
	calls := store.TouchPresenceCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, clock.Now(), calls[1].P.LastActive)
}

func TestPresence_RosterFallsBackToLocalMembers(t *testing.T) {
	f := newFixture()
	f.addQuestion("q1", "alice", true, seedQuestion())
	pm, store := newTestPresence(f)
	store.TouchPresenceFunc = func(ctx context.Context, p *models.Presence) error {
		return errors.New("database is down")
	}
	store.ActiveUsersFunc = func(ctx context.Context, id string, since time.Time) ([]models.ActiveUser, error) {
		return nil, errors.New("database is down")
	}

	_, err := pm.Join(context.Background(), "q1", &Member{ConnectionID: "c1", UserID: "alice"})
	require.NoError(t, err)
	res, err := pm.Join(context.Background(), "q1", &Member{ConnectionID: "c2", UserID: "bob"})
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob"}, rosterIDs(res.ActiveUsers))
}

type recordingPeer struct {
	frames [][]byte
}

func (p *recordingPeer) Deliver(frame []byte) bool {
	p.frames = append(p.frames, frame)
	return true
}

func TestPresence_BroadcastSkipsSender(t *testing.T) {
	f := newFixture()
	f.addQuestion("q1", "alice", true, seedQuestion())
	pm, _ := newTestPresence(f)
	ctx := context.Background()

	a, b := &recordingPeer{}, &recordingPeer{}
	_, err := pm.Join(ctx, "q1", &Member{ConnectionID: "c1", UserID: "alice", Peer: a})
	require.NoError(t, err)
	_, err = pm.Join(ctx, "q1", &Member{ConnectionID: "c2", UserID: "bob", Peer: b})
	require.NoError(t, err)

	assert.Equal(t, 1, pm.Broadcast("q1", []byte("hi"), "c1"))
	assert.Empty(t, a.frames)
	assert.Equal(t, [][]byte{[]byte("hi")}, b.frames)

	assert.Equal(t, 0, pm.Broadcast("other", []byte("hi"), ""))
}
