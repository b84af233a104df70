package collaboration

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"question-collab/internal/models"
)

// PresenceConfig tunes the roster.
type PresenceConfig struct {
	// Window is how recent a presence row must be to appear in the roster.
	Window time.Duration
	// TouchInterval throttles presence writes caused by activity.
	TouchInterval time.Duration
}

// DefaultPresenceConfig returns the production defaults.
func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{
		Window:        5 * time.Minute,
		TouchInterval: time.Minute,
	}
}

// Member is one joined connection in a room.
type Member struct {
	ConnectionID string
	UserID       string
	Email        string
	Role         models.Role
	Peer         Peer

	lastTouch time.Time
}

// JoinResult is what a joiner is told.
type JoinResult struct {
	Role        models.Role
	ActiveUsers []models.ActiveUser
	// Rejoined is true when the connection was already a member.
	Rejoined bool
}

type room struct {
	members map[string]*Member // by connection id
	// departed remembers users whose last local connection left, so their
	// still-recent presence row is hidden from the roster.
	departed map[string]time.Time
}

func (r *room) hasUser(userID string) bool {
	for _, m := range r.members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// PresenceManager tracks room membership and roles per document.
type PresenceManager struct {
	store AccessStore
	cfg   PresenceConfig
	now   func() time.Time

	mu    sync.RWMutex
	rooms map[string]*room
}

// NewPresenceManager creates an empty room manager.
func NewPresenceManager(store AccessStore, cfg PresenceConfig) *PresenceManager {
	return &PresenceManager{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		rooms: make(map[string]*room),
	}
}

// ResolveRole decides the role of userID on a document:
// owner, then explicit grant, then viewer on a published document.
func ResolveRole(access *models.Access, userID string) (models.Role, error) {
	switch {
	case access.OwnerID == userID:
		return models.RoleOwner, nil
	case access.GrantRole.Valid():
		return access.GrantRole, nil
	case access.Published:
		return models.RoleViewer, nil
	default:
		return "", fmt.Errorf("user %s: %w", userID, models.ErrAccessDenied)
	}
}

// Join admits a connection to the document room. The role is fixed for the
// lifetime of the membership; joining again with the same connection is a no-op.
func (pm *PresenceManager) Join(ctx context.Context, documentID string, member *Member) (*JoinResult, error) {
	access, err := pm.store.GetAccess(ctx, documentID, member.UserID)
	if err != nil {
		return nil, err
	}

	role, err := ResolveRole(access, member.UserID)
	if err != nil {
		return nil, err
	}

	now := pm.now()

	pm.mu.Lock()
	rm, ok := pm.rooms[documentID]
	if !ok {
		rm = &room{members: make(map[string]*Member), departed: make(map[string]time.Time)}
		pm.rooms[documentID] = rm
	}
	existing, rejoined := rm.members[member.ConnectionID]
	if rejoined {
		role = existing.Role
	} else {
		member.Role = role
		member.lastTouch = now
		rm.members[member.ConnectionID] = member
	}
	delete(rm.departed, member.UserID)
	pm.mu.Unlock()

	err = pm.store.TouchPresence(ctx, &models.Presence{
		QuestionID: documentID,
		UserID:     member.UserID,
		Email:      member.Email,
		Role:       role,
		LastActive: now,
	})
	if err != nil {
		// The in-memory room still lists the member.
		log.Printf("⚠️  Failed to record presence for %s on %s: %v", member.UserID, documentID, err)
	}

	return &JoinResult{
		Role:        role,
		ActiveUsers: pm.Roster(ctx, documentID),
		Rejoined:    rejoined,
	}, nil
}

// Leave removes a connection from the room and returns its membership.
func (pm *PresenceManager) Leave(documentID, connectionID string) (*Member, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	rm, ok := pm.rooms[documentID]
	if !ok {
		return nil, false
	}
	m, ok := rm.members[connectionID]
	if !ok {
		return nil, false
	}

	delete(rm.members, connectionID)
	now := pm.now()
	if !rm.hasUser(m.UserID) {
		rm.departed[m.UserID] = now
	}

	for userID, at := range rm.departed {
		if now.Sub(at) > pm.cfg.Window {
			delete(rm.departed, userID)
		}
	}
	if len(rm.members) == 0 && len(rm.departed) == 0 {
		delete(pm.rooms, documentID)
	}

	return m, true
}

// Member returns the membership of a connection.
func (pm *PresenceManager) Member(documentID, connectionID string) (*Member, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	rm, ok := pm.rooms[documentID]
	if !ok {
		return nil, false
	}
	m, ok := rm.members[connectionID]
	return m, ok
}

// AuthorizeUpdate reports whether the connection may submit updates.
func (pm *PresenceManager) AuthorizeUpdate(documentID, connectionID string) error {
	m, ok := pm.Member(documentID, connectionID)
	if !ok {
		return models.NewProtocolError("document %s not joined", documentID)
	}
	if !m.Role.CanEdit() {
		return fmt.Errorf("role %s on %s: %w", m.Role, documentID, models.ErrPermissionDenied)
	}
	return nil
}

// Members returns a snapshot of the room.
func (pm *PresenceManager) Members(documentID string) []*Member {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	rm, ok := pm.rooms[documentID]
	if !ok {
		return nil
	}
	out := make([]*Member, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m)
	}
	return out
}

// Broadcast delivers a frame to every member except the given connection.
func (pm *PresenceManager) Broadcast(documentID string, frame []byte, exceptConnectionID string) int {
	delivered := 0
	for _, m := range pm.Members(documentID) {
		if m.ConnectionID == exceptConnectionID || m.Peer == nil {
			continue
		}
		if m.Peer.Deliver(frame) {
			delivered++
		}
	}
	return delivered
}

// Touch refreshes the presence row of an active member, at most once per TouchInterval.
func (pm *PresenceManager) Touch(ctx context.Context, documentID, connectionID string) {
	now := pm.now()

	pm.mu.Lock()
	rm, ok := pm.rooms[documentID]
	if !ok {
		pm.mu.Unlock()
		return
	}
	m, ok := rm.members[connectionID]
	if !ok || now.Sub(m.lastTouch) < pm.cfg.TouchInterval {
		pm.mu.Unlock()
		return
	}
	m.lastTouch = now
	p := &models.Presence{QuestionID: documentID, UserID: m.UserID, Email: m.Email, Role: m.Role, LastActive: now}
	pm.mu.Unlock()

	if err := pm.store.TouchPresence(ctx, p); err != nil {
		log.Printf("⚠️  Failed to touch presence for %s on %s: %v", p.UserID, documentID, err)
	}
}

// Roster lists users active in the room within the recency window.
// Users who left from this process are hidden until they are active again.
// Local members always appear, even if the store is unavailable.
func (pm *PresenceManager) Roster(ctx context.Context, documentID string) []models.ActiveUser {
	now := pm.now()

	users, err := pm.store.ActiveUsers(ctx, documentID, now.Add(-pm.cfg.Window))
	if err != nil {
		log.Printf("⚠️  Failed to read roster of %s, using local members: %v", documentID, err)
		users = nil
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	rm := pm.rooms[documentID]
	seen := make(map[string]bool)
	out := make([]models.ActiveUser, 0, len(users))

	for _, u := range users {
		if rm != nil && !rm.hasUser(u.ID) {
			if leftAt, gone := rm.departed[u.ID]; gone && !u.LastActive.After(leftAt) {
				continue
			}
		}
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, u)
	}

	if rm == nil {
		return out
	}

	var local []models.ActiveUser
	for _, m := range rm.members {
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		local = append(local, models.ActiveUser{ID: m.UserID, Email: m.Email, Role: m.Role, LastActive: m.lastTouch})
	}
	sort.Slice(local, func(i, j int) bool { return local[i].LastActive.Before(local[j].LastActive) })

	return append(out, local...)
}
