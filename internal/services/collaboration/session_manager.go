package collaboration

import (
	"context"
	"log"
	"sync"

	"question-collab/internal/metrics"
	"question-collab/internal/middleware"
	"question-collab/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: WEBSOCKET SESSION MANAGER

One manager per process. It translates client frames into registry and
room operations and turns results into outbound frames.

  registry  → CRDT state, debounced saves
  presence  → who is in which room, with which role
  relay     → other processes (optional)

Every operation that fails is answered with an "error" frame to the
sender only. A failing client never takes the connection of another down.
*/

// SessionManager manages all active WebSocket sessions
type SessionManager struct {
	registry   *Registry
	presence   *PresenceManager
	relay      Relay
	instanceID string

	mu       sync.RWMutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionManager wires the manager. relay may be nil for a single process.
func NewSessionManager(registry *Registry, presence *PresenceManager, relay Relay) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		registry:   registry,
		presence:   presence,
		relay:      relay,
		instanceID: uuid.NewString(),
		sessions:   make(map[string]*Session),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start runs eviction and, when configured, the relay subscription.
func (sm *SessionManager) Start() {
	log.Println("🔄 Starting collaboration session manager...")

	sm.registry.Start()

	if sm.relay != nil {
		sm.wg.Add(1)
		go func() {
			defer sm.wg.Done()
			if err := sm.relay.Subscribe(sm.ctx, sm.handleRelayEvent); err != nil {
				log.Printf("⚠️  Relay subscription ended: %v", err)
			}
		}()
	}

	log.Printf("✓ Collaboration session manager started (instance %s)", sm.instanceID)
}

// Context is cancelled when the manager shuts down; pumps use it instead of
// the upgrade request context.
func (sm *SessionManager) Context() context.Context {
	return sm.ctx
}

// NewSession registers an authenticated connection.
func (sm *SessionManager) NewSession(identity *models.Identity, conn *websocket.Conn, bufferSize int) *Session {
	s := newSession(identity, conn, bufferSize, sm)

	sm.mu.Lock()
	sm.sessions[s.ID] = s
	n := len(sm.sessions)
	sm.mu.Unlock()

	metrics.Connections.Inc()
	log.Printf("  Session %s connected (user: %s, total: %d)", s.ID, s.UserID, n)
	return s
}

// SessionCount returns the number of connected sessions.
func (sm *SessionManager) SessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// LiveDocuments returns the number of documents held in memory.
func (sm *SessionManager) LiveDocuments() int {
	return sm.registry.Len()
}

// HandleMessage decodes and dispatches one client frame.
func (sm *SessionManager) HandleMessage(ctx context.Context, s *Session, raw []byte) {
	env, err := models.DecodeEnvelope(raw)
	if err != nil {
		sm.sendError(s, "", err)
		return
	}

	ctx, span := middleware.StartSpan(ctx, "Collab."+string(env.Type),
		attribute.String("session.id", s.ID),
		attribute.String("user.id", s.UserID),
		attribute.String("document.id", env.DocumentID),
		attribute.Int("message.size", len(raw)),
	)
	defer span.End()

	if env.DocumentID == "" {
		err = models.NewProtocolError("documentId is required")
	} else {
		switch env.Type {
		case models.MessageJoinDocument:
			err = sm.handleJoin(ctx, s, env)
		case models.MessageLeaveDocument:
			err = sm.handleLeave(ctx, s, env)
		case models.MessageSyncRequest:
			err = sm.handleSync(ctx, s, env)
		case models.MessageUpdate:
			err = sm.handleUpdate(ctx, s, env)
		case models.MessageAwarenessUpdate:
			err = sm.handleAwareness(ctx, s, env)
		default:
			err = models.NewProtocolError("unknown message type %q", env.Type)
		}
	}

	if err != nil {
		middleware.AddSpanError(ctx, err)
		sm.sendError(s, env.DocumentID, err)
	}
}

func (sm *SessionManager) sendError(s *Session, documentID string, err error) {
	code := models.CodeFor(err)
	metrics.Rejections.WithLabelValues(string(code)).Inc()
	if code == models.CodeInternal || code == models.CodePersistence {
		log.Printf("⚠️  Session %s on %s: %v", s.ID, documentID, err)
	}

	s.Deliver((&models.Envelope{
		Type:       models.MessageError,
		DocumentID: documentID,
		Code:       code,
		Message:    models.PublicMessage(err),
	}).Encode())
}

func (sm *SessionManager) handleJoin(ctx context.Context, s *Session, env *models.Envelope) error {
	res, err := sm.presence.Join(ctx, env.DocumentID, &Member{
		ConnectionID: s.ID,
		UserID:       s.UserID,
		Email:        s.Email,
		Peer:         s,
	})
	if err != nil {
		return err
	}

	if !s.markJoined(env.DocumentID, res.Role) {
		// Disconnect ran while the join was in flight.
		if !res.Rejoined {
			sm.presence.Leave(env.DocumentID, s.ID)
		}
		return models.NewProtocolError("connection closing")
	}

	s.Deliver((&models.Envelope{
		Type:        models.MessageDocumentState,
		DocumentID:  env.DocumentID,
		Role:        res.Role,
		ActiveUsers: res.ActiveUsers,
	}).Encode())

	if res.Rejoined {
		return nil
	}

	log.Printf("  Session %s joined %s as %s (room: %d)", s.ID, env.DocumentID, res.Role, len(sm.presence.Members(env.DocumentID)))

	joined := (&models.Envelope{
		Type:       models.MessageUserJoined,
		DocumentID: env.DocumentID,
		UserID:     s.UserID,
		Email:      s.Email,
		Role:       res.Role,
	}).Encode()
	sm.presence.Broadcast(env.DocumentID, joined, s.ID)
	sm.publish(ctx, env.DocumentID, models.MessageUserJoined, joined, nil)

	return nil
}

func (sm *SessionManager) handleSync(ctx context.Context, s *Session, env *models.Envelope) error {
	if _, ok := s.joinedDocument(env.DocumentID); !ok {
		return models.NewProtocolError("document %s not joined", env.DocumentID)
	}
	if len(env.State) > 0 {
		if err := sm.presence.AuthorizeUpdate(env.DocumentID, s.ID); err != nil {
			return err
		}
	}

	// Attach first, then record it; if the session left or closed meanwhile
	// the leave procedure will not detach, so undo it here.
	if !s.attachedTo(env.DocumentID) {
		if _, err := sm.registry.Attach(ctx, env.DocumentID); err != nil {
			return err
		}
		if !s.markAttached(env.DocumentID) {
			sm.registry.Detach(env.DocumentID)
			return models.NewProtocolError("document %s not joined", env.DocumentID)
		}
	}

	// A client may bring offline edits; peers receive them like an update.
	var merged []byte
	if len(env.State) > 0 {
		merged = (&models.Envelope{
			Type:       models.MessageUpdateBroadcast,
			DocumentID: env.DocumentID,
			UserID:     s.UserID,
			Update:     env.State,
		}).Encode()
	}

	state, err := sm.registry.Sync(ctx, env.DocumentID, env.State, func() {
		sm.presence.Broadcast(env.DocumentID, merged, s.ID)
	})
	if err != nil {
		return err
	}
	if merged != nil {
		sm.publish(ctx, env.DocumentID, models.MessageUpdateBroadcast, merged, env.State)
	}

	s.Deliver((&models.Envelope{
		Type:       models.MessageSyncReply,
		DocumentID: env.DocumentID,
		State:      state,
	}).Encode())

	sm.presence.Touch(ctx, env.DocumentID, s.ID)
	return nil
}

func (sm *SessionManager) handleUpdate(ctx context.Context, s *Session, env *models.Envelope) error {
	if err := sm.presence.AuthorizeUpdate(env.DocumentID, s.ID); err != nil {
		return err
	}
	if len(env.Update) == 0 {
		return models.NewProtocolError("update payload is empty")
	}

	frame := (&models.Envelope{
		Type:       models.MessageUpdateBroadcast,
		DocumentID: env.DocumentID,
		UserID:     s.UserID,
		Update:     env.Update,
	}).Encode()

	err := sm.registry.ApplyAndBroadcast(ctx, env.DocumentID, env.Update, func() {
		sm.presence.Broadcast(env.DocumentID, frame, s.ID)
	})
	if err != nil {
		return err
	}

	sm.publish(ctx, env.DocumentID, models.MessageUpdateBroadcast, frame, env.Update)
	sm.presence.Touch(ctx, env.DocumentID, s.ID)
	return nil
}

func (sm *SessionManager) handleAwareness(ctx context.Context, s *Session, env *models.Envelope) error {
	if _, ok := s.joinedDocument(env.DocumentID); !ok {
		return models.NewProtocolError("document %s not joined", env.DocumentID)
	}

	frame := (&models.Envelope{
		Type:       models.MessageAwarenessUpdate,
		DocumentID: env.DocumentID,
		UserID:     s.UserID,
		Awareness:  env.Awareness,
	}).Encode()

	sm.presence.Broadcast(env.DocumentID, frame, s.ID)
	sm.publish(ctx, env.DocumentID, models.MessageAwarenessUpdate, frame, nil)
	sm.presence.Touch(ctx, env.DocumentID, s.ID)
	return nil
}

func (sm *SessionManager) handleLeave(ctx context.Context, s *Session, env *models.Envelope) error {
	if !sm.leaveDocument(ctx, s, env.DocumentID) {
		return models.NewProtocolError("document %s not joined", env.DocumentID)
	}
	return nil
}

// leaveDocument removes the session from one room and tells the peers.
// It reports false when the session was not a member.
func (sm *SessionManager) leaveDocument(ctx context.Context, s *Session, documentID string) bool {
	jd, ok := s.unmarkJoined(documentID)
	if !ok {
		return false
	}

	sm.presence.Leave(documentID, s.ID)
	if jd.attached {
		sm.registry.Detach(documentID)
	}

	removed := (&models.Envelope{
		Type:       models.MessageAwarenessRemove,
		DocumentID: documentID,
		UserID:     s.UserID,
	}).Encode()
	left := (&models.Envelope{
		Type:       models.MessageUserLeft,
		DocumentID: documentID,
		UserID:     s.UserID,
		Email:      s.Email,
	}).Encode()

	sm.presence.Broadcast(documentID, removed, s.ID)
	sm.presence.Broadcast(documentID, left, s.ID)
	sm.publish(ctx, documentID, models.MessageAwarenessRemove, removed, nil)
	sm.publish(ctx, documentID, models.MessageUserLeft, left, nil)

	log.Printf("  Session %s left %s (room: %d)", s.ID, documentID, len(sm.presence.Members(documentID)))
	return true
}

// Disconnect runs the leave procedure for every joined document exactly once.
func (sm *SessionManager) Disconnect(s *Session) {
	s.closeOnce.Do(func() {
		for _, documentID := range s.beginClose() {
			sm.leaveDocument(sm.ctx, s, documentID)
		}

		sm.mu.Lock()
		delete(sm.sessions, s.ID)
		sm.mu.Unlock()

		s.close()
		metrics.Connections.Dec()
		log.Printf("  Session %s disconnected", s.ID)
	})
}

// publish forwards an event to other processes. Failures only cost remote
// peers this event; local state is unaffected.
func (sm *SessionManager) publish(ctx context.Context, documentID string, typ models.MessageType, frame, update []byte) {
	if sm.relay == nil {
		return
	}

	err := sm.relay.Publish(ctx, &RelayEvent{
		Origin:     sm.instanceID,
		DocumentID: documentID,
		Type:       typ,
		Frame:      frame,
		Update:     update,
	})
	if err != nil {
		log.Printf("⚠️  Failed to relay %s for %s: %v", typ, documentID, err)
		return
	}
	metrics.RelayEvents.WithLabelValues("out").Inc()
}

func (sm *SessionManager) handleRelayEvent(ev *RelayEvent) {
	if ev.Origin == sm.instanceID {
		return
	}
	metrics.RelayEvents.WithLabelValues("in").Inc()

	broadcast := func() {
		sm.presence.Broadcast(ev.DocumentID, ev.Frame, "")
	}

	if ev.Type == models.MessageUpdateBroadcast && len(ev.Update) > 0 {
		if err := sm.registry.ApplyRemote(ev.DocumentID, ev.Update, broadcast); err != nil {
			log.Printf("⚠️  Dropping relayed update for %s: %v", ev.DocumentID, err)
		}
		return
	}
	broadcast()
}

// Shutdown closes every connection and then drains pending flushes.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down session manager...")

	sm.cancel()

	sm.mu.RLock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.RUnlock()

	for _, s := range sessions {
		if s.Conn != nil {
			s.Conn.Close()
		}
		sm.Disconnect(s)
	}

	err := sm.registry.Shutdown(ctx)
	sm.wg.Wait()
	if err != nil {
		return err
	}

	log.Println("✓ Session manager shutdown complete")
	return nil
}
