package collaboration

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"question-collab/internal/models"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be shorter than pongWait
	maxMessageSize = 4 << 20
)

// Session is one authenticated connection. It may join several documents.
type Session struct {
	ID          string
	UserID      string
	Email       string
	ConnectedAt time.Time

	Conn    *websocket.Conn // nil for in-process peers (tests)
	Send    chan []byte     // buffered outbound frames
	Manager *SessionManager

	mu           sync.Mutex
	closing      bool // Disconnect has started; no new memberships
	closed       bool
	joined       map[string]*joinedDocument
	lastActiveAt time.Time

	closeOnce sync.Once
}

type joinedDocument struct {
	role     models.Role
	attached bool // synced and counted by the registry
}

func newSession(identity *models.Identity, conn *websocket.Conn, bufferSize int, manager *SessionManager) *Session {
	now := time.Now()
	return &Session{
		ID:           ksuid.New().String(),
		UserID:       identity.UserID,
		Email:        identity.Email,
		ConnectedAt:  now,
		Conn:         conn,
		Send:         make(chan []byte, bufferSize),
		Manager:      manager,
		joined:       make(map[string]*joinedDocument),
		lastActiveAt: now,
	}
}

// Deliver queues a frame without blocking. A full buffer means the client
// cannot keep up; the connection is dropped and cleaned up like a disconnect.
func (s *Session) Deliver(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.Send <- frame:
		return true
	default:
		log.Printf("⚠️  Session %s buffer full, closing connection", s.ID)
		if s.Conn != nil {
			s.Conn.Close()
		}
		// Callers may hold a document lock; clean up on another goroutine.
		go s.Manager.Disconnect(s)
		return false
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// LastActiveAt returns the time of the last inbound frame.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

func (s *Session) joinedDocument(documentID string) (*joinedDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jd, ok := s.joined[documentID]
	return jd, ok
}

// markJoined records the membership. It refuses once Disconnect has started,
// because the leave procedure would never see it.
func (s *Session) markJoined(documentID string, role models.Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	if _, ok := s.joined[documentID]; !ok {
		s.joined[documentID] = &joinedDocument{role: role}
	}
	return true
}

func (s *Session) attachedTo(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	jd, ok := s.joined[documentID]
	return ok && jd.attached
}

// markAttached flips the attached flag once and reports whether it did.
// It refuses when the document was left or Disconnect has started.
func (s *Session) markAttached(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	jd, ok := s.joined[documentID]
	if s.closing || !ok || jd.attached {
		return false
	}
	jd.attached = true
	return true
}

func (s *Session) unmarkJoined(documentID string) (*joinedDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jd, ok := s.joined[documentID]
	if ok {
		delete(s.joined, documentID)
	}
	return jd, ok
}

// beginClose stops new memberships and returns the ones to leave.
func (s *Session) beginClose() []string {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	return s.JoinedDocuments()
}

// JoinedDocuments lists the documents this session is a member of.
func (s *Session) JoinedDocuments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.joined))
	for id := range s.joined {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// close marks the session closed and releases the send buffer.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.Send)
}

// ReadPump reads frames until the connection fails, then disconnects.
// Learning: Each session has its own goroutine reading from the WebSocket
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.Manager.Disconnect(s)
		s.Conn.Close()
	}()

	s.Conn.SetReadLimit(maxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on session %s: %v", s.ID, err)
			}
			return
		}

		s.touch()
		s.Manager.HandleMessage(ctx, s, message)
	}
}

// WritePump drains Send to the connection and keeps it alive with pings.
// Learning: Separate goroutine for writing prevents blocking on slow clients
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One JSON envelope per websocket message.
			if err := s.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
