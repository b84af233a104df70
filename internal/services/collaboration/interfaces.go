package collaboration

import (
	"context"
	"time"

	"question-collab/internal/models"
)

// Consumer-side interfaces. The repository and auth packages return
// concrete types; this package only declares the methods it calls.

// DocumentStore loads and persists the canonical question fields.
type DocumentStore interface {
	Load(ctx context.Context, documentID string) (models.Fields, error)
	Save(ctx context.Context, documentID string, fields models.Fields) error
}

// AccessStore answers "who may join" and keeps presence rows.
type AccessStore interface {
	GetAccess(ctx context.Context, documentID, userID string) (*models.Access, error)
	TouchPresence(ctx context.Context, p *models.Presence) error
	ActiveUsers(ctx context.Context, documentID string, since time.Time) ([]models.ActiveUser, error)
}

// TokenVerifier turns a handshake credential into a verified identity.
type TokenVerifier interface {
	Verify(token string) (*models.Identity, error)
}

// Relay fans events out to other server processes.
type Relay interface {
	Publish(ctx context.Context, ev *RelayEvent) error
	// Subscribe blocks, calling handle for every received event, until ctx is done.
	Subscribe(ctx context.Context, handle func(*RelayEvent)) error
}

// Peer is anything that can receive an outbound frame.
// Deliver must not block; it reports false when the frame was dropped.
type Peer interface {
	Deliver(frame []byte) bool
}
