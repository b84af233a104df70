// Package crdt wraps the automerge document model behind the small contract
// the collaboration service needs: hydrate once, merge remote updates,
// encode a full snapshot and read the materialized question fields.
//
// Merge semantics come from automerge. Nothing here re-derives them.
package crdt

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/automerge/automerge-go"

	"question-collab/internal/models"
)

const (
	questionKey = "question"
	contextKey  = "context"
)

// chunkMagic prefixes every automerge document and change chunk.
var chunkMagic = []byte{0x85, 0x6f, 0x4a, 0x83}

var (
	ErrAlreadyHydrated = errors.New("crdt: document already hydrated")
	ErrInvalidUpdate   = errors.New("crdt: invalid update")
)

// Document is one replicated question document.
// It is not safe for concurrent use; callers serialize access.
type Document struct {
	doc      *automerge.Doc
	hydrated bool
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{doc: automerge.New()}
}

// Load restores a document from a full snapshot produced by EncodeState.
// Clients use it to start editing from a sync-reply.
func Load(state []byte) (*Document, error) {
	doc, err := automerge.Load(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	return &Document{doc: doc, hydrated: true}, nil
}

/*
LEARNING: EVERY REPLICA MUST AGREE ON THE SEED

Hydrate writes the root "question" text and "context" map. If two processes
(or a process before and after a restart) seed the same content with random
actors and timestamps, automerge sees two concurrent writes of the root keys,
keeps one, and edits made against the other object vanish.

So the seed change is byte-identical everywhere: the actor id is derived
from the document id and the seeded content, and the commit time is fixed.
Later changes switch to a fresh random actor.
*/

// Hydrate seeds a fresh document with stored content.
// It must run before any ApplyUpdate and only once.
func (d *Document) Hydrate(documentID string, fields models.Fields) error {
	if d.hydrated {
		return ErrAlreadyHydrated
	}

	if err := d.doc.SetActorID(seedActorID(documentID, fields)); err != nil {
		return fmt.Errorf("hydrate actor: %w", err)
	}
	if err := d.doc.Path(questionKey).Set(automerge.NewText(fields.Question)); err != nil {
		return fmt.Errorf("hydrate question: %w", err)
	}
	if err := d.doc.Path(contextKey).Set(automerge.NewMap()); err != nil {
		return fmt.Errorf("hydrate context: %w", err)
	}
	for _, key := range models.ContextKeys {
		if err := d.doc.Path(contextKey, key).Set(fields.Context.Get(key)); err != nil {
			return fmt.Errorf("hydrate context %s: %w", key, err)
		}
	}
	seedTime := time.Unix(0, 0)
	if _, err := d.doc.Commit("hydrate", automerge.CommitOptions{Time: &seedTime}); err != nil {
		return fmt.Errorf("hydrate commit: %w", err)
	}
	if err := d.doc.SetActorID(automerge.NewActorID()); err != nil {
		return fmt.Errorf("hydrate actor: %w", err)
	}

	d.hydrated = true
	return nil
}

// seedActorID hashes the document id and content, so different content never
// reuses an actor's first sequence number.
func seedActorID(documentID string, fields models.Fields) string {
	h := sha256.New()
	h.Write([]byte(documentID))
	h.Write([]byte{0})
	h.Write([]byte(fields.Question))
	for _, key := range models.ContextKeys {
		h.Write([]byte{0})
		h.Write([]byte(key))
		h.Write([]byte{0})
		h.Write([]byte(fields.Context.Get(key)))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Hydrated reports whether Hydrate has run (or the document was loaded).
func (d *Document) Hydrated() bool {
	return d.hydrated
}

// ApplyUpdate merges a remote update. Duplicated and out-of-order updates
// are accepted; automerge buffers changes whose dependencies are missing.
func (d *Document) ApplyUpdate(update []byte) error {
	if len(update) == 0 {
		return fmt.Errorf("%w: empty update", ErrInvalidUpdate)
	}
	// LoadIncremental silently ignores bytes it cannot parse.
	if !bytes.HasPrefix(update, chunkMagic) {
		return fmt.Errorf("%w: not an automerge chunk", ErrInvalidUpdate)
	}
	if err := d.doc.LoadIncremental(update); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	return nil
}

// EncodeState returns a full snapshot a new client can load without history replay.
func (d *Document) EncodeState() []byte {
	return d.doc.Save()
}

// Materialize reads the current logical content.
func (d *Document) Materialize() (models.Fields, error) {
	var fields models.Fields

	q, err := d.doc.Path(questionKey).Get()
	if err != nil {
		return fields, fmt.Errorf("read question: %w", err)
	}
	switch q.Kind() {
	case automerge.KindText:
		text, err := q.Text().Get()
		if err != nil {
			return fields, fmt.Errorf("read question text: %w", err)
		}
		fields.Question = text
	case automerge.KindStr:
		fields.Question = q.Str()
	}

	for _, key := range models.ContextKeys {
		v, err := d.doc.Path(contextKey, key).Get()
		if err != nil {
			return fields, fmt.Errorf("read context %s: %w", key, err)
		}
		switch v.Kind() {
		case automerge.KindStr:
			fields.Context.Set(key, v.Str())
		case automerge.KindText:
			text, err := v.Text().Get()
			if err != nil {
				return fields, fmt.Errorf("read context %s text: %w", key, err)
			}
			fields.Context.Set(key, text)
		}
	}

	return fields, nil
}

// Edit applies local changes and returns them as an incremental update
// suitable for the "update" message.
func (d *Document) Edit(fn func(e *Editor) error) ([]byte, error) {
	if err := fn(&Editor{doc: d.doc}); err != nil {
		return nil, err
	}
	if _, err := d.doc.Commit("edit"); err != nil {
		return nil, fmt.Errorf("commit edit: %w", err)
	}
	return d.doc.SaveIncremental(), nil
}

// Editor exposes the handful of mutations a question editor performs.
type Editor struct {
	doc *automerge.Doc
}

// InsertQuestion inserts s at rune position pos of the question text.
func (e *Editor) InsertQuestion(pos int, s string) error {
	return e.doc.Path(questionKey).Text().Insert(pos, s)
}

// AppendQuestion appends s to the question text.
func (e *Editor) AppendQuestion(s string) error {
	text := e.doc.Path(questionKey).Text()
	return text.Insert(text.Len(), s)
}

// DeleteQuestion removes n runes starting at pos.
func (e *Editor) DeleteQuestion(pos, n int) error {
	return e.doc.Path(questionKey).Text().Delete(pos, n)
}

// SetContext replaces one of the structured context fields.
func (e *Editor) SetContext(key, value string) error {
	return e.doc.Path(contextKey, key).Set(value)
}
