package models

import "encoding/json"

/*
LEARNING: COLLABORATION WIRE PROTOCOL

Every frame is a JSON envelope with a "type" discriminator.
CRDT payloads (state, update) are opaque binary blobs; encoding/json
carries []byte as base64 so the envelope stays a text frame.

Flow:
  join-document → document-state (+ user-joined to peers)
  sync-request  → sync-reply
  update        → update-broadcast to peers
  awareness-update is relayed, never stored
*/

// MessageType defines types of messages in the collaboration protocol
type MessageType string

const (
	// Client → server
	MessageJoinDocument  MessageType = "join-document"
	MessageLeaveDocument MessageType = "leave-document"
	MessageSyncRequest   MessageType = "sync-request"
	MessageUpdate        MessageType = "update"

	// Bidirectional
	MessageAwarenessUpdate MessageType = "awareness-update"

	// Server → client
	MessageDocumentState   MessageType = "document-state"
	MessageSyncReply       MessageType = "sync-reply"
	MessageUpdateBroadcast MessageType = "update-broadcast"
	MessageAwarenessRemove MessageType = "awareness-remove"
	MessageUserJoined      MessageType = "user-joined"
	MessageUserLeft        MessageType = "user-left"
	MessageError           MessageType = "error"
)

// Envelope is the single frame shape used in both directions.
// Only the fields relevant to Type are populated.
type Envelope struct {
	Type        MessageType     `json:"type"`
	DocumentID  string          `json:"documentId,omitempty"`
	State       []byte          `json:"state,omitempty"`
	Update      []byte          `json:"update,omitempty"`
	Awareness   json.RawMessage `json:"awareness,omitempty"`
	Role        Role            `json:"role,omitempty"`
	ActiveUsers []ActiveUser    `json:"activeUsers,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	Email       string          `json:"email,omitempty"`
	Message     string          `json:"message,omitempty"`
	Code        ErrorCode       `json:"code,omitempty"`
}

// Encode marshals the envelope into a frame.
func (e *Envelope) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		// Only RawMessage can fail here and it is validated on decode.
		data, _ = json.Marshal(&Envelope{Type: MessageError, Code: CodeInternal, Message: "encode failed"})
	}
	return data
}

// DecodeEnvelope parses a client frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewProtocolError("malformed frame: %v", err)
	}
	if env.Type == "" {
		return nil, NewProtocolError("missing message type")
	}
	return &env, nil
}
