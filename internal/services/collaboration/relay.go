package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"question-collab/internal/models"

	"github.com/redis/go-redis/v9"
)

/*
LEARNING: CROSS-PROCESS FAN-OUT

Each process publishes the frames it broadcast locally on
"<prefix><documentId>" and pattern-subscribes to "<prefix>*".
Events carry the origin instance id so a process ignores its own echo.
Updates also carry the raw CRDT bytes so a live document on another
process merges them before forwarding to its members.
*/

const defaultChannelPrefix = "question:"

// RelayEvent is one frame crossing process boundaries.
type RelayEvent struct {
	Origin     string             `json:"origin"`
	DocumentID string             `json:"documentId"`
	Type       models.MessageType `json:"type"`
	Frame      []byte             `json:"frame"`
	Update     []byte             `json:"update,omitempty"`
}

// RedisRelay implements Relay on redis pub/sub.
type RedisRelay struct {
	client *redis.Client
	prefix string
}

// NewRedisRelay creates a relay on an existing client.
func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{client: client, prefix: defaultChannelPrefix}
}

// NewRedisClient connects and pings redis at addr.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	log.Printf("✓ Connected to redis at %s", addr)
	return client, nil
}

func (r *RedisRelay) channel(documentID string) string {
	return r.prefix + documentID
}

// Publish sends an event to every subscribed process.
func (r *RedisRelay) Publish(ctx context.Context, ev *RelayEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode relay event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(ev.DocumentID), data).Err(); err != nil {
		return fmt.Errorf("publish relay event: %w", err)
	}
	return nil
}

// Subscribe delivers events until ctx is cancelled.
func (r *RedisRelay) Subscribe(ctx context.Context, handle func(*RelayEvent)) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe relay: %w", err)
	}
	log.Printf("✓ Relay subscribed to %s*", r.prefix)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev RelayEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("⚠️  Dropping malformed relay event on %s: %v", msg.Channel, err)
				continue
			}
			handle(&ev)
		}
	}
}

// Ping checks the redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
