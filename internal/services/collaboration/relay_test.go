package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"question-collab/internal/models"
)

var (
	redisOnce sync.Once
	redisAddr string
	redisErr  error
)

// setupRedis starts one redis container for the package.
// Skipped with -short or when Docker is unavailable.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}

	redisOnce.Do(func() {
		redisAddr, redisErr = startRedis()
	})
	if redisErr != nil {
		t.Skipf("redis container unavailable: %v", redisErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := NewRedisClient(ctx, redisAddr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func startRedis() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return "", fmt.Errorf("container port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func TestRedisRelay_PublishSubscribe(t *testing.T) {
	client := setupRedis(t)
	relay := NewRedisRelay(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *RelayEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- relay.Subscribe(ctx, func(ev *RelayEvent) {
			select {
			case received <- ev:
			default:
			}
		})
	}()

	// Subscription confirmation is asynchronous; publish until someone listens.
	sent := &RelayEvent{
		Origin:     "instance-a",
		DocumentID: "q1",
		Type:       models.MessageUpdateBroadcast,
		Frame:      []byte(`{"type":"update-broadcast"}`),
		Update:     []byte{0x85, 0x6f},
	}
	require.Eventually(t, func() bool {
		n, err := client.Publish(ctx, "question:q1", mustJSON(t, sent)).Result()
		return err == nil && n > 0
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case got := <-received:
		assert.Equal(t, sent, got)
	case <-time.After(5 * time.Second):
		t.Fatal("relay event not received")
	}

	require.NoError(t, relay.Publish(ctx, sent))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
