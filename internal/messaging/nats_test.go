package messaging

import (
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) *NATSClient {
	t.Helper()

	cfg := DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.URL = v
	}
	cfg.Name = "roommate-test"
	cfg.MaxReconnects = 0

	c, err := NewNATSClient(cfg, nil)
	if err != nil {
		t.Skipf("skipping: NATS not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNotifySubject(t *testing.T) {
	assert.Equal(t, "notify.42", NotifySubject(42))
}

func TestPublishNotification_DeliveredToUser(t *testing.T) {
	c := setupTestClient(t)

	got := make(chan []byte, 1)
	require.NoError(t, c.SubscribeNotifications(7, func(data []byte) { got <- data }))
	require.NoError(t, c.conn.Flush())

	require.NoError(t, c.PublishNotification(8, []byte("not for 7")))
	require.NoError(t, c.PublishNotification(7, []byte("hello")))

	select {
	case data := <-got:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	require.NoError(t, c.UnsubscribeNotifications(7))
	assert.Error(t, c.UnsubscribeNotifications(7))
}

func TestRequestReply(t *testing.T) {
	c := setupTestClient(t)

	subject := SubjectMatchRPC + ".echo"
	require.NoError(t, c.QueueSubscribe(subject, QueueMatchd, func(msg *nats.Msg) {
		_ = msg.Respond(append([]byte("re:"), msg.Data...))
	}))
	require.NoError(t, c.conn.Flush())

	reply, err := c.Request(subject, []byte("ping"), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "re:ping", string(reply))
}
