package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ordermatch/internal/config"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("ordermatch.document.*")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	p := NewPublisher(nc, "", nil)
	require.NoError(t, p.Publish(context.Background(), Event{
		SessionID:  "s-1",
		DocumentID: "doc-1",
		Status:     StatusCompleted,
		Confidence: 91,
		Items:      2,
		Resolved:   3,
	}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ordermatch.document.completed", msg.Subject)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "doc-1", got.DocumentID)
	assert.Equal(t, 91.0, got.Confidence)
	assert.False(t, got.Timestamp.IsZero())
}

func TestPublisher_FailedSubjectAndPrefix(t *testing.T) {
	server := startTestNATSServer(t)
	p, err := Connect(config.EventsConfig{URL: server.ClientURL(), SubjectPrefix: "test"}, nil)
	require.NoError(t, err)
	defer p.Close()

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync("test.document.failed")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, p.Publish(context.Background(), Event{DocumentID: "doc-2", Status: StatusFailed, Error: "boom"}))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), `"error":"boom"`)
}

func TestPublisher_Closed(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	p := NewPublisher(nc, "x", nil)
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Status: StatusCompleted}), ErrNotConnected)

	var nilPub *Publisher
	assert.ErrorIs(t, nilPub.Publish(context.Background(), Event{}), ErrNotConnected)
	assert.NoError(t, Discard{}.Publish(context.Background(), Event{}))
}
