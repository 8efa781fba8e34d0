package e2e

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// EventClient is a WebSocket consumer of the /ws event stream.
type EventClient struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	events chan map[string]any
}

// DialEvents connects to the harness /ws endpoint and subscribes to the
// given channels. Received messages, including protocol frames, are queued
// for WaitFor.
func (h *Harness) DialEvents(t *testing.T, channels ...string) *EventClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.Server.URL, "http") + "/ws"
	ctx, cancel := context.WithCancel(context.Background())

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	c := &EventClient{conn: conn, cancel: cancel, events: make(chan map[string]any, 256)}
	t.Cleanup(func() {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "test done")
	})

	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				close(c.events)
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil {
				c.events <- msg
			}
		}
	}()

	// The server greets with connection.established before accepting
	// subscriptions.
	c.WaitFor(t, func(msg map[string]any) bool {
		return msg["type"] == "connection.established"
	})

	for _, channel := range channels {
		require.NoError(t, c.Send(ctx, map[string]any{"action": "subscribe", "channel": channel}))
		c.WaitFor(t, func(msg map[string]any) bool {
			return msg["type"] == "subscription.confirmed" && msg["channel"] == channel
		})
	}
	return c
}

// Send writes one client frame.
func (c *EventClient) Send(ctx context.Context, msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// WaitFor consumes queued messages until one matches, failing the test on
// timeout or stream close.
func (c *EventClient) WaitFor(t *testing.T, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg, ok := <-c.events:
			if !ok {
				t.Fatal("event stream closed before a matching event arrived")
			}
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}
