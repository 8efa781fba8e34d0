package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/providers"
	"github.com/forge-ide/loom/pkg/session"
)

func TestSendChatMessage(t *testing.T) {
	h := newAPIHarness(t, providers.MockTurn{Text: "Hello back"})

	w := h.do(t, http.MethodPost, "/api/v1/chats/chat-1/agents/assistant/messages", SendChatMessageRequest{
		Content: "hello",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decodeBody[SendChatMessageResponse](t, w)
	require.NotEmpty(t, resp.SessionID)

	// The loop runs async; wait for it to settle back to idle.
	require.Eventually(t, func() bool {
		sess, ok := h.srv.sessions.GetByKey("chat-1", "assistant")
		return ok && sess.State() == session.StateIdle && len(sess.History()) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSendChatMessage_Validation(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/chats/chat-1/agents/assistant/messages", SendChatMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/chats/chat-1/agents/missing-agent/messages", SendChatMessageRequest{
		Content: "hello",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelChatMessage_NoSession(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/chats/chat-1/agents/assistant/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessions(t *testing.T) {
	h := newAPIHarness(t, providers.MockTurn{Text: "ok"})

	w := h.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[SessionsResponse](t, w).Sessions)

	w = h.do(t, http.MethodPost, "/api/v1/chats/chat-9/agents/coder/messages", SendChatMessageRequest{
		Content: "do a thing",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/sessions", nil)
	resp := decodeBody[SessionsResponse](t, w)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "chat-9", resp.Sessions[0].ChatID)
	assert.Equal(t, "coder", resp.Sessions[0].AgentID)
}
