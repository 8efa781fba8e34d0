package permissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/models"
)

func awaitResolution(t *testing.T, ch <-chan Resolution) Resolution {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resolution")
		return Resolution{}
	}
}

func TestRequest_ApproveOnce(t *testing.T) {
	s := newTestService()

	req, ch, err := s.Request("Bash", map[string]any{"command": "make"}, "sess-1", "coder", "")
	require.NoError(t, err)
	require.NotEmpty(t, req.ID)

	require.NoError(t, s.Approve(req.ID, models.ScopeOnce, ""))

	res := awaitResolution(t, ch)
	assert.True(t, res.Approved)
	assert.Equal(t, models.ScopeOnce, res.Scope)

	assert.False(t, s.Check("Bash", "sess-1", "").Allowed, "Once leaves no record")
}

func TestRequest_ApproveSessionRecordsGrant(t *testing.T) {
	s := newTestService()

	req, ch, err := s.Request("Bash", nil, "sess-1", "coder", "")
	require.NoError(t, err)

	require.NoError(t, s.Approve(req.ID, models.ScopeSession, ""))

	res := awaitResolution(t, ch)
	assert.True(t, res.Approved)
	assert.True(t, s.Check("Bash", "sess-1", "").Allowed,
		"Session approval should cover the next invocation")
	assert.False(t, s.Check("Bash", "sess-2", "").Allowed)
}

func TestRequest_ApproveFolderRecordsGrant(t *testing.T) {
	s := newTestService()

	req, ch, err := s.Request("Write", nil, "sess-1", "coder", "")
	require.NoError(t, err)

	require.NoError(t, s.Approve(req.ID, models.ScopeFolder, "/repo/src"))

	res := awaitResolution(t, ch)
	assert.True(t, res.Approved)
	assert.True(t, s.Check("Write", "", "/repo/src/main.go").Allowed)
}

func TestRequest_ApproveFolderWithoutPath(t *testing.T) {
	s := newTestService()

	req, _, err := s.Request("Write", nil, "sess-1", "coder", "")
	require.NoError(t, err)

	err = s.Approve(req.ID, models.ScopeFolder, "")
	assert.ErrorIs(t, err, ErrFolderPathRequired)

	_, stillPending := s.GetPendingRequest(req.ID)
	assert.True(t, stillPending, "Bad input must not consume the request")
}

func TestRequest_Deny(t *testing.T) {
	s := newTestService()

	req, ch, err := s.Request("Bash", nil, "sess-1", "coder", "")
	require.NoError(t, err)

	require.NoError(t, s.Deny(req.ID))

	res := awaitResolution(t, ch)
	assert.False(t, res.Approved)
	assert.Contains(t, res.Message, "denied")

	assert.ErrorIs(t, s.Deny(req.ID), ErrRequestNotFound, "A request resolves exactly once")
}

func TestRequest_UnknownID(t *testing.T) {
	s := newTestService()

	assert.ErrorIs(t, s.Approve("nope", models.ScopeOnce, ""), ErrRequestNotFound)
	assert.ErrorIs(t, s.Deny("nope"), ErrRequestNotFound)
}

func TestRequest_TimesOutAsDenied(t *testing.T) {
	s := NewService(nil, nil, Config{RequestTimeout: 20 * time.Millisecond})

	req, ch, err := s.Request("Bash", nil, "sess-1", "coder", "")
	require.NoError(t, err)

	res := awaitResolution(t, ch)
	assert.False(t, res.Approved)
	assert.Contains(t, res.Message, "timed out")

	_, stillPending := s.GetPendingRequest(req.ID)
	assert.False(t, stillPending)
}

func TestRequest_MaxPending(t *testing.T) {
	s := NewService(nil, nil, Config{MaxPending: 1})

	_, _, err := s.Request("Bash", nil, "sess-1", "coder", "")
	require.NoError(t, err)

	_, _, err = s.Request("Write", nil, "sess-1", "coder", "")
	assert.ErrorIs(t, err, ErrMaxPendingExceeded)
}

func TestPendingRequests_OldestFirst(t *testing.T) {
	s := newTestService()

	first, _, err := s.Request("Bash", nil, "sess-1", "coder", "")
	require.NoError(t, err)
	second, _, err := s.Request("Write", nil, "sess-1", "coder", "")
	require.NoError(t, err)

	pending := s.PendingRequests()
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestClose_DeniesAllPending(t *testing.T) {
	s := newTestService()

	_, ch1, err := s.Request("Bash", nil, "sess-1", "coder", "")
	require.NoError(t, err)
	_, ch2, err := s.Request("Write", nil, "sess-1", "coder", "")
	require.NoError(t, err)

	s.Close()

	assert.False(t, awaitResolution(t, ch1).Approved)
	assert.False(t, awaitResolution(t, ch2).Approved)
	assert.Empty(t, s.PendingRequests())
}
