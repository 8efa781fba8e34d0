package permissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/models"
)

func newTestService() *Service {
	return NewService(nil, nil, Config{})
}

func TestCheck_DefaultAutoApproved(t *testing.T) {
	s := newTestService()

	for _, name := range []string{"Read", "Glob", "Grep", "LS", "LSP", "TodoWrite", "DocumentSearch"} {
		d := s.Check(name, "", "")
		assert.True(t, d.Allowed, "%s should be auto-approved", name)
		require.NotNil(t, d.Approval)
		assert.Equal(t, models.ScopeGlobal, d.Approval.Scope)
	}
}

func TestCheck_GrantCoversEveryDialect(t *testing.T) {
	s := newTestService()

	// The default grant is keyed canonically, so the same tool passes
	// under any provider-facing name.
	assert.True(t, s.Check("Read", "", "").Allowed)
	assert.True(t, s.Check("read_file", "", "").Allowed)
	assert.True(t, s.Check("readFile", "", "").Allowed)
	assert.True(t, s.Check("file.read", "", "").Allowed)
}

func TestCheck_WriteToolsNotDefault(t *testing.T) {
	s := newTestService()

	for _, name := range []string{"Write", "Edit", "DeleteFile", "GitCommit"} {
		d := s.Check(name, "", "")
		assert.False(t, d.Allowed, "%s must not be auto-approved", name)
		assert.NotEmpty(t, d.Reason)
	}
}

func TestCheck_TerminalNeverAutoApproved(t *testing.T) {
	s := newTestService()

	assert.False(t, s.Check("Bash", "sess-1", "/repo").Allowed)
	assert.False(t, s.Check("run_command", "", "").Allowed)
	assert.False(t, s.Check("BashSpawn", "", "").Allowed)
}

func TestCheck_SessionScope(t *testing.T) {
	s := newTestService()

	s.AddSession("sess-1", "Bash", nil)

	assert.True(t, s.Check("Bash", "sess-1", "").Allowed)
	assert.False(t, s.Check("Bash", "sess-2", "").Allowed, "Session grants are exact-match")
	assert.False(t, s.Check("Bash", "", "").Allowed)
}

func TestCheck_ExpiredSessionGrantRemoved(t *testing.T) {
	s := newTestService()

	past := time.Now().UTC().Add(-time.Minute)
	s.AddSession("sess-1", "Bash", &past)

	assert.False(t, s.Check("Bash", "sess-1", "").Allowed)

	// Discovery removed the grant entirely.
	s.mu.RLock()
	_, stillThere := s.session["sess-1"]["terminal.execute"]
	s.mu.RUnlock()
	assert.False(t, stillThere)
}

func TestCheck_FolderLongestPrefixWins(t *testing.T) {
	s := newTestService()

	_, err := s.AddFolder("/repo", "Write", nil)
	require.NoError(t, err)
	_, err = s.AddFolder("/repo/src", "Write", nil)
	require.NoError(t, err)

	d := s.Check("Write", "", "/repo/src/main.go")
	require.True(t, d.Allowed)
	assert.Equal(t, "/repo/src/", d.Approval.FolderPath)

	d = s.Check("Write", "", "/repo/README.md")
	require.True(t, d.Allowed)
	assert.Equal(t, "/repo/", d.Approval.FolderPath)
}

func TestCheck_FolderPathNormalization(t *testing.T) {
	s := newTestService()

	_, err := s.AddFolder(`C:\repo`, "Write", nil)
	require.NoError(t, err)

	assert.True(t, s.Check("Write", "", `C:\repo\main.go`).Allowed)
	assert.True(t, s.Check("Write", "", "C:/repo/main.go").Allowed)
	assert.True(t, s.Check("Write", "", "C:/repo").Allowed, "The folder itself is covered")
	assert.False(t, s.Check("Write", "", "C:/repository/main.go").Allowed,
		"Sibling paths sharing a name prefix must not match")
}

func TestCheck_FolderRequiresTargetPath(t *testing.T) {
	s := newTestService()

	_, err := s.AddFolder("/repo", "Write", nil)
	require.NoError(t, err)

	assert.False(t, s.Check("Write", "", "").Allowed)
}

func TestAddGlobal_TerminalRefused(t *testing.T) {
	s := newTestService()

	_, err := s.AddGlobal("Bash")
	assert.ErrorIs(t, err, ErrTerminalGlobal)

	_, err = s.AddGlobal("terminal.spawn")
	assert.ErrorIs(t, err, ErrTerminalGlobal)
}

func TestAddGlobal_CustomToolAllowed(t *testing.T) {
	s := newTestService()

	_, err := s.AddGlobal("MyCustomTool")
	require.NoError(t, err)
	assert.True(t, s.Check("MyCustomTool", "", "").Allowed)
}

func TestRemoveGlobal_DropsDefault(t *testing.T) {
	s := newTestService()
	require.True(t, s.Check("Read", "", "").Allowed)

	s.RemoveGlobal("Read")

	assert.False(t, s.Check("Read", "", "").Allowed)
}

func TestRemoveFolder(t *testing.T) {
	s := newTestService()
	_, err := s.AddFolder("/repo", "Write", nil)
	require.NoError(t, err)

	s.RemoveFolder("/repo", "Write")

	assert.False(t, s.Check("Write", "", "/repo/a.txt").Allowed)
}

func TestClearSession(t *testing.T) {
	s := newTestService()
	s.AddSession("sess-1", "Bash", nil)
	s.AddSession("sess-1", "Write", nil)
	s.AddSession("sess-2", "Bash", nil)

	s.ClearSession("sess-1")

	assert.False(t, s.Check("Bash", "sess-1", "").Allowed)
	assert.False(t, s.Check("Write", "sess-1", "").Allowed)
	assert.True(t, s.Check("Bash", "sess-2", "").Allowed, "Other sessions keep their grants")
}

func TestClearAll_KeepsDefaults(t *testing.T) {
	s := newTestService()
	_, err := s.AddGlobal("Write")
	require.NoError(t, err)
	_, err = s.AddFolder("/repo", "Edit", nil)
	require.NoError(t, err)
	s.AddSession("sess-1", "Bash", nil)

	s.ClearAll()

	assert.False(t, s.Check("Write", "", "").Allowed)
	assert.False(t, s.Check("Edit", "", "/repo/a.txt").Allowed)
	assert.False(t, s.Check("Bash", "sess-1", "").Allowed)
	assert.True(t, s.Check("Read", "", "").Allowed, "Defaults survive ClearAll")
}

func TestSubscribe_StoreChangeEvents(t *testing.T) {
	s := newTestService()

	var got []Event
	s.Subscribe(func(e Event) { got = append(got, e) })

	s.AddSession("sess-1", "Bash", nil)
	s.RemoveSession("sess-1", "Bash")
	s.ClearSession("sess-1")

	require.Len(t, got, 2, "ClearSession on an empty session emits nothing")
	assert.Equal(t, EventApprovalAdded, got[0].Type)
	assert.Equal(t, "terminal.execute", got[0].Approval.ToolName)
	assert.Equal(t, EventApprovalRemoved, got[1].Type)
}

func TestSubscribe_PanickingSubscriberIsolated(t *testing.T) {
	s := newTestService()

	s.Subscribe(func(Event) { panic("subscriber bug") })
	var received int
	s.Subscribe(func(Event) { received++ })

	assert.NotPanics(t, func() { s.AddSession("sess-1", "Bash", nil) })
	assert.Equal(t, 1, received, "Later subscribers still run after a panic")
}

func TestExport_DurableGrantsOnly(t *testing.T) {
	s := newTestService()
	_, err := s.AddGlobal("Write")
	require.NoError(t, err)
	_, err = s.AddFolder("/repo", "Edit", nil)
	require.NoError(t, err)
	s.AddSession("sess-1", "Bash", nil)

	snapshot := s.Export()

	require.Len(t, snapshot.Approvals, 2, "Defaults and session grants stay home")
	assert.Equal(t, 1, snapshot.Version)
	for _, a := range snapshot.Approvals {
		assert.NotEqual(t, models.ScopeSession, a.Scope)
	}
}

func TestImport_RoundTrip(t *testing.T) {
	src := newTestService()
	_, err := src.AddGlobal("Write")
	require.NoError(t, err)
	_, err = src.AddFolder("/repo", "Edit", nil)
	require.NoError(t, err)

	dst := newTestService()
	applied := dst.Import(src.Export())

	assert.Equal(t, 2, applied)
	assert.True(t, dst.Check("Write", "", "").Allowed)
	assert.True(t, dst.Check("Edit", "", "/repo/a.txt").Allowed)
}

func TestImport_SkipsTerminalGlobal(t *testing.T) {
	dst := newTestService()

	applied := dst.Import(ExportedApprovals{Version: 1, Approvals: []*models.Approval{
		{ToolName: "terminal.execute", Scope: models.ScopeGlobal},
		{ToolName: "file.write", Scope: models.ScopeGlobal},
	}})

	assert.Equal(t, 1, applied)
	assert.False(t, dst.Check("Bash", "", "").Allowed)
	assert.True(t, dst.Check("Write", "", "").Allowed)
}
