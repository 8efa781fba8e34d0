package models

import "time"

// ApprovalScope is the lifespan of a permission grant.
type ApprovalScope string

const (
	// ScopeOnce approves a single invocation and leaves no record.
	ScopeOnce ApprovalScope = "once"
	// ScopeSession approves a tool for the rest of one session.
	ScopeSession ApprovalScope = "session"
	// ScopeFolder approves a tool for targets under a folder prefix.
	ScopeFolder ApprovalScope = "folder"
	// ScopeGlobal approves a tool everywhere.
	ScopeGlobal ApprovalScope = "global"
)

// Approval is a recorded permission grant. Invariants: ScopeSession requires
// SessionID; ScopeFolder requires FolderPath; ExpiresAt, if set, is after
// GrantedAt.
type Approval struct {
	ID         string        `json:"id,omitempty"`
	ToolName   string        `json:"tool_name"`
	Scope      ApprovalScope `json:"scope"`
	SessionID  string        `json:"session_id,omitempty"`
	FolderPath string        `json:"folder_path,omitempty"`
	GrantedAt  time.Time     `json:"granted_at"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
}

// Expired reports whether the approval has an expiry in the past.
func (a *Approval) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}
