package permissions

import (
	"sort"

	"github.com/forge-ide/loom/pkg/models"
)

// exportVersion tags the serialization format.
const exportVersion = 1

// ExportedApprovals is the serializable snapshot of durable grants. Only
// folder and global grants travel: session grants are transient, and the
// default auto-approved set is excluded so re-importing a snapshot does
// not duplicate it.
type ExportedApprovals struct {
	Version   int                `json:"version"`
	Approvals []*models.Approval `json:"approvals"`
}

// Export snapshots the durable grants.
func (s *Service) Export() ExportedApprovals {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Approval
	for name, a := range s.global {
		if s.defaults[name] {
			continue
		}
		out = append(out, a)
	}
	for _, grants := range s.folder {
		for _, a := range grants {
			out = append(out, a)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		if out[i].FolderPath != out[j].FolderPath {
			return out[i].FolderPath < out[j].FolderPath
		}
		return out[i].ToolName < out[j].ToolName
	})

	return ExportedApprovals{Version: exportVersion, Approvals: out}
}

// Import merges a snapshot into the store. Entries with unknown scopes are
// skipped; terminal tools cannot enter the global tier. Returns the number
// of grants applied.
func (s *Service) Import(snapshot ExportedApprovals) int {
	applied := 0
	for _, a := range snapshot.Approvals {
		switch a.Scope {
		case models.ScopeGlobal:
			if _, err := s.AddGlobal(a.ToolName); err == nil {
				applied++
			}
		case models.ScopeFolder:
			if _, err := s.AddFolder(a.FolderPath, a.ToolName, a.ExpiresAt); err == nil {
				applied++
			}
		}
	}
	return applied
}
