package domain

import "fmt"

// GroupType discriminates the two shapes of a FileGroupInfo.
type GroupType string

const (
	// GroupFiles is a changelist made of individual file paths.
	GroupFiles GroupType = "f"
	// GroupBranch is a changelist backed by a (remote, local) branch pair.
	GroupBranch GroupType = "b"
)

// Placeholder is the changelist name used for changes that have not been
// assigned to a named changelist yet. After the first successful upload the
// group is renamed to its issue-numbered form (see IssueChangelistName).
const Placeholder = "issue"

// Logical slot names for the git backend's per-file divergence records.
// Branch names occupy further slots.
const (
	SlotStaged  = "__staged__"
	SlotWorking = "__working__"
)

// FileInfo describes one tracked or untracked path in the working tree.
type FileInfo struct {
	Name string
	// Status is a single-character code: '?' untracked, 'M' modified,
	// 'A' added, or whatever the backend reports.
	Status byte
	// Changelist is the owning changelist name; empty when ungrouped.
	Changelist string
	// Slots maps a stage/branch slot to the status character recorded
	// there. A FileInfo with no slot entries is unchanged and must not
	// appear in any changelist grouping.
	Slots map[string]byte
}

// NewFileInfo creates a FileInfo with an empty slot map.
func NewFileInfo(name string, status byte, changelist string) *FileInfo {
	return &FileInfo{
		Name:       name,
		Status:     status,
		Changelist: changelist,
		Slots:      make(map[string]byte),
	}
}

// SetSlot records the status character for a stage or branch slot.
func (f *FileInfo) SetSlot(slot string, status byte) {
	if f.Slots == nil {
		f.Slots = make(map[string]byte)
	}
	f.Slots[slot] = status
}

// Changed reports whether the file diverges in any slot.
func (f *FileInfo) Changed() bool {
	return len(f.Slots) > 0
}

// BranchPair identifies a feature branch and the remote branch it is
// reviewed against.
type BranchPair struct {
	Remote string `json:"remote"`
	Local  string `json:"local"`
}

func (p BranchPair) String() string {
	return fmt.Sprintf("'%s' (in the context of '%s')", p.Local, p.Remote)
}

// IsZero reports whether the pair is unset.
func (p BranchPair) IsZero() bool {
	return p.Remote == "" && p.Local == ""
}

// FileGroupInfo is the unit the resolver and the submission flow operate on:
// either a named set of files or a branch pair, never both.
type FileGroupInfo struct {
	Name   string
	Type   GroupType
	Files  []*FileInfo // GroupFiles only
	Branch BranchPair  // GroupBranch only
}

// FilePaths returns the member file paths, excluding untracked files.
func (g *FileGroupInfo) FilePaths() []string {
	paths := make([]string, 0, len(g.Files))
	for _, f := range g.Files {
		if f.Status == '?' {
			continue
		}
		paths = append(paths, f.Name)
	}
	return paths
}

// Snapshot is a read-only view of the working tree's divergence state.
type Snapshot struct {
	// Current is the current context: the checked-out branch for git,
	// empty for svn.
	Current string
	// Branches lists every known branch or context name.
	Branches []string
	// Files maps path to its divergence record.
	Files map[string]*FileInfo
}
