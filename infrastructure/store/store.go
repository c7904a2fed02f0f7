// Package store persists the changelist bookkeeping the git backend needs
// to fake a changelist concept git does not natively have. One JSON document
// per working copy, kept under the repository metadata directory.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/open42/cr/domain"
)

// FileName is the store document's name inside the git metadata directory.
const FileName = "cr-changelists.json"

// Store is the persisted changelist state: three maps with an explicit
// load/save lifecycle tied to one command invocation. It is owned by a
// single process for the duration of a run; concurrent invocations racing
// on the file are an accepted limitation.
type Store struct {
	path string

	// Branches maps changelist name to its branch pair. A pair appears
	// under at most one name.
	Branches map[string]domain.BranchPair `json:"branches"`
	// Files maps changelist name to its member paths. A path appears
	// under at most one name; empty entries are deleted.
	Files map[string][]string `json:"files"`
	// Hidden is the set of branch names excluded from status display.
	Hidden []string `json:"hidden"`
}

// Load reads the store document at path, defaulting to empty maps when the
// file does not exist yet (first run).
func Load(path string) (*Store, error) {
	s := &Store{
		path:     path,
		Branches: make(map[string]domain.BranchPair),
		Files:    make(map[string][]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read changelist store %q: %w", path, err)
	}
	if unmarshalErr := json.Unmarshal(data, s); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse changelist store %q: %w", path, unmarshalErr)
	}
	if s.Branches == nil {
		s.Branches = make(map[string]domain.BranchPair)
	}
	if s.Files == nil {
		s.Files = make(map[string][]string)
	}
	return s, nil
}

// Save serializes the three maps back to disk. The write goes to a temp
// file first and is moved into place atomically, so no partial document is
// ever observable. Map keys marshal in sorted order and the hidden set is
// kept sorted, so saves are reproducible.
func (s *Store) Save() error {
	sort.Strings(s.Hidden)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize changelist store: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, writeErr := tmp.Write(data); writeErr != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write changelist store: %w", writeErr)
	}
	if closeErr := tmp.Close(); closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write changelist store: %w", closeErr)
	}
	if renameErr := os.Rename(tmpName, s.path); renameErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace changelist store: %w", renameErr)
	}
	return nil
}

// AssignBranch maps a branch pair to a changelist name, first clearing any
// prior entry under the name and any prior name holding the same pair.
func (s *Store) AssignBranch(pair domain.BranchPair, name string) error {
	delete(s.Branches, name)
	for existing, p := range s.Branches {
		if p == pair {
			delete(s.Branches, existing)
		}
	}
	s.Branches[name] = pair
	return s.Save()
}

// UnassignBranch drops the branch entry for a changelist name.
func (s *Store) UnassignBranch(name string) error {
	delete(s.Branches, name)
	return s.Save()
}

// BranchChangelist returns the changelist name holding the given pair.
func (s *Store) BranchChangelist(pair domain.BranchPair) (string, bool) {
	for name, p := range s.Branches {
		if p == pair {
			return name, true
		}
	}
	return "", false
}

// AssignFiles moves paths into a changelist, removing each from whatever
// changelist currently holds it and deleting entries that become empty.
// Assigning an already-assigned path again is a no-op beyond normalization.
func (s *Store) AssignFiles(paths []string, name string) error {
	for _, path := range paths {
		s.removeFile(path)
	}
	s.Files[name] = append(s.Files[name], paths...)
	return s.Save()
}

// UnassignFiles removes paths from every changelist that holds them.
func (s *Store) UnassignFiles(paths []string) error {
	for _, path := range paths {
		s.removeFile(path)
	}
	return s.Save()
}

// FileChangelist returns the changelist name holding the given path.
func (s *Store) FileChangelist(path string) (string, bool) {
	for name, paths := range s.Files {
		if slices.Contains(paths, path) {
			return name, true
		}
	}
	return "", false
}

// Remove drops both the branch entry and the files entry for a name.
func (s *Store) Remove(name string) error {
	delete(s.Branches, name)
	delete(s.Files, name)
	return s.Save()
}

// Hide excludes a branch from status display.
func (s *Store) Hide(branch string) error {
	if !slices.Contains(s.Hidden, branch) {
		s.Hidden = append(s.Hidden, branch)
	}
	return s.Save()
}

// Show re-includes a branch in status display.
func (s *Store) Show(branch string) error {
	s.Hidden = slices.DeleteFunc(s.Hidden, func(b string) bool { return b == branch })
	return s.Save()
}

// IsHidden reports whether a branch is excluded from status display.
func (s *Store) IsHidden(branch string) bool {
	return slices.Contains(s.Hidden, branch)
}

func (s *Store) removeFile(path string) {
	for name, paths := range s.Files {
		trimmed := slices.DeleteFunc(paths, func(p string) bool { return p == path })
		if len(trimmed) == 0 {
			delete(s.Files, name)
			continue
		}
		s.Files[name] = trimmed
	}
}
