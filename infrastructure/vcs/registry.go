package vcs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"

	"github.com/open42/cr/domain"
)

// Factory is a constructor function that creates a configured backend.
type Factory func() (domain.VCS, error)

// Registry manages the registered VCS backend implementations. Exactly two
// are expected (git and svn); the working directory is probed once at
// startup to select one.
type Registry struct {
	backends map[string]Factory
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Factory),
	}
}

// Register adds a backend factory under the given name (e.g. "git").
func (r *Registry) Register(name string, factory Factory) {
	r.backends[name] = factory
}

// Get constructs the backend registered under name.
func (r *Registry) Get(name string) (domain.VCS, error) {
	factory, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown vcs backend: %q", name)
	}
	return factory()
}

// Detect probes dir for a supported working copy and returns the backend
// name to use: a git repository (searched upward like git itself) wins over
// a .svn working copy.
func Detect(dir string) (string, error) {
	_, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err == nil {
		return "git", nil
	}
	if !errors.Is(err, gogit.ErrRepositoryNotExists) {
		return "", fmt.Errorf("failed to probe for a git repository: %w", err)
	}

	for d := dir; ; d = filepath.Dir(d) {
		if _, statErr := os.Stat(filepath.Join(d, ".svn")); statErr == nil {
			return "svn", nil
		}
		if d == filepath.Dir(d) {
			break
		}
	}

	return "", fmt.Errorf("%q is not inside a git or svn working copy", dir)
}
