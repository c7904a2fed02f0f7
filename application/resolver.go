package application

import (
	"context"
	"fmt"
	"sort"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/open42/cr/domain"
)

// ResolveRequest carries the user's optional selectors: an explicit
// changelist name, an explicit revision range, and/or bare file or branch
// arguments from the command line.
type ResolveRequest struct {
	Changelist string
	Revision   string
	Args       []string
}

// Resolver decides the single changelist a command applies to. It always
// recomputes the current grouping: the store and the working tree can
// change between process runs, so nothing is cached across operations.
type Resolver struct {
	vcs domain.VCS
}

// NewResolver creates a resolver over the given backend.
func NewResolver(vcs domain.VCS) *Resolver {
	return &Resolver{vcs: vcs}
}

// Resolve applies the disambiguation rules in priority order:
//
//  1. an explicit revision range bypasses local bookkeeping entirely;
//  2. an explicit changelist name must exist in the current grouping;
//  3. with no arguments, a single named changelist wins, then a populated
//     unnamed placeholder; several named changelists demand an explicit
//     choice, never a guess;
//  4. a single bare argument naming a known branch is a branch group
//     (intentionally shadowing any file of the same name); anything else
//     is a literal file list forming a new unnamed group.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*domain.FileGroupInfo, error) {
	if req.Revision != "" {
		name := req.Changelist
		if name == "" {
			name = domain.Placeholder
		}
		return &domain.FileGroupInfo{Name: name, Type: domain.GroupFiles}, nil
	}

	if req.Changelist != "" {
		groups, err := r.vcs.FileGroups(ctx, req.Changelist)
		if err != nil {
			return nil, err
		}
		group, ok := groups[req.Changelist]
		if !ok {
			return nil, domain.Userf("unable to find changelist %q", req.Changelist)
		}
		return group, nil
	}

	if len(req.Args) == 0 {
		return r.resolveImplicit(ctx)
	}
	return r.resolveArgs(ctx, req.Args)
}

func (r *Resolver) resolveImplicit(ctx context.Context) (*domain.FileGroupInfo, error) {
	groups, err := r.vcs.FileGroups(ctx, "")
	if err != nil {
		return nil, err
	}

	var named []string
	for name := range groups {
		if name != domain.Placeholder {
			named = append(named, name)
		}
	}

	switch len(named) {
	case 1:
		logger.Debugf("resolved to the only named changelist %q", named[0])
		return groups[named[0]], nil
	case 0:
		if placeholder, ok := groups[domain.Placeholder]; ok {
			// Adopted as the working set; renamed to its issue
			// form once uploaded.
			return placeholder, nil
		}
		return nil, domain.Userf("unable to find a suitable changelist to use")
	default:
		sort.Strings(named)
		return nil, domain.Userf(
			"there is more than one changelist or branch; specify one of the"+
				" following with --changelist [short: --cl]:\n%s",
			strings.Join(named, "\n"))
	}
}

func (r *Resolver) resolveArgs(ctx context.Context, args []string) (*domain.FileGroupInfo, error) {
	// A single argument matching a known branch is a branch group; branch
	// names win over colliding file names here.
	if len(args) == 1 {
		if pair, ok := r.vcs.ResolveBranch(ctx, args[0]); ok {
			name := domain.Placeholder
			groups, err := r.vcs.FileGroups(ctx, "")
			if err != nil {
				return nil, err
			}
			for existing, group := range groups {
				if group.Type == domain.GroupBranch && group.Branch == pair {
					name = existing
					break
				}
			}
			return &domain.FileGroupInfo{
				Name:   name,
				Type:   domain.GroupBranch,
				Branch: pair,
			}, nil
		}
	}

	group := &domain.FileGroupInfo{Name: domain.Placeholder, Type: domain.GroupFiles}
	for _, arg := range args {
		info := domain.NewFileInfo(arg, '*', domain.Placeholder)
		info.SetSlot(domain.SlotWorking, '*')
		group.Files = append(group.Files, info)
	}
	return group, nil
}

// Describe renders a group for error and progress messages.
func Describe(group *domain.FileGroupInfo) string {
	if group.Type == domain.GroupBranch {
		return group.Branch.String()
	}
	return fmt.Sprintf("%d file(s)", len(group.Files))
}
