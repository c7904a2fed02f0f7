package cmd

import (
	"os"

	"go.uber.org/dig"

	"github.com/open42/cr/application"
	"github.com/open42/cr/config"
	"github.com/open42/cr/domain"
	"github.com/open42/cr/infrastructure/review"
	"github.com/open42/cr/infrastructure/vcs"
	"github.com/open42/cr/infrastructure/vcs/git"
	"github.com/open42/cr/infrastructure/vcs/svn"
)

// app bundles everything a command needs after container resolution.
type app struct {
	service *application.Service
	backend domain.VCS
}

// buildApp assembles the dependency graph for the current working directory.
// Construction is lazy: the container is only built when a command actually
// runs, after the flags have been parsed.
func buildApp() (*app, error) {
	container := dig.New()

	constructors := []any{
		loadConfig,
		newRunner,
		newRegistry,
		detectBackend,
		newReviewClient,
		newPageParser,
		newUploader,
		application.NewService,
	}
	for _, c := range constructors {
		if err := container.Provide(c); err != nil {
			return nil, err
		}
	}

	var result *app
	err := container.Invoke(func(
		service *application.Service,
		backend domain.VCS,
	) {
		result = &app{service: service, backend: backend}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return result, nil
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		found, err := config.FindConfigFile()
		if err != nil {
			return nil, err
		}
		path = found
	}
	return config.Load(path)
}

func newRunner() vcs.Runner {
	return &vcs.ExecRunner{}
}

func newRegistry(cfg *config.Config, runner vcs.Runner) *vcs.Registry {
	registry := vcs.NewRegistry()
	registry.Register("git", func() (domain.VCS, error) {
		return git.Open(cfg, runner)
	})
	registry.Register("svn", func() (domain.VCS, error) {
		return svn.NewBackend(cfg, runner), nil
	})
	return registry
}

func detectBackend(registry *vcs.Registry) (domain.VCS, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	name, err := vcs.Detect(dir)
	if err != nil {
		return nil, err
	}
	return registry.Get(name)
}

func newReviewClient(cfg *config.Config) domain.ReviewClient {
	return review.NewClient(cfg.Server)
}

func newPageParser() domain.PageParser {
	return review.NewPageParser()
}

func newUploader(client domain.ReviewClient) domain.DiffUploader {
	return review.NewUploader(client)
}
