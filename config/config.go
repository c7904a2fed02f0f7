package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	logger "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for cr. It is constructed once at
// startup and passed to every component that needs it; nothing else reads
// the environment directly.
type Config struct {
	// Server is the review service host ("codereview.example.com").
	Server string `yaml:"server"`
	// Email is the acting user's identity, used to reject self-approvals
	// and passed along on uploads.
	Email string `yaml:"email"`
	// SubjectHeader is prepended to the size-classification subject line.
	SubjectHeader string `yaml:"subject_header"`
	// DefaultCC is always appended to the upload CC list.
	DefaultCC string `yaml:"default_cc"`

	// AllowSelfApproval accepts an LGTM posted by the acting user.
	AllowSelfApproval bool `yaml:"allow_self_approval"`

	// Style checks applied to uploaded diffs.
	MaxCols   map[string]int `yaml:"max_cols"`
	AllowTabs bool           `yaml:"allow_tabs"`

	// SVNRepositoryURL is an optional template with a %d placeholder for
	// the committed revision, shown in the published commit message.
	SVNRepositoryURL string `yaml:"svn_repository_url"`

	// Git remote display settings: RepoRegex extracts the repository name
	// from `git remote -v` output (first capture group); BaseURL and
	// CommitURL are templates over {repo} and {hash}.
	GitRepoRegex string `yaml:"git_repo_regex"`
	GitBaseURL   string `yaml:"git_base_url"`
	GitCommitURL string `yaml:"git_commit_url"`
}

// envVarPattern matches ${VAR_NAME} placeholders.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)}`)

// Load reads and parses a configuration file, expanding environment
// variable references in string values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	var cfg Config
	if unmarshalErr := yaml.Unmarshal(data, &cfg); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", unmarshalErr)
	}

	cfg.Server = expandEnv(cfg.Server)
	cfg.Email = expandEnv(cfg.Email)
	cfg.DefaultCC = expandEnv(cfg.DefaultCC)

	if validateErr := validate(&cfg); validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// FindConfigFile searches for a configuration file in standard locations.
// Returns the path to the first file found or an error if none is found.
func FindConfigFile() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}

	locations := []string{
		".",
		".config",
	}
	if homeDir != "" {
		locations = append(
			locations,
			homeDir,
			filepath.Join(homeDir, ".config"),
		)
	}

	patterns := []string{
		".cr.yaml",
		".cr.yml",
		"cr.yaml",
		"cr.yml",
	}

	for _, loc := range locations {
		for _, pat := range patterns {
			p := filepath.Join(loc, pat)
			if _, statErr := os.Stat(p); statErr == nil {
				return p, nil
			}
		}
	}

	return "", errors.New("config file not found in default locations")
}

// expandEnv replaces ${VAR} references with environment values, warning on
// unset variables.
func expandEnv(raw string) string {
	if raw == "" {
		return raw
	}
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		logger.Warnf("Environment variable %q is not set", varName)
		return ""
	})
}

// validate checks for required configuration values.
func validate(cfg *Config) error {
	if cfg.Server == "" {
		return errors.New("server is required (the review service host)")
	}
	if strings.Contains(cfg.Server, "://") {
		return fmt.Errorf("server must be a bare host, not a URL: %q", cfg.Server)
	}
	for lang, cols := range cfg.MaxCols {
		if cols <= 0 {
			return fmt.Errorf("max_cols[%s] must be positive, got %d", lang, cols)
		}
	}
	return nil
}
