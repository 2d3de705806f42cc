package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectConfigFile is the per-repository config file name.
	ProjectConfigFile = "reviewd.yaml"
	// UserConfigDir holds the user-level config, relative to the home dir.
	UserConfigDir = ".config/reviewd"
	// UserConfigFile is the user-level config file name.
	UserConfigFile = "config.yaml"
)

// Environment overrides. They form the highest-precedence layer so a single
// run can be redirected without touching any file.
const (
	// EnvConfigPath points at an explicit project config and skips the
	// directory walk.
	EnvConfigPath = "REVIEWD_CONFIG"
	// EnvNATSURL overrides nats.url.
	EnvNATSURL = "REVIEWD_NATS_URL"
	// EnvRepoPath overrides repo.path.
	EnvRepoPath = "REVIEWD_REPO_PATH"
	// EnvCIProvider overrides queue.ci_provider.
	EnvCIProvider = "REVIEWD_CI_PROVIDER"
	// EnvSpecialists overrides review.specialists (comma-separated).
	EnvSpecialists = "REVIEWD_SPECIALISTS"
)

// Loader assembles the effective config from layered sources. Precedence,
// lowest to highest: defaults, user config, project config, environment.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load builds the effective configuration and validates it.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.mergeFile(cfg, l.userConfigPath(), "user")
	l.mergeFile(cfg, l.FindProjectConfig(), "project")
	l.applyEnv(cfg)

	if cfg.Repo.Path == "" {
		cfg.Repo.Path = l.detectRepoRoot()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile layers one config file over cfg. Only keys present in the file
// flow through, so a layer never resets values an earlier layer set. A
// missing file is not an error; an unreadable or unparsable one is logged
// and skipped.
func (l *Loader) mergeFile(cfg *Config, path, layer string) {
	if path == "" {
		return
	}

	overlay, err := parseOverlay(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Skipping unreadable config layer",
				slog.String("layer", layer),
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return
	}

	cfg.Merge(overlay)
	l.logger.Debug("Applied config layer",
		slog.String("layer", layer),
		slog.String("path", path))
}

// parseOverlay reads a config file into a zero-valued Config, leaving unset
// keys at their zero values for Merge to ignore.
func parseOverlay(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	overlay := &Config{}
	if err := yaml.Unmarshal(data, overlay); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return overlay, nil
}

// applyEnv folds REVIEWD_* variables in as the final layer.
func (l *Loader) applyEnv(cfg *Config) {
	overlay := &Config{}
	applied := false

	if v := os.Getenv(EnvNATSURL); v != "" {
		overlay.NATS.URL = v
		applied = true
	}
	if v := os.Getenv(EnvRepoPath); v != "" {
		overlay.Repo.Path = v
		applied = true
	}
	if v := os.Getenv(EnvCIProvider); v != "" {
		overlay.Queue.CIProvider = v
		applied = true
	}
	if v := os.Getenv(EnvSpecialists); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				overlay.Review.Specialists = append(overlay.Review.Specialists, s)
			}
		}
		applied = true
	}

	if applied {
		cfg.Merge(overlay)
		l.logger.Debug("Applied environment overrides")
	}
}

// EnsureUserConfig writes a default user config file if none exists.
func (l *Loader) EnsureUserConfig() error {
	path := l.userConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine user config path")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := DefaultConfig().SaveToFile(path); err != nil {
		return err
	}
	l.logger.Info("Created default user config", slog.String("path", path))
	return nil
}

func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// FindProjectConfig locates the project config: the REVIEWD_CONFIG override
// if set, otherwise the first reviewd.yaml walking up from the current
// directory. Returns "" when there is none.
func (l *Loader) FindProjectConfig() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}

	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// detectRepoRoot resolves the repo path when no layer set one: the git
// toplevel if inside a repository, else the current directory.
func (l *Loader) detectRepoRoot() string {
	if out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output(); err == nil {
		root := strings.TrimSpace(string(out))
		l.logger.Debug("Auto-detected git root", slog.String("path", root))
		return root
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	l.logger.Debug("Using current directory as repo root", slog.String("path", cwd))
	return cwd
}
