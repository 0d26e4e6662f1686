// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the build agent.
//
// Configuration is loaded from a single file specified by:
//   - BUREAU_AGENT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The file may contain
// environment-specific sections (development, staging, production)
// that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/buildagent/lib/storage"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "BUREAU_AGENT_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the build agent configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths       PathsConfig       `yaml:"paths"`
	Storage     StorageConfig     `yaml:"storage"`
	TempStorage TempStorageConfig `yaml:"temp_storage"`
	Compute     ComputeConfig     `yaml:"compute"`
	Uploads     UploadsConfig     `yaml:"uploads"`
	Jobs        JobsConfig        `yaml:"jobs"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment. Empty values leave the base value alone.
type ConfigOverrides struct {
	Paths       *PathsConfig       `yaml:"paths,omitempty"`
	Storage     *StorageConfig     `yaml:"storage,omitempty"`
	TempStorage *TempStorageConfig `yaml:"temp_storage,omitempty"`
	Compute     *ComputeConfig     `yaml:"compute,omitempty"`
	Uploads     *UploadsConfig     `yaml:"uploads,omitempty"`
	Jobs        *JobsConfig        `yaml:"jobs,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for agent data.
	Root string `yaml:"root"`

	// Workspace is where job steps run and temp storage is synced.
	Workspace string `yaml:"workspace"`

	// Manifests holds local copies of temp storage manifests, one
	// subdirectory per job.
	Manifests string `yaml:"manifests"`

	// Sandboxes is where compute tasks get their sandbox directories.
	Sandboxes string `yaml:"sandboxes"`
}

// StorageConfig locates the blob store.
type StorageConfig struct {
	// SocketPath is the blob service socket.
	// Default: /run/bureau/blob.sock
	SocketPath string `yaml:"socket_path"`

	// Namespace scopes every blob and ref the agent touches.
	Namespace string `yaml:"namespace"`

	// CacheSizeMB bounds the in-process blob read cache. Zero disables it.
	CacheSizeMB int `yaml:"cache_size_mb"`
}

// TempStorageConfig configures intermediate output exchange.
type TempStorageConfig struct {
	Bucket string `yaml:"bucket"`

	// ClobberExemptions are base-name glob patterns of inputs a step
	// may rewrite without failing.
	// Default: *.modules, *.target, *.version
	ClobberExemptions []string `yaml:"clobber_exemptions"`

	// Compress stores block files compressed when that pays off.
	// Default: false (development), true (production)
	Compress bool `yaml:"compress"`
}

// ComputeConfig configures the task runner.
type ComputeConfig struct {
	Bucket string `yaml:"bucket"`

	// TaskTimeout bounds each task unless the task asks for less.
	// Default: 10m
	TaskTimeout string `yaml:"task_timeout"`
}

// UploadsConfig configures incidental step artifact uploads.
type UploadsConfig struct {
	Bucket string `yaml:"bucket"`

	// MaxConcurrency caps concurrent file uploads.
	// Default: 5
	MaxConcurrency int `yaml:"max_concurrency"`
}

// JobsConfig locates the job service.
type JobsConfig struct {
	// SocketPath is the job service socket. Empty disables artifact
	// registration.
	SocketPath string `yaml:"socket_path"`
}

// Default returns the base configuration the config file is merged
// into. The config file itself is still required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "bureau-agent")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      defaultRoot,
			Workspace: filepath.Join(defaultRoot, "workspace"),
			Manifests: filepath.Join(defaultRoot, "manifests"),
			Sandboxes: filepath.Join(defaultRoot, "sandboxes"),
		},
		Storage: StorageConfig{
			SocketPath: "/run/bureau/blob.sock",
			Namespace:  "default",
		},
		TempStorage: TempStorageConfig{
			Bucket:            "temp",
			ClobberExemptions: []string{"*.modules", "*.target", "*.version"},
		},
		Compute: ComputeConfig{
			Bucket:      "compute",
			TaskTimeout: "10m",
		},
		Uploads: UploadsConfig{
			Bucket:         "artifacts",
			MaxConcurrency: 5,
		},
	}
}

// Load loads configuration from the file named by
// BUREAU_AGENT_CONFIG. There is no fallback when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your agent config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the overrides for
// the configured environment, and expands ${VAR} references in paths.
// Environment variables never override values from the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				TempStorage: &TempStorageConfig{Compress: true},
			}
		}
	}

	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		setIfPresent(&c.Paths.Root, paths.Root)
		setIfPresent(&c.Paths.Workspace, paths.Workspace)
		setIfPresent(&c.Paths.Manifests, paths.Manifests)
		setIfPresent(&c.Paths.Sandboxes, paths.Sandboxes)
	}
	if store := overrides.Storage; store != nil {
		setIfPresent(&c.Storage.SocketPath, store.SocketPath)
		setIfPresent(&c.Storage.Namespace, store.Namespace)
		if store.CacheSizeMB != 0 {
			c.Storage.CacheSizeMB = store.CacheSizeMB
		}
	}
	if temp := overrides.TempStorage; temp != nil {
		setIfPresent(&c.TempStorage.Bucket, temp.Bucket)
		if temp.ClobberExemptions != nil {
			c.TempStorage.ClobberExemptions = temp.ClobberExemptions
		}
		// A bool cannot be "absent", so an override section always
		// sets it.
		c.TempStorage.Compress = temp.Compress
	}
	if compute := overrides.Compute; compute != nil {
		setIfPresent(&c.Compute.Bucket, compute.Bucket)
		setIfPresent(&c.Compute.TaskTimeout, compute.TaskTimeout)
	}
	if uploads := overrides.Uploads; uploads != nil {
		setIfPresent(&c.Uploads.Bucket, uploads.Bucket)
		if uploads.MaxConcurrency != 0 {
			c.Uploads.MaxConcurrency = uploads.MaxConcurrency
		}
	}
	if jobs := overrides.Jobs; jobs != nil {
		setIfPresent(&c.Jobs.SocketPath, jobs.SocketPath)
	}
}

func setIfPresent(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths. ${BUREAU_AGENT_ROOT} refers to paths.root.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"BUREAU_AGENT_ROOT": c.Paths.Root,
		"HOME":              os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["BUREAU_AGENT_ROOT"] = c.Paths.Root

	c.Paths.Workspace = expandVars(c.Paths.Workspace, vars)
	c.Paths.Manifests = expandVars(c.Paths.Manifests, vars)
	c.Paths.Sandboxes = expandVars(c.Paths.Sandboxes, vars)
	c.Storage.SocketPath = expandVars(c.Storage.SocketPath, vars)
	c.Jobs.SocketPath = expandVars(c.Jobs.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// TaskTimeout returns compute.task_timeout as a duration.
func (c *Config) TaskTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.Compute.TaskTimeout)
	if err != nil {
		return 0, fmt.Errorf("compute.task_timeout: %w", err)
	}
	return timeout, nil
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Paths.Workspace == "" {
		errs = append(errs, errors.New("paths.workspace is required"))
	}
	if c.Storage.SocketPath == "" {
		errs = append(errs, errors.New("storage.socket_path is required"))
	}
	if err := storage.Namespace(c.Storage.Namespace).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage.namespace: %w", err))
	}
	for field, bucket := range map[string]string{
		"temp_storage.bucket": c.TempStorage.Bucket,
		"compute.bucket":      c.Compute.Bucket,
		"uploads.bucket":      c.Uploads.Bucket,
	} {
		if err := storage.Bucket(bucket).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	for _, pattern := range c.TempStorage.ClobberExemptions {
		if _, err := filepath.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("temp_storage.clobber_exemptions: invalid pattern %q", pattern))
		}
	}
	if timeout, err := c.TaskTimeout(); err != nil {
		errs = append(errs, err)
	} else if timeout <= 0 {
		errs = append(errs, errors.New("compute.task_timeout must be positive"))
	}
	if c.Storage.CacheSizeMB < 0 {
		errs = append(errs, errors.New("storage.cache_size_mb must not be negative"))
	}
	if c.Uploads.MaxConcurrency < 1 {
		errs = append(errs, errors.New("uploads.max_concurrency must be at least 1"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Workspace, c.Paths.Manifests, c.Paths.Sandboxes} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
