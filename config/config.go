// Package config loads the configuration of mtenv from mtenv.yaml and
// MTENV_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/mumoshu/mtenv/compat"
	"github.com/mumoshu/mtenv/envvar"
	"github.com/mumoshu/mtenv/source"
)

const (
	ConfigFileName = "mtenv.yaml"

	DefaultWorkingDir          = "./testbed"
	DefaultBaseURL             = "http://localhost"
	DefaultSourceURL           = "https://github.com/moodle/moodle/archive/refs/tags/"
	DefaultArchivePrefix       = "moodle"
	DefaultRetries             = 3
	DefaultRetryTimeout        = 5 * time.Second
	DefaultMoodleDockerRepoURL = "https://github.com/moodlehq/moodle-docker.git"
	DefaultMoodleDockerRef     = "main"
)

type Config struct {
	WorkingDir string `yaml:"workingDir"`
	Proxied    bool   `yaml:"proxied"`
	BaseURL    string `yaml:"baseURL"`

	Proxy  Proxy  `yaml:"proxy"`
	Moodle Moodle `yaml:"moodle"`
	Git    Git    `yaml:"git"`

	// PHPCompatibility replaces the built-in compatibility table as a whole.
	PHPCompatibility compat.Table `yaml:"phpCompatibility,omitempty"`
}

type Proxy struct {
	// ConfigDir is where nginx configs are written. Defaults to <workingDir>/nginx.
	ConfigDir string `yaml:"configDir,omitempty"`
	CertFile  string `yaml:"certFile,omitempty"`
	KeyFile   string `yaml:"keyFile,omitempty"`
}

type Moodle struct {
	// SourceURL is the base URL of the release archives.
	SourceURL string `yaml:"sourceURL"`
	// ArchivePrefix is the prefix of the top-level directory of the archives.
	ArchivePrefix string        `yaml:"archivePrefix"`
	Retries       int           `yaml:"retries"`
	RetryTimeout  time.Duration `yaml:"retryTimeout"`
}

type Git struct {
	MoodleDockerRepoURL string `yaml:"moodleDockerRepoURL"`
	MoodleDockerRef     string `yaml:"moodleDockerRef"`
	// Plugins maps plugin identifiers to their remote URLs.
	Plugins map[string]string `yaml:"plugins,omitempty"`
}

// Default returns the configuration used when there is no config file.
func Default() Config {
	return Config{
		WorkingDir: DefaultWorkingDir,
		BaseURL:    DefaultBaseURL,
		Moodle: Moodle{
			SourceURL:     DefaultSourceURL,
			ArchivePrefix: DefaultArchivePrefix,
			Retries:       DefaultRetries,
			RetryTimeout:  DefaultRetryTimeout,
		},
		Git: Git{
			MoodleDockerRepoURL: DefaultMoodleDockerRepoURL,
			MoodleDockerRef:     DefaultMoodleDockerRef,
		},
	}
}

// Load reads the config file at path on top of the defaults and applies the
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("unable to open config file %s: %w", path, err)
	}

	if err == nil {
		defer f.Close()

		if err := Decode(f, &cfg); err != nil {
			return nil, fmt.Errorf("unable to load %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if len(cfg.PHPCompatibility) == 0 {
		cfg.PHPCompatibility = compat.DefaultTable()
	}

	return &cfg, nil
}

// Decode strictly decodes yaml from r into cfg. Unknown keys are errors.
func Decode(r io.Reader, cfg *Config) error {
	d := yaml.NewDecoder(r)
	d.SetStrict(true)
	if err := d.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("unable to decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings with the MTENV_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(envvar.WorkingDir); ok && v != "" {
		c.WorkingDir = v
	}

	if v, ok := lookup(envvar.Proxied); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", envvar.Proxied, v, err)
		}
		c.Proxied = b
	}

	if v, ok := lookup(envvar.BaseURL); ok && v != "" {
		c.BaseURL = v
	}

	return nil
}

// Validate reports settings mtenv cannot run with.
func (c *Config) Validate() error {
	if c.WorkingDir == "" {
		return errors.New("workingDir must not be empty")
	}

	if c.Moodle.SourceURL == "" {
		return errors.New("moodle.sourceURL must not be empty")
	}

	if c.Moodle.Retries <= 0 {
		return fmt.Errorf("moodle.retries must be positive, got %d", c.Moodle.Retries)
	}

	if c.Moodle.RetryTimeout <= 0 {
		return fmt.Errorf("moodle.retryTimeout must be positive, got %s", c.Moodle.RetryTimeout)
	}

	if c.Git.MoodleDockerRepoURL == "" {
		return errors.New("git.moodleDockerRepoURL must not be empty")
	}

	if c.Proxied {
		if c.BaseURL == "" {
			return errors.New("baseURL is required in proxied mode")
		}
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("baseURL %q must be an absolute URL", c.BaseURL)
		}
	}

	if (c.Proxy.CertFile == "") != (c.Proxy.KeyFile == "") {
		return errors.New("proxy.certFile and proxy.keyFile must be set together")
	}

	if err := c.PHPCompatibility.Validate(); err != nil {
		return fmt.Errorf("phpCompatibility: %w", err)
	}

	return nil
}

// PluginRegistry returns the configured plugin remotes.
func (c *Config) PluginRegistry() source.Registry {
	return source.Registry(c.Git.Plugins)
}

// MoodleDockerRef is the reference the scaffold is cloned at.
func (c *Config) MoodleDockerRef() source.Reference {
	return source.Reference{Kind: source.KindBranch, Value: c.Git.MoodleDockerRef}
}
