// Package config loads and validates the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// ForgeConfig is the configuration for a single git forge.
type ForgeConfig struct {
	Name      string   `yaml:"-"`
	Token     string   `yaml:"token"`
	Endpoint  string   `yaml:"endpoint"`
	Usernames []string `yaml:"usernames"`
	Repos     []string `yaml:"repos"`
}

// Config is the main configuration object.
type Config struct {
	Year   int           `yaml:"year"`
	Output string        `yaml:"output"`
	Forges []ForgeConfig `yaml:"-"`
}

// rawConfig mirrors the file shape: forges is a map keyed by forge name.
type rawConfig struct {
	Year   int                    `yaml:"year"`
	Output string                 `yaml:"output"`
	Forges map[string]ForgeConfig `yaml:"forges"`
}

var envToken = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${NAME} tokens with process environment values. Tokens
// whose variable is unset stay verbatim, so a missing secret shows up as a
// literal placeholder instead of an empty string.
func expandEnv(value string) string {
	return envToken.ReplaceAllStringFunc(value, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// Load reads, expands, and validates the configuration file. Any validation
// failure is fatal for the run: the rest of the program is only constructible
// from a valid configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	cfg := &Config{
		Year:   raw.Year,
		Output: expandEnv(raw.Output),
	}

	// Deterministic forge order despite the map-shaped file.
	names := make([]string, 0, len(raw.Forges))
	for name := range raw.Forges {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fc := raw.Forges[name]
		fc.Name = name
		fc.Token = expandEnv(fc.Token)
		fc.Endpoint = expandEnv(fc.Endpoint)
		for i, u := range fc.Usernames {
			fc.Usernames[i] = expandEnv(u)
		}
		for i, r := range fc.Repos {
			fc.Repos[i] = expandEnv(r)
		}
		cfg.Forges = append(cfg.Forges, fc)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Year == 0 {
		return fmt.Errorf("configuration must specify a year")
	}
	if c.Year < 2000 || c.Year > 9999 {
		return fmt.Errorf("invalid year: %d", c.Year)
	}
	if len(c.Forges) == 0 {
		return fmt.Errorf("configuration must specify at least one forge")
	}
	for _, fc := range c.Forges {
		if len(fc.Usernames) == 0 {
			return fmt.Errorf("forge %s must specify at least one username", fc.Name)
		}
		if len(fc.Repos) == 0 {
			return fmt.Errorf("forge %s must specify at least one repository", fc.Name)
		}
	}
	return nil
}
