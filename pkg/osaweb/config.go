/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package osaweb

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NissesSenap/osa-web/pkg/command"
)

// Config holds all configuration for osa-web.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listenAddr"`

	// Program is the osa-tool executable name or path.
	Program string `yaml:"program"`
	// Columns is exported as COLUMNS to the child.
	Columns int `yaml:"columns"`
	// IdleTimeout terminates a run that prints nothing for this long. Zero disables it.
	IdleTimeout time.Duration `yaml:"idleTimeout"`

	// WorkDir holds run outputs and attachments. Empty uses a temp directory
	// removed on exit.
	WorkDir           string        `yaml:"workDir"`
	MaxAttachmentSize int64         `yaml:"maxAttachmentSize"`
	RetainFor         time.Duration `yaml:"retainFor"`
	PruneInterval     time.Duration `yaml:"pruneInterval"`

	// EnvFiles are dotenv files searched for GIT_TOKEN.
	EnvFiles     []string `yaml:"envFiles"`
	GitHubAPIURL string   `yaml:"githubApiUrl"`

	LaunchRateLimit int           `yaml:"launchRateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8080",
		Program:           command.DefaultProgram,
		Columns:           command.DefaultColumns,
		IdleTimeout:       30 * time.Minute,
		MaxAttachmentSize: 32 << 20,
		RetainFor:         24 * time.Hour,
		PruneInterval:     time.Hour,
		EnvFiles:          []string{".env"},
		GitHubAPIURL:      "https://api.github.com",
		LaunchRateLimit:   10,
		ShutdownTimeout:   15 * time.Second,
	}
}

// LoadFile reads a YAML configuration file on top of base. Keys missing
// from the file keep their value from base.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listenAddr is required"))
	}
	if c.Program == "" {
		errs = append(errs, errors.New("program is required"))
	}
	if c.Columns <= 0 {
		errs = append(errs, errors.New("columns must be positive"))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, errors.New("idleTimeout must not be negative"))
	}
	if c.MaxAttachmentSize <= 0 {
		errs = append(errs, errors.New("maxAttachmentSize must be positive"))
	}
	if c.RetainFor < 0 || c.PruneInterval < 0 {
		errs = append(errs, errors.New("retainFor and pruneInterval must not be negative"))
	}
	if c.LaunchRateLimit < 0 {
		errs = append(errs, errors.New("launchRateLimit must not be negative"))
	}
	return errors.Join(errs...)
}
