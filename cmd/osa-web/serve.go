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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NissesSenap/osa-web/pkg/osaweb"
)

// ServeCmd runs the HTTP service.
type ServeCmd struct {
	ToolFlags `embed:""`

	ListenAddr      string `help:"HTTP listen address" env:"OSA_WEB_LISTEN_ADDR"`
	WorkDir         string `help:"Directory for run outputs and attachments (default: temporary)" type:"path" env:"OSA_WEB_WORK_DIR"`
	GithubAPIURL    string `help:"GitHub API URL" env:"OSA_WEB_GITHUB_API_URL"`
	LaunchRateLimit int    `help:"Launches allowed per client per minute" env:"OSA_WEB_LAUNCH_RATE_LIMIT"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	log, err := cli.logger()
	if err != nil {
		return err
	}
	cfg, err := cli.config()
	if err != nil {
		return err
	}
	c.apply(&cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := osaweb.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create osa-web: %w", err)
	}
	log.Info("osa-web starting", "listenAddr", cfg.ListenAddr, "program", cfg.Program)
	return w.Run(ctx)
}

func (c *ServeCmd) apply(cfg *osaweb.Config) {
	c.ToolFlags.apply(cfg)
	if c.ListenAddr != "" {
		cfg.ListenAddr = c.ListenAddr
	}
	if c.WorkDir != "" {
		cfg.WorkDir = c.WorkDir
	}
	if c.GithubAPIURL != "" {
		cfg.GitHubAPIURL = c.GithubAPIURL
	}
	if c.LaunchRateLimit != 0 {
		cfg.LaunchRateLimit = c.LaunchRateLimit
	}
}
