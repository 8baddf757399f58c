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
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/NissesSenap/osa-web/pkg/osaweb"
)

// CLI is the root command.
type CLI struct {
	LogLevel string `help:"Log level" default:"info" enum:"debug,info,warn,error" env:"OSA_WEB_LOG_LEVEL"`
	LogDev   bool   `help:"Human readable console logs" env:"OSA_WEB_LOG_DEV"`
	Config   string `help:"YAML configuration file" type:"existingfile" env:"OSA_WEB_CONFIG"`

	Serve ServeCmd `cmd:"" default:"withargs" help:"Serve the web front end"`
	Run   RunCmd   `cmd:"" help:"Run osa-tool once and print its output"`
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("osa-web"),
		kong.Description("Web front end and runner for osa-tool."),
		kong.UsageOnError(),
		kong.BindTo(os.Stdout, (*io.Writer)(nil)),
	)
	err := ctx.Run(&cli)
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintf(os.Stderr, "osa-web: %v\n", err)
		}
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func (c *CLI) logger() (logr.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return logr.Discard(), fmt.Errorf("parsing log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.LogDev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	z, err := zc.Build()
	if err != nil {
		return logr.Discard(), fmt.Errorf("building logger: %w", err)
	}
	return zapr.NewLogger(z), nil
}

// config returns the defaults overlaid with the configuration file, if any.
func (c *CLI) config() (osaweb.Config, error) {
	cfg := osaweb.DefaultConfig()
	if c.Config == "" {
		return cfg, nil
	}
	return osaweb.LoadFile(c.Config, cfg)
}

// ToolFlags are the osa-tool settings shared by serve and run. Unset flags
// keep the value from the configuration file.
type ToolFlags struct {
	Program     string        `help:"osa-tool executable" env:"OSA_WEB_PROGRAM"`
	Columns     int           `help:"Terminal width exported to osa-tool" env:"OSA_WEB_COLUMNS"`
	IdleTimeout time.Duration `help:"Stop a run that prints nothing for this long" env:"OSA_WEB_IDLE_TIMEOUT"`
	EnvFile     []string      `help:"Dotenv files searched for GIT_TOKEN" env:"OSA_WEB_ENV_FILE"`
}

func (f *ToolFlags) apply(cfg *osaweb.Config) {
	if f.Program != "" {
		cfg.Program = f.Program
	}
	if f.Columns != 0 {
		cfg.Columns = f.Columns
	}
	if f.IdleTimeout != 0 {
		cfg.IdleTimeout = f.IdleTimeout
	}
	if len(f.EnvFile) > 0 {
		cfg.EnvFiles = f.EnvFile
	}
}
