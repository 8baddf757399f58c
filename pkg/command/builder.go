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

package command

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultProgram is the invocation name of the analysis tool.
	DefaultProgram = "osa-tool"
	// DefaultColumns pins the child's terminal width so output is not wrapped.
	DefaultColumns = 200

	// TokenEnvVar carries the Git token to the child process.
	TokenEnvVar = "GIT_TOKEN"
)

// Flags understood by osa-tool.
const (
	FlagRepository    = "-r"
	FlagMode          = "-m"
	FlagOutput        = "-o"
	FlagWebMode       = "--web-mode"
	FlagDeleteDir     = "--delete-dir"
	FlagArticle       = "--article"
	FlagBranch        = "--branch"
	FlagNoFork        = "--no-fork"
	FlagNoPullRequest = "--no-pull-request"
)

// InvocationSpec is the fully resolved launch description for one run.
type InvocationSpec struct {
	Program string
	Args    []string
	Env     map[string]string
}

// Environ renders Env as KEY=VALUE pairs sorted by key.
func (s InvocationSpec) Environ() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// CommandLine renders the program and arguments as a single audit line.
// Arguments containing whitespace are quoted.
func (s InvocationSpec) CommandLine() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Program)
	for _, a := range s.Args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Builder maps a RunConfiguration to an InvocationSpec.
type Builder struct {
	program string
	columns int
	environ func() []string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithProgram overrides the executable name.
func WithProgram(program string) BuilderOption {
	return func(b *Builder) { b.program = program }
}

// WithColumns overrides the terminal width given to the child.
func WithColumns(columns int) BuilderOption {
	return func(b *Builder) { b.columns = columns }
}

// WithEnviron sets the source of the parent environment (useful for testing).
func WithEnviron(environ func() []string) BuilderOption {
	return func(b *Builder) { b.environ = environ }
}

// NewBuilder creates a Builder for osa-tool.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		program: DefaultProgram,
		columns: DefaultColumns,
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Program returns the executable the builder targets.
func (b *Builder) Program() string {
	return b.program
}

// Build produces the invocation for cfg. It performs no I/O beyond reading
// the parent environment through the configured source.
//
// The delete-dir flag is always emitted: there is no interactive mode in a
// web deployment, so DeleteDirAfter does not change the argument list.
func (b *Builder) Build(cfg RunConfiguration) InvocationSpec {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeBasic
	}

	args := []string{
		FlagRepository, cfg.RepositoryURL,
		FlagMode, string(mode),
		FlagOutput, cfg.OutputDirectory,
		FlagWebMode,
		FlagDeleteDir,
	}
	if cfg.Attachment != nil {
		args = append(args, FlagArticle, cfg.Attachment.Location)
	}
	if cfg.Branch != "" {
		args = append(args, FlagBranch, cfg.Branch)
	}
	if cfg.NoFork {
		args = append(args, FlagNoFork)
	}
	if cfg.NoPullRequest {
		args = append(args, FlagNoPullRequest)
	}

	return InvocationSpec{
		Program: b.program,
		Args:    args,
		Env:     b.env(cfg.AuthToken),
	}
}

func (b *Builder) env(token string) map[string]string {
	env := make(map[string]string)
	for _, kv := range b.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	if token != "" {
		env[TokenEnvVar] = token
	}
	env["COLUMNS"] = strconv.Itoa(b.columns)
	env["TERM"] = "xterm-256color"
	env["PYTHONUNBUFFERED"] = "1"
	return env
}
