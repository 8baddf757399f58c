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
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/NissesSenap/osa-web/pkg/command"
	"github.com/NissesSenap/osa-web/pkg/github"
	"github.com/NissesSenap/osa-web/pkg/runner"
)

// exitUsage is returned for configurations rejected before launch.
const exitUsage = 2

// RunCmd performs a single run in the terminal.
type RunCmd struct {
	ToolFlags `embed:""`

	Repository    string `arg:"" help:"Repository URL"`
	Mode          string `short:"m" help:"Operation mode" default:"basic" enum:"basic,auto,advanced"`
	Output        string `short:"o" help:"Output directory (default: new temporary directory)" type:"path"`
	Branch        string `short:"b" help:"Branch to analyse"`
	ArticleURL    string `help:"Article attachment URL" xor:"article"`
	ArticleFile   string `help:"Article attachment file" type:"existingfile" xor:"article"`
	NoFork        bool   `help:"Do not fork the repository"`
	NoPullRequest bool   `help:"Do not open a pull request"`
}

func (c *RunCmd) Run(cli *CLI, out io.Writer) error {
	log, err := cli.logger()
	if err != nil {
		return err
	}
	cfg, err := cli.config()
	if err != nil {
		return err
	}
	c.apply(&cfg)

	mode, err := command.ParseMode(c.Mode)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	token, err := github.LoadToken(log.WithName("github"), cfg.EnvFiles...)
	if err != nil {
		return err
	}
	rc := command.RunConfiguration{
		RepositoryURL: c.Repository,
		Mode:          mode,
		Branch:        c.Branch,
		NoFork:        c.NoFork,
		NoPullRequest: c.NoPullRequest,
		AuthToken:     token,
	}
	switch {
	case c.ArticleURL != "":
		rc.Attachment = &command.Attachment{Kind: command.AttachmentURL, Location: c.ArticleURL}
	case c.ArticleFile != "":
		rc.Attachment = &command.Attachment{Kind: command.AttachmentFile, Location: c.ArticleFile}
	}
	if err := rc.Validate(); err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	rc.OutputDirectory = c.Output
	if rc.OutputDirectory == "" {
		dir, err := os.MkdirTemp("", "osa-web-run-")
		if err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		rc.OutputDirectory = dir
	} else if err := os.MkdirAll(rc.OutputDirectory, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p := &transcriptPrinter{out: out}
	coord := runner.NewCoordinator(
		runner.WithLogger(log.WithName("runner")),
		runner.WithIdleTimeout(cfg.IdleTimeout),
		runner.WithPublisher(p.publish),
	)
	spec := command.NewBuilder(
		command.WithProgram(cfg.Program),
		command.WithColumns(cfg.Columns),
	).Build(rc)

	state := runner.NewRunState(uuid.NewString())
	runErr := coord.Run(ctx, state, spec)
	snap := state.Snapshot()

	fmt.Fprintln(out)
	fmt.Fprintln(out, snap.OutcomeMessage)
	if snap.ReportPath != "" {
		fmt.Fprintf(out, "Report: %s\n", snap.ReportPath)
	}
	if snap.AboutSection != "" {
		fmt.Fprintf(out, "\n%s\n", snap.AboutSection)
	}
	return runResult(snap, runErr)
}

// runResult maps a finished run to the command's exit status. The child's
// own exit code is passed through when it is known.
func runResult(snap runner.RunState, runErr error) error {
	if runErr != nil {
		return runErr
	}
	if snap.Phase == runner.PhaseSucceeded {
		return nil
	}
	code := 1
	if snap.ExitCode != nil && *snap.ExitCode > 0 {
		code = *snap.ExitCode
	}
	return &exitError{code: code, err: phaseError(snap.Phase)}
}

func phaseError(p runner.Phase) error {
	switch p {
	case runner.PhaseCancelled:
		return errors.New("run cancelled")
	case runner.PhaseTimedOut:
		return errors.New("run timed out")
	}
	return nil
}

// transcriptPrinter writes transcript lines as they are published.
type transcriptPrinter struct {
	out     io.Writer
	printed int
}

func (p *transcriptPrinter) publish(s runner.RunState) {
	for _, line := range s.Transcript[p.printed:] {
		fmt.Fprintln(p.out, line)
	}
	p.printed = len(s.Transcript)
}
