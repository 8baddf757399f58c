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

package runner

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NissesSenap/osa-web/pkg/command"
)

type staticDirs struct {
	root string
	err  error
}

func (d staticDirs) OutputDir(runID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return filepath.Join(d.root, runID), nil
}

func sequentialIDs(ids ...string) func() string {
	return func() string {
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	}
}

func validConfig() command.RunConfiguration {
	return command.RunConfiguration{
		RepositoryURL: "https://github.com/aimclub/OSA",
		Mode:          command.ModeBasic,
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestSessionLaunchRunsToCompletion(t *testing.T) {
	l := &mockLauncher{procs: []Process{outputProcess("hello\n", 0)}}
	rec := &recorder{}
	s := NewSession(command.NewBuilder(),
		WithCoordinatorOptions(WithLauncher(l)),
		WithSessionPublisher(rec.publish),
		WithOutputDirs(staticDirs{root: "/tmp/osa"}),
		WithIDGenerator(sequentialIDs("run-a")),
	)

	id, err := s.Launch(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Equal(t, "run-a", id)
	waitDone(t, s)

	snap, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "run-a", snap.ID)
	assert.Equal(t, PhaseSucceeded, snap.Phase)
	assert.Equal(t, "hello", snap.LastLine())
	assert.Equal(t, filepath.Join("/tmp/osa", "run-a"), snap.OutputDirectory)
	assert.False(t, s.InFlight())

	require.Len(t, l.specs, 1)
	assert.Contains(t, l.specs[0].Args, filepath.Join("/tmp/osa", "run-a"))
	snaps := rec.all()
	require.NotEmpty(t, snaps)
	assert.Equal(t, PhasePending, snaps[0].Phase, "pending state is published at launch")
	assert.Equal(t, "run-a", snaps[0].ID)
	assert.Equal(t, PhaseSucceeded, snaps[len(snaps)-1].Phase)
}

func TestSessionRejectsConcurrentLaunch(t *testing.T) {
	proc, pw := blockingProcess()
	defer func() { _ = pw.Close() }()

	l := &mockLauncher{procs: []Process{proc}}
	s := NewSession(command.NewBuilder(),
		WithCoordinatorOptions(WithLauncher(l)),
		WithOutputDirs(staticDirs{root: t.TempDir()}),
		WithIDGenerator(sequentialIDs("run-a", "run-b")),
	)

	_, err := s.Launch(context.Background(), validConfig())
	require.NoError(t, err)
	assert.True(t, s.InFlight())

	_, err = s.Launch(context.Background(), validConfig())
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, s.Cancel("run-a"))
	waitDone(t, s)

	snap, _ := s.Snapshot()
	assert.Equal(t, PhaseCancelled, snap.Phase)
}

func TestSessionRunOutlivesRequestContext(t *testing.T) {
	l := &mockLauncher{procs: []Process{outputProcess("ok\n", 0)}}
	s := NewSession(command.NewBuilder(),
		WithCoordinatorOptions(WithLauncher(l)),
		WithOutputDirs(staticDirs{root: t.TempDir()}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Launch(ctx, validConfig())
	cancel()
	require.NoError(t, err)
	waitDone(t, s)

	snap, _ := s.Snapshot()
	assert.Equal(t, PhaseSucceeded, snap.Phase)
}

func TestSessionLaunchValidation(t *testing.T) {
	s := NewSession(command.NewBuilder(), WithOutputDirs(staticDirs{root: t.TempDir()}))

	_, err := s.Launch(context.Background(), command.RunConfiguration{RepositoryURL: "  "})
	var cfgErr *command.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "repositoryUrl", cfgErr.Field)
	assert.False(t, s.InFlight())

	_, ok := s.Snapshot()
	assert.False(t, ok)
}

func TestSessionRequiresOutputDirectory(t *testing.T) {
	s := NewSession(command.NewBuilder())

	_, err := s.Launch(context.Background(), validConfig())
	var cfgErr *command.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "outputDirectory", cfgErr.Field)
}

func TestSessionExplicitOutputDirectory(t *testing.T) {
	l := &mockLauncher{procs: []Process{outputProcess("", 0)}}
	s := NewSession(command.NewBuilder(), WithCoordinatorOptions(WithLauncher(l)))

	cfg := validConfig()
	cfg.OutputDirectory = "/data/out"
	_, err := s.Launch(context.Background(), cfg)
	require.NoError(t, err)
	waitDone(t, s)

	require.Len(t, l.specs, 1)
	assert.Contains(t, l.specs[0].Args, "/data/out")
}

func TestSessionOutputDirError(t *testing.T) {
	s := NewSession(command.NewBuilder(), WithOutputDirs(staticDirs{err: errors.New("disk full")}))

	_, err := s.Launch(context.Background(), validConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, s.InFlight())
}

func TestSessionCancelErrors(t *testing.T) {
	l := &mockLauncher{procs: []Process{outputProcess("ok\n", 0)}}
	s := NewSession(command.NewBuilder(),
		WithCoordinatorOptions(WithLauncher(l)),
		WithOutputDirs(staticDirs{root: t.TempDir()}),
		WithIDGenerator(sequentialIDs("run-a")),
	)

	assert.ErrorIs(t, s.Cancel("run-a"), ErrUnknownRun)

	_, err := s.Launch(context.Background(), validConfig())
	require.NoError(t, err)
	waitDone(t, s)

	assert.ErrorIs(t, s.Cancel("run-b"), ErrUnknownRun)
	assert.ErrorIs(t, s.Cancel("run-a"), ErrRunFinished)
}

func TestSessionSequentialRunsReuseState(t *testing.T) {
	first := outputProcess("PDF report successfully created in /tmp/a/report.pdf\n", 0)
	second := outputProcess("plain\n", 0)
	l := &mockLauncher{procs: []Process{first, second}}
	s := NewSession(command.NewBuilder(),
		WithCoordinatorOptions(WithLauncher(l)),
		WithOutputDirs(staticDirs{root: t.TempDir()}),
		WithIDGenerator(sequentialIDs("run-a", "run-b")),
	)

	_, err := s.Launch(context.Background(), validConfig())
	require.NoError(t, err)
	waitDone(t, s)
	snap, _ := s.Snapshot()
	require.Equal(t, "/tmp/a/report.pdf", snap.ReportPath)

	id, err := s.Launch(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Equal(t, "run-b", id)

	pending, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "run-b", pending.ID)
	assert.Empty(t, pending.ReportPath, "previous results are not visible to the new run")

	waitDone(t, s)
	snap, _ = s.Snapshot()
	assert.Equal(t, "run-b", snap.ID)
	assert.Empty(t, snap.ReportPath)
	assert.Equal(t, "plain", snap.LastLine())
}

func TestSessionShutdown(t *testing.T) {
	proc, pw := blockingProcess()
	defer func() { _ = pw.Close() }()

	l := &mockLauncher{procs: []Process{proc}}
	s := NewSession(command.NewBuilder(),
		WithCoordinatorOptions(WithLauncher(l)),
		WithOutputDirs(staticDirs{root: t.TempDir()}),
	)

	_, err := s.Launch(context.Background(), validConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.False(t, s.InFlight())
	assert.True(t, proc.killed.Load())
}

func TestSessionShutdownIdle(t *testing.T) {
	s := NewSession(command.NewBuilder())
	require.NoError(t, s.Shutdown(context.Background()))
}

// stuckProcess does not exit until released, whatever Kill does.
type stuckProcess struct {
	fakeProcess
	release chan struct{}
}

func (p *stuckProcess) Wait() (int, error) {
	<-p.release
	return -1, nil
}

func TestSessionShutdownTimeout(t *testing.T) {
	proc := &stuckProcess{
		fakeProcess: fakeProcess{stdout: strings.NewReader("")},
		release:     make(chan struct{}),
	}

	l := &mockLauncher{procs: []Process{proc}}
	s := NewSession(command.NewBuilder(),
		WithCoordinatorOptions(WithLauncher(l)),
		WithOutputDirs(staticDirs{root: t.TempDir()}),
	)
	_, err := s.Launch(context.Background(), validConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)

	close(proc.release)
	waitDone(t, s)
}

func TestSessionSnapshotReflectsProgress(t *testing.T) {
	proc, pw := blockingProcess()
	defer func() { _ = pw.Close() }()

	seen := make(chan RunState, 16)
	l := &mockLauncher{procs: []Process{proc}}
	s := NewSession(command.NewBuilder(),
		WithCoordinatorOptions(WithLauncher(l)),
		WithSessionPublisher(func(rs RunState) { seen <- rs }),
		WithOutputDirs(staticDirs{root: t.TempDir()}),
	)
	_, err := s.Launch(context.Background(), validConfig())
	require.NoError(t, err)

	_, err = pw.Write([]byte("step one\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot()
		return snap.LastLine() == "step one"
	}, 5*time.Second, 10*time.Millisecond)

	snap, _ := s.Snapshot()
	assert.Equal(t, PhaseRunning, snap.Phase)
	assert.True(t, strings.HasPrefix(snap.Transcript[0], "osa-tool "))

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestSessionWait(t *testing.T) {
	s := NewSession(command.NewBuilder())
	require.NoError(t, s.Wait(context.Background()), "no run means nothing to wait for")

	proc, pw := blockingProcess()
	l := &mockLauncher{procs: []Process{proc}}
	s = NewSession(command.NewBuilder(),
		WithCoordinatorOptions(WithLauncher(l)),
		WithOutputDirs(staticDirs{root: t.TempDir()}),
	)
	_, err := s.Launch(context.Background(), validConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	require.NoError(t, pw.Close())
	require.NoError(t, s.Wait(context.Background()))
	snap, _ := s.Snapshot()
	assert.Equal(t, PhaseSucceeded, snap.Phase)
}
