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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/NissesSenap/osa-web/pkg/command"
)

// defaultStderrLimit caps how much diagnostic output is retained per run.
const defaultStderrLimit = 1 << 20

// Process is a started child process.
type Process interface {
	// Stdout is the primary channel. It reaches EOF when the child closes it.
	Stdout() io.Reader
	// Stderr returns the captured diagnostic channel. It is only valid
	// after Wait has returned.
	Stderr() []byte
	// Wait blocks until the process exits and returns its exit code. A
	// non-zero exit is not an error.
	Wait() (int, error)
	// Kill terminates the process and unblocks pending reads of Stdout.
	Kill() error
}

// Launcher starts processes from an InvocationSpec.
type Launcher interface {
	Start(ctx context.Context, spec command.InvocationSpec) (Process, error)
}

// ExecLauncher implements Launcher with os/exec.
type ExecLauncher struct {
	// StderrLimit caps retained diagnostic output; zero means 1 MiB.
	StderrLimit int
	// WaitDelay bounds how long Wait waits for I/O after the process exits.
	WaitDelay time.Duration
}

// Start launches spec.Program with spec.Args and exactly spec.Env. Both output
// channels are pipes; nothing is inherited from the parent terminal. The
// process is killed when ctx is done.
func (l *ExecLauncher) Start(ctx context.Context, spec command.InvocationSpec) (Process, error) {
	cmd := exec.CommandContext(ctx, spec.Program, spec.Args...)
	cmd.Env = spec.Environ()
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	limit := l.StderrLimit
	if limit <= 0 {
		limit = defaultStderrLimit
	}
	p := &execProcess{cmd: cmd}
	// os/exec drains stderr concurrently so a chatty child cannot block on a
	// full pipe while stdout is still open. Wait returns only after the copy
	// finished; the buffer is read after that.
	cmd.Stderr = &cappedBuffer{buf: &p.stderr, limit: limit}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	p.stdout = stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stderr   bytes.Buffer
	killOnce sync.Once
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Stderr() []byte {
	return p.stderr.Bytes()
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if p.cmd.ProcessState != nil &&
		(errors.Is(err, exec.ErrWaitDelay) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return p.cmd.ProcessState.ExitCode(), nil
	}
	return -1, err
}

func (p *execProcess) Kill() error {
	var err error
	p.killOnce.Do(func() {
		err = p.cmd.Process.Kill()
		// Closing the read side unblocks the reader even when a grandchild
		// still holds the write end open.
		_ = p.stdout.Close()
	})
	return err
}

// cappedBuffer discards writes beyond limit while reporting them as written.
type cappedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}
