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

// Package storage manages the scratch directories a deployment writes to:
// per-run output directories and uploaded attachments.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// DefaultMaxAttachmentSize bounds uploaded attachments.
const DefaultMaxAttachmentSize int64 = 32 << 20

const (
	runsDir        = "runs"
	attachmentsDir = "attachments"
)

// ErrAttachmentTooLarge is returned when an upload exceeds the size limit.
var ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")

// Workspace is a directory tree holding run outputs and attachments.
type Workspace struct {
	root    string
	owned   bool
	maxSize int64
	logger  logr.Logger
	now     func() time.Time
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithMaxAttachmentSize overrides DefaultMaxAttachmentSize.
func WithMaxAttachmentSize(n int64) Option {
	return func(w *Workspace) { w.maxSize = n }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// New opens a Workspace at root, creating it if needed. An empty root
// creates a fresh temporary directory that Close removes again.
func New(root string, opts ...Option) (*Workspace, error) {
	w := &Workspace{
		maxSize: DefaultMaxAttachmentSize,
		logger:  logr.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}

	if root == "" {
		dir, err := os.MkdirTemp("", "osa-web-")
		if err != nil {
			return nil, fmt.Errorf("creating temp workspace: %w", err)
		}
		w.root = dir
		w.owned = true
	} else {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving workspace root: %w", err)
		}
		if err := os.MkdirAll(abs, 0o750); err != nil {
			return nil, fmt.Errorf("creating workspace root: %w", err)
		}
		w.root = abs
	}

	for _, sub := range []string{runsDir, attachmentsDir} {
		if err := os.MkdirAll(filepath.Join(w.root, sub), 0o750); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}
	return w, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// AttachmentDir is the directory uploaded attachments are saved under.
func (w *Workspace) AttachmentDir() string { return filepath.Join(w.root, attachmentsDir) }

// OutputDir creates and returns the output directory for runID.
func (w *Workspace) OutputDir(runID string) (string, error) {
	name := sanitizeName(runID)
	if name == "" {
		return "", fmt.Errorf("invalid run ID %q", runID)
	}
	dir := filepath.Join(w.root, runsDir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	return dir, nil
}

// SaveAttachment stores r under a unique name derived from name and returns
// the absolute path. Uploads larger than the size limit are rejected and
// nothing is left on disk.
func (w *Workspace) SaveAttachment(name string, r io.Reader) (string, error) {
	base := sanitizeName(filepath.Base(name))
	if base == "" || base == "." {
		base = "attachment"
	}
	dir := filepath.Join(w.root, attachmentsDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating attachment directory: %w", err)
	}
	dst := filepath.Join(dir, base)

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("creating attachment: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, w.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > w.maxSize {
		err = ErrAttachmentTooLarge
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		if errors.Is(err, ErrAttachmentTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("writing attachment: %w", err)
	}

	w.logger.Info("saved attachment", "path", dst, "bytes", n)
	return dst, nil
}

// Contains reports whether path lies inside dir once both are cleaned and
// symlinks resolved.
func Contains(dir, path string) bool {
	d, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return false
	}
	p, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// Prune removes run outputs and attachments last modified before
// now minus olderThan. It returns how many entries were removed.
func (w *Workspace) Prune(olderThan time.Duration) (int, error) {
	cutoff := w.now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, sub := range []string{runsDir, attachmentsDir} {
		parent := filepath.Join(w.root, sub)
		entries, err := os.ReadDir(parent)
		if err != nil {
			errs = append(errs, fmt.Errorf("listing %s: %w", sub, err))
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(parent, e.Name())); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		w.logger.V(1).Info("pruned workspace", "removed", removed, "olderThan", olderThan.String())
	}
	return removed, errors.Join(errs...)
}

// Close removes the workspace when New created it as a temp directory.
func (w *Workspace) Close() error {
	if !w.owned {
		return nil
	}
	return os.RemoveAll(w.root)
}

// sanitizeName keeps letters, digits, dot, dash and underscore.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
