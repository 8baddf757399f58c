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
	"fmt"
	"strings"
)

// Mode selects how much work the analysis tool performs.
type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeAuto     Mode = "auto"
	ModeAdvanced Mode = "advanced"
)

// Modes lists the accepted modes in display order.
var Modes = []Mode{ModeBasic, ModeAuto, ModeAdvanced}

// ParseMode converts a user-supplied string into a Mode.
// An empty string yields ModeBasic.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBasic, nil
	case ModeBasic, ModeAuto, ModeAdvanced:
		return m, nil
	default:
		return "", &ConfigurationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s)}
	}
}

// AttachmentKind describes where attachment material comes from.
type AttachmentKind string

const (
	AttachmentURL  AttachmentKind = "url"
	AttachmentFile AttachmentKind = "file"
)

// Attachment references supplementary material (an article) for the run.
// For AttachmentFile the location is a path already persisted to local storage.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	Location string         `json:"location"`
}

// RunConfiguration is the user-facing input for a single run.
type RunConfiguration struct {
	RepositoryURL   string
	Mode            Mode
	OutputDirectory string
	Branch          string // empty means the repository default branch
	Attachment      *Attachment
	NoFork          bool
	NoPullRequest   bool
	DeleteDirAfter  bool

	// AuthToken is passed to the child through the environment only.
	AuthToken string
}

// ConfigurationError reports invalid or missing run input. Runs are never
// launched with a configuration that fails validation.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the preconditions for launching a run.
func (c RunConfiguration) Validate() error {
	if strings.TrimSpace(c.RepositoryURL) == "" {
		return &ConfigurationError{Field: "repositoryUrl", Reason: "repository URL is required"}
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if a := c.Attachment; a != nil {
		switch a.Kind {
		case AttachmentURL, AttachmentFile:
		default:
			return &ConfigurationError{Field: "attachment.kind", Reason: fmt.Sprintf("unknown kind %q", a.Kind)}
		}
		if strings.TrimSpace(a.Location) == "" {
			return &ConfigurationError{Field: "attachment.location", Reason: "location is required"}
		}
	}
	return nil
}
