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

// Package extract recognizes structured signals in osa-tool's free-text
// output. Extractors are pure and operate on one sanitized line at a time.
package extract

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// Kind identifies the type of a Signal.
type Kind string

const (
	KindReportPath Kind = "report_path"
	KindAboutLine  Kind = "about_line"
)

// Signal is a structured fact recognized in an output line.
type Signal struct {
	Kind  Kind
	Value string
}

// Extractor recognizes at most one signal in a line.
type Extractor interface {
	Extract(line string) (Signal, bool)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(line string) (Signal, bool)

// Extract calls f(line).
func (f ExtractorFunc) Extract(line string) (Signal, bool) {
	return f(line)
}

var reportPathRe = regexp.MustCompile(`PDF report successfully created in (/.*\.pdf)`)

// ReportPath matches "PDF report successfully created in /abs/path.pdf".
var ReportPath = ExtractorFunc(func(line string) (Signal, bool) {
	m := reportPathRe.FindStringSubmatch(line)
	if m == nil {
		return Signal{}, false
	}
	return Signal{Kind: KindReportPath, Value: m[1]}, true
})

var (
	aboutContains = []string{
		"You can add the following",
		"Please review and add them to your repository.",
	}
	aboutPrefixes = []string{
		"- Description:",
		"- Homepage:",
		"- Topics:",
	}
)

// AboutLine matches the lines of the repository "About" suggestion block.
var AboutLine = ExtractorFunc(func(line string) (Signal, bool) {
	for _, s := range aboutContains {
		if strings.Contains(line, s) {
			return Signal{Kind: KindAboutLine, Value: line}, true
		}
	}
	trimmed := strings.TrimSpace(line)
	for _, p := range aboutPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return Signal{Kind: KindAboutLine, Value: line}, true
		}
	}
	return Signal{}, false
})

// Default returns the extractors applied to every primary-channel line.
func Default() []Extractor {
	return []Extractor{ReportPath, AboutLine}
}

// Sanitize turns a raw output line into transcript text. ANSI escape
// sequences and surrounding whitespace are removed. It reports false for lines that are empty
// after sanitizing or that are not valid UTF-8.
func Sanitize(raw []byte) (string, bool) {
	raw = bytes.TrimRight(raw, "\r\n")
	if !utf8.Valid(raw) {
		return "", false
	}
	line := strings.TrimSpace(ansi.Strip(string(raw)))
	if line == "" {
		return "", false
	}
	return line, true
}
