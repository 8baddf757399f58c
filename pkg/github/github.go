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

// Package github resolves the GitHub token handed to osa-tool and talks to
// the GitHub API about it.
package github

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/go-logr/logr"
	gh "github.com/google/go-github/v75/github"
	"github.com/joho/godotenv"

	"github.com/NissesSenap/osa-web/pkg/command"
)

// DefaultEnvFile is consulted when LoadToken is given no files.
const DefaultEnvFile = ".env"

// ErrInvalidRepositoryURL is returned for URLs that do not name a GitHub repository.
var ErrInvalidRepositoryURL = errors.New("not a GitHub repository URL")

// LoadToken returns the GIT_TOKEN value. The process environment wins over
// the given dotenv files, which are read in order; missing files are
// skipped. A warning is logged when no token is found.
func LoadToken(log logr.Logger, files ...string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(command.TokenEnvVar)); v != "" {
		return v, nil
	}
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}
	for _, f := range files {
		env, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf("reading %s: %w", f, err)
		}
		if v := strings.TrimSpace(env[command.TokenEnvVar]); v != "" {
			log.V(1).Info("loaded token from env file", "file", f)
			return v, nil
		}
	}
	log.Info("GIT_TOKEN not found; osa-tool will not be able to fork or open pull requests")
	return "", nil
}

// Repository is the subset of repository metadata shown before a launch.
type Repository struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	FullName      string `json:"fullName"`
	DefaultBranch string `json:"defaultBranch"`
	Private       bool   `json:"private"`
	Description   string `json:"description,omitempty"`
	HTMLURL       string `json:"htmlUrl"`
}

// Client wraps the GitHub API client.
type Client struct {
	gh *gh.Client
}

// NewClient creates a Client authenticating with token. An empty token
// makes unauthenticated requests. A non-empty apiURL targets GitHub
// Enterprise or a test server.
func NewClient(token, apiURL string) (*Client, error) {
	c := gh.NewClient(nil)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	if apiURL != "" && apiURL != "https://api.github.com" && apiURL != "https://api.github.com/" {
		base := strings.TrimSuffix(apiURL, "/") + "/"
		var err error
		c, err = c.WithEnterpriseURLs(base, base)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub API URL: %w", err)
		}
	}
	return newClientFromGH(c), nil
}

func newClientFromGH(c *gh.Client) *Client {
	return &Client{gh: c}
}

// Login returns the login of the user the token belongs to.
func (c *Client) Login(ctx context.Context) (string, error) {
	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("get authenticated user: %w", err)
	}
	return user.GetLogin(), nil
}

// Repository fetches metadata for the repository at rawURL.
func (c *Client) Repository(ctx context.Context, rawURL string) (*Repository, error) {
	owner, name, err := ParseRepositoryURL(rawURL)
	if err != nil {
		return nil, err
	}
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}
	return &Repository{
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
		Private:       repo.GetPrivate(),
		Description:   repo.GetDescription(),
		HTMLURL:       repo.GetHTMLURL(),
	}, nil
}

// IsNotFound reports whether err is a 404 from the GitHub API.
func IsNotFound(err error) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == 404
}

// IsUnauthorized reports whether err is a 401 from the GitHub API.
func IsUnauthorized(err error) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == 401
}

// ParseRepositoryURL extracts owner and repository name from URLs such as
// https://github.com/owner/repo, https://github.com/owner/repo.git and
// github.com/owner/repo/tree/main.
func ParseRepositoryURL(rawURL string) (owner, name string, err error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", "", ErrInvalidRepositoryURL
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidRepositoryURL, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "github.com" {
		return "", "", fmt.Errorf("%w: host %q", ErrInvalidRepositoryURL, u.Hostname())
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: missing owner or name", ErrInvalidRepositoryURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
