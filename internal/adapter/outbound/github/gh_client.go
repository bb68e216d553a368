package github

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Scheme prefixes document locations served through the gh CLI.
const Scheme = "github://"

// Runner executes the gh CLI with args and returns its stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// GHClient wraps the gh CLI command for GitHub operations
type GHClient struct {
	run Runner
}

// NewGHClient creates a client that shells out to gh. A nil runner uses the
// gh binary on PATH.
func NewGHClient(run Runner) *GHClient {
	if run == nil {
		run = execGH
	}
	return &GHClient{run: run}
}

// Location is a parsed github:// URL.
type Location struct {
	Owner string
	Repo  string
	Path  string
	Ref   string
}

// ParseURL parses a github:// URL.
// Format: github://owner/repo/path/to/file[@ref]
func ParseURL(githubURL string) (Location, error) {
	if !IsGitHubURL(githubURL) {
		return Location{}, fmt.Errorf("invalid GitHub URL format: %s", githubURL)
	}
	rest := strings.TrimPrefix(githubURL, Scheme)

	var loc Location
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		loc.Ref = rest[at+1:]
		rest = rest[:at]
		if loc.Ref == "" {
			return Location{}, fmt.Errorf("invalid GitHub URL format: empty ref in %s", githubURL)
		}
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Location{}, fmt.Errorf("invalid GitHub URL format: expected github://owner/repo/path/to/file")
	}
	loc.Owner, loc.Repo, loc.Path = parts[0], parts[1], parts[2]
	return loc, nil
}

func (l Location) apiPath() string {
	p := fmt.Sprintf("repos/%s/%s/contents/%s", l.Owner, l.Repo, l.Path)
	if l.Ref != "" {
		p += "?ref=" + l.Ref
	}
	return p
}

// FetchFile retrieves the raw content of a repository file.
func (c *GHClient) FetchFile(ctx context.Context, githubURL string) ([]byte, error) {
	loc, err := ParseURL(githubURL)
	if err != nil {
		return nil, err
	}
	out, err := c.run(ctx, "api", "-H", "Accept: application/vnd.github.raw", loc.apiPath())
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, fmt.Errorf("empty response from GitHub for %s", githubURL)
	}
	return out, nil
}

func execGH(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		switch {
		case strings.Contains(err.Error(), "executable file not found"):
			return nil, fmt.Errorf("gh CLI is not installed. Please install it from https://cli.github.com/")
		case strings.Contains(msg, "not logged in"):
			return nil, fmt.Errorf("gh CLI is not authenticated. Please run 'gh auth login' first")
		case msg != "":
			return nil, fmt.Errorf("gh command failed: %s", strings.TrimSpace(msg))
		}
		return nil, fmt.Errorf("gh command failed: %w", err)
	}
	return stdout.Bytes(), nil
}

// IsGitHubURL checks if a URL is a GitHub URL
func IsGitHubURL(url string) bool {
	return strings.HasPrefix(url, Scheme)
}
