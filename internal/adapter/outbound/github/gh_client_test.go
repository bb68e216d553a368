package github

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		want        Location
		expectError bool
	}{
		{
			name: "simple github URL",
			url:  "github://owner/repo/path/to/file.yaml",
			want: Location{Owner: "owner", Repo: "repo", Path: "path/to/file.yaml"},
		},
		{
			name: "github URL with tag",
			url:  "github://owner/repo/path/to/file.yaml@v1.0",
			want: Location{Owner: "owner", Repo: "repo", Path: "path/to/file.yaml", Ref: "v1.0"},
		},
		{
			name: "github URL with branch ref",
			url:  "github://microsoft/api-guidelines/graph/openapi.yaml@main",
			want: Location{Owner: "microsoft", Repo: "api-guidelines", Path: "graph/openapi.yaml", Ref: "main"},
		},
		{name: "not github", url: "https://github.com/owner/repo/file.yaml", expectError: true},
		{name: "missing path", url: "github://owner/repo", expectError: true},
		{name: "missing repo", url: "github://owner", expectError: true},
		{name: "empty ref", url: "github://owner/repo/file.yaml@", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.url)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGHClient_FetchFile(t *testing.T) {
	var gotArgs []string
	client := NewGHClient(func(_ context.Context, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte("openapi: 3.0.0\n"), nil
	})

	content, err := client.FetchFile(context.Background(), "github://acme/apis/specs/billing.yaml@main")
	require.NoError(t, err)
	assert.Equal(t, "openapi: 3.0.0\n", string(content))
	assert.Equal(t, []string{"api", "-H", "Accept: application/vnd.github.raw", "repos/acme/apis/contents/specs/billing.yaml?ref=main"}, gotArgs)
}

func TestGHClient_FetchFileErrors(t *testing.T) {
	t.Run("runner failure", func(t *testing.T) {
		client := NewGHClient(func(context.Context, ...string) ([]byte, error) {
			return nil, errors.New("gh command failed: HTTP 404")
		})
		_, err := client.FetchFile(context.Background(), "github://acme/apis/missing.yaml")
		assert.ErrorContains(t, err, "HTTP 404")
	})

	t.Run("empty body", func(t *testing.T) {
		client := NewGHClient(func(context.Context, ...string) ([]byte, error) {
			return []byte("  \n"), nil
		})
		_, err := client.FetchFile(context.Background(), "github://acme/apis/empty.yaml")
		assert.ErrorContains(t, err, "empty response")
	})

	t.Run("bad url never runs gh", func(t *testing.T) {
		client := NewGHClient(func(context.Context, ...string) ([]byte, error) {
			t.Fatal("runner must not be called")
			return nil, nil
		})
		_, err := client.FetchFile(context.Background(), "github://acme")
		assert.Error(t, err)
	})
}

func TestIsGitHubURL(t *testing.T) {
	assert.True(t, IsGitHubURL("github://owner/repo/file.yaml"))
	assert.False(t, IsGitHubURL("https://github.com/owner/repo"))
	assert.False(t, IsGitHubURL("./openapi.yaml"))
}
