package codegen_test

import (
	"encoding/json"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/internal/adapter/outbound/codegen"
	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
	"github.com/i2y/mcpforge/pkg/toolserver"
)

func newGenerator(t *testing.T) *codegen.Generator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	g, err := codegen.New(logger, codegen.WithRuntime("github.com/i2y/mcpforge", "v0.2.0"))
	require.NoError(t, err)
	return g
}

func demoMcp() *domain.McpData {
	return &domain.McpData{
		ID:   "m1",
		Name: "Demo",
		ApiGroups: map[string]*domain.ApiGroup{
			"petstore": {
				Name:       "Petstore",
				ToolPrefix: "ps_",
				Auth:       domain.Auth{Type: domain.AuthBearerToken},
				Tools: []domain.ToolDefinition{{
					Name:         "petstore-listPets",
					Description:  "List pets.\nSecond line.",
					Method:       "GET",
					PathTemplate: "/pets",
					Tags:         []string{"petstore-pets"},
					SecurityScheme: &domain.SecurityScheme{
						BaseURLEnvVar: "PETSTORE_API_BASE_URL",
						Schema:        &domain.SecurityVariant{Type: domain.AuthBearerToken, TokenEnvVar: "PETSTORE_BEARER_TOKEN"},
					},
				}},
			},
			"billing": {
				Name:        "Billing",
				UseMockData: true,
				Tools: []domain.ToolDefinition{{
					Name:           "billing-createInvoice",
					Description:    "Create <invoice>",
					Method:         "POST",
					PathTemplate:   "/invoices",
					Tags:           []string{"billing-invoices"},
					SecurityScheme: &domain.SecurityScheme{BaseURLEnvVar: "BILLING_API_BASE_URL"},
				}},
			},
		},
	}
}

func TestGenerator_Generate(t *testing.T) {
	g := newGenerator(t)
	record := demoMcp()
	opts := usecase.ResolveBuildOptions(record, usecase.BuildOptions{Transport: domain.TransportStreamableHTTP, Port: 8080})

	project, err := g.Generate(record, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{
		".env.example",
		".golangci.yml",
		"Makefile",
		"README.md",
		"docs/oauth2-configuration.md",
		"go.mod",
		"main.go",
		"public/index.html",
		"tools/billing.json",
		"tools/petstore.json",
		"transport.go",
	}, project.Paths())

	fset := token.NewFileSet()
	for _, name := range []string{"main.go", "transport.go"} {
		_, err := parser.ParseFile(fset, name, project.Files[name], parser.AllErrors)
		require.NoError(t, err, "%s must be valid Go:\n%s", name, project.Files[name])
	}

	main := string(project.Files["main.go"])
	assert.Contains(t, main, `serviceName    = "demo"`)
	assert.Regexp(t, regexp.MustCompile(`defaultPort\s+= 8080`), main)
	assert.Contains(t, main, `"billing-invoices",`)
	assert.Contains(t, main, `"petstore-pets",`)

	transport := string(project.Files["transport.go"])
	assert.Contains(t, transport, `"github.com/i2y/mcpforge/pkg/toolserver"`)
	assert.Contains(t, transport, `Transport:  "streamable-http"`)
	assert.NotContains(t, transport, "LogFile")

	assert.Equal(t, "module example.com/demo\n\ngo 1.23\n\nrequire github.com/i2y/mcpforge v0.2.0\n", string(project.Files["go.mod"]))

	env := string(project.Files[".env.example"])
	assert.Contains(t, env, "PETSTORE_API_BASE_URL=\n")
	assert.Contains(t, env, "PETSTORE_BEARER_TOKEN=\n")
	assert.Contains(t, env, "# Billing (mock data")

	assert.Contains(t, string(project.Files["Makefile"]), "build: tidy\n\tgo build")
	assert.Contains(t, string(project.Files["docs/oauth2-configuration.md"]), "`PETSTORE_BEARER_TOKEN` | OAuth2 access token")

	readme := string(project.Files["README.md"])
	assert.Contains(t, readme, "- `ps_petstore-listPets` (GET /pets): List pets.\n")
	assert.Contains(t, readme, "--tools=billing-invoices.read,petstore-pets.all")
	assert.Contains(t, readme, "http://localhost:8080/mcp")

	assert.Contains(t, string(project.Files["public/index.html"]), "Create &lt;invoice&gt;")

	var tf toolserver.ToolFile
	require.NoError(t, json.Unmarshal(project.Files["tools/petstore.json"], &tf))
	assert.Equal(t, "petstore", tf.ApiID)
	assert.Equal(t, "ps_", tf.Group.ToolPrefix)
	require.Len(t, tf.Tools, 1)
	assert.Equal(t, "PETSTORE_BEARER_TOKEN", tf.Tools[0].SecurityScheme.Schema.TokenEnvVar)
}

func TestGenerator_StdioProjectHasNoPublicDir(t *testing.T) {
	g := newGenerator(t)
	record := demoMcp()
	project, err := g.Generate(record, usecase.ResolveBuildOptions(record, usecase.BuildOptions{}))
	require.NoError(t, err)

	assert.NotContains(t, project.Files, "public/index.html")
	assert.Contains(t, string(project.Files["transport.go"]), `LogFile:    serviceName + ".log"`)
	assert.NotContains(t, string(project.Files["README.md"]), "localhost")
}

func TestGenerator_BuildServerCode(t *testing.T) {
	g := newGenerator(t)

	src, err := g.BuildServerCode("billing-server", "2.1.0", []string{"billing"}, 4000)
	require.NoError(t, err)
	_, err = parser.ParseFile(token.NewFileSet(), "main.go", src, parser.AllErrors)
	require.NoError(t, err)
	assert.Contains(t, string(src), `"billing",`)
	assert.Contains(t, string(src), `"all", "create", "read", "update", "delete"`)
	assert.Regexp(t, regexp.MustCompile(`defaultPort\s+= 4000`), string(src))

	src, err = g.BuildServerCode("open", "1.0.0", nil, 3000)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`var categories = \[\]string\{\s*\}`), string(src))
}
