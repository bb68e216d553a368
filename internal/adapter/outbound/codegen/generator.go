package codegen

import (
	"bytes"
	"embed"
	"fmt"
	"go/format"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
	"github.com/i2y/mcpforge/pkg/toolserver"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	DefaultRuntimeModule  = "github.com/i2y/mcpforge"
	DefaultRuntimeVersion = "v0.1.0"
)

// Generator implements usecase.ProjectGenerator. Projects are thin Go
// programs around pkg/toolserver plus the tool files of the MCP.
type Generator struct {
	runtimeModule  string
	runtimeVersion string
	tmpl           *template.Template
	logger         *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithRuntime pins the module path and version generated projects require.
func WithRuntime(module, version string) Option {
	return func(g *Generator) {
		g.runtimeModule = module
		g.runtimeVersion = version
	}
}

// New creates a Generator.
func New(logger *slog.Logger, opts ...Option) (*Generator, error) {
	tmpl, err := template.New("project").Funcs(template.FuncMap{
		"quote": strconv.Quote,
	}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project templates: %w", err)
	}
	g := &Generator{
		runtimeModule:  DefaultRuntimeModule,
		runtimeVersion: DefaultRuntimeVersion,
		tmpl:           tmpl,
		logger:         logger.With("component", "codegen"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type toolData struct {
	Name        string
	Method      string
	Path        string
	Description string
}

type envVarData struct {
	Name    string
	Purpose string
}

type groupData struct {
	ApiID       string
	Name        string
	UseMockData bool
	EnvVars     []string
	Vars        []envVarData
	Tools       []toolData
}

type projectData struct {
	ServiceName    string
	ServiceVersion string
	ModulePath     string
	Transport      string
	Port           int
	Categories     []string
	Groups         []groupData
	ToolCount      int
	ExampleFilter  string
	RuntimeModule  string
	RuntimeVersion string
}

// file is one rendered output: the template it comes from and whether the
// result is Go source to be formatted.
type file struct {
	path     string
	template string
	gofmt    bool
}

var projectFiles = []file{
	{path: "main.go", template: "main.go.tmpl", gofmt: true},
	{path: "transport.go", template: "transport.go.tmpl", gofmt: true},
	{path: "go.mod", template: "go.mod.tmpl"},
	{path: ".golangci.yml", template: "golangci.yml.tmpl"},
	{path: "Makefile", template: "Makefile.tmpl"},
	{path: ".env.example", template: "env.example.tmpl"},
	{path: "docs/oauth2-configuration.md", template: "oauth2.md.tmpl"},
	{path: "README.md", template: "README.md.tmpl"},
}

// Generate renders the project for record.
func (g *Generator) Generate(record *domain.McpData, opts usecase.BuildOptions) (domain.GeneratedProject, error) {
	data := g.projectData(record, opts)
	project := domain.GeneratedProject{Files: map[string][]byte{}}

	for _, f := range projectFiles {
		out, err := g.render(f.template, data, f.gofmt)
		if err != nil {
			return domain.GeneratedProject{}, fmt.Errorf("failed to render %s: %w", f.path, err)
		}
		project.Files[f.path] = out
	}
	if opts.Transport == domain.TransportWeb || opts.Transport == domain.TransportStreamableHTTP {
		out, err := g.render("index.html.tmpl", data, false)
		if err != nil {
			return domain.GeneratedProject{}, fmt.Errorf("failed to render public/index.html: %w", err)
		}
		project.Files["public/index.html"] = out
	}
	for _, tf := range toolserver.ToolFilesFromMcp(record) {
		out, err := tf.Encode()
		if err != nil {
			return domain.GeneratedProject{}, err
		}
		project.Files[tf.FileName()] = out
	}

	g.logger.Debug("Rendered project",
		slog.String("service", data.ServiceName),
		slog.String("transport", data.Transport),
		slog.Int("files", len(project.Files)),
	)
	return project, nil
}

// BuildServerCode renders only the entry point: the embedded category list,
// the accepted permissions and the default port.
func (g *Generator) BuildServerCode(serviceName, serviceVersion string, categories []string, port int) ([]byte, error) {
	return g.render("main.go.tmpl", projectData{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Categories:     categories,
		Port:           port,
	}, true)
}

func (g *Generator) render(name string, data projectData, gofmt bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	if !gofmt {
		return buf.Bytes(), nil
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("generated source does not parse: %w", err)
	}
	return src, nil
}

func (g *Generator) projectData(record *domain.McpData, opts usecase.BuildOptions) projectData {
	data := projectData{
		ServiceName:    opts.ServiceName,
		ServiceVersion: opts.ServiceVersion,
		ModulePath:     opts.ModulePath,
		Transport:      string(opts.Transport),
		Port:           opts.Port,
		Categories:     record.Categories(),
		RuntimeModule:  g.runtimeModule,
		RuntimeVersion: g.runtimeVersion,
	}
	for _, apiID := range record.GroupIDs() {
		group := record.ApiGroups[apiID]
		gd := groupData{ApiID: apiID, Name: group.Name, UseMockData: group.UseMockData}
		seen := map[string]bool{}
		for _, t := range group.Tools {
			gd.Tools = append(gd.Tools, toolData{
				Name:        domain.AdvertisedName(group.ToolPrefix, t.EffectiveName()),
				Method:      t.Method,
				Path:        t.PathTemplate,
				Description: firstLine(t.EffectiveDescription()),
			})
			for _, v := range t.SecurityScheme.EnvVars() {
				if v == "" || seen[v] {
					continue
				}
				seen[v] = true
				gd.EnvVars = append(gd.EnvVars, v)
				gd.Vars = append(gd.Vars, envVarData{Name: v, Purpose: envVarPurpose(v)})
			}
		}
		data.ToolCount += len(gd.Tools)
		data.Groups = append(data.Groups, gd)
	}
	data.ExampleFilter = exampleFilter(data.Categories)
	return data
}

func envVarPurpose(name string) string {
	switch {
	case strings.HasSuffix(name, "_API_BASE_URL"):
		return "Base URL of the upstream API"
	case strings.HasSuffix(name, "_API_KEY"):
		return "API key"
	case strings.HasSuffix(name, "_BEARER_TOKEN"):
		return "OAuth2 access token sent as a bearer token"
	default:
		return "Upstream setting"
	}
}

func exampleFilter(categories []string) string {
	if len(categories) == 0 {
		return "category.read"
	}
	c := append([]string(nil), categories...)
	sort.Strings(c)
	if len(c) == 1 {
		return c[0] + ".read"
	}
	return c[0] + ".read," + c[1] + ".all"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

var _ usecase.ProjectGenerator = (*Generator)(nil)
