package toolserver

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/i2y/mcpforge/internal/domain"
)

// ToolsDir is the directory tool files are read from, relative to the
// server's root.
const ToolsDir = "tools"

// GroupInfo is the part of an API group a running server needs.
type GroupInfo struct {
	Name        string `json:"name"`
	ToolPrefix  string `json:"toolPrefix,omitempty"`
	UseMockData bool   `json:"useMockData,omitempty"`
}

// ToolFile is the on-disk form of one API group: tools/<apiId>.json.
type ToolFile struct {
	ApiID string                  `json:"apiId"`
	Group GroupInfo               `json:"group"`
	Tools []domain.ToolDefinition `json:"tools"`
}

// FileName is the path of the file inside the project.
func (f ToolFile) FileName() string {
	return path.Join(ToolsDir, f.ApiID+".json")
}

// Encode renders the file as indented JSON.
func (f ToolFile) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool file %s: %w", f.ApiID, err)
	}
	return append(data, '\n'), nil
}

// ToolFilesFromMcp splits an MCP record into one ToolFile per group, in
// api id order.
func ToolFilesFromMcp(record *domain.McpData) []ToolFile {
	files := make([]ToolFile, 0, len(record.ApiGroups))
	for _, apiID := range record.GroupIDs() {
		g := record.ApiGroups[apiID]
		tools := make([]domain.ToolDefinition, len(g.Tools))
		for i, t := range g.Tools {
			tools[i] = t.Clone()
		}
		files = append(files, ToolFile{
			ApiID: apiID,
			Group: GroupInfo{Name: g.Name, ToolPrefix: g.ToolPrefix, UseMockData: g.UseMockData},
			Tools: tools,
		})
	}
	return files
}

// Entry is one loaded tool together with its group settings.
type Entry struct {
	ApiID       string
	Prefix      string
	UseMockData bool
	Tool        domain.ToolDefinition
}

// Name is the advertised name: the group prefix plus the effective name.
func (e Entry) Name() string {
	return domain.AdvertisedName(e.Prefix, e.Tool.EffectiveName())
}

// EntriesFromFiles flattens files into entries, dropping tools the filter
// rejects.
func EntriesFromFiles(files []ToolFile, filter Filter) []Entry {
	var entries []Entry
	for _, f := range files {
		for _, t := range f.Tools {
			if !filter.Allows(t.Method, t.Tags) {
				continue
			}
			entries = append(entries, Entry{
				ApiID:       f.ApiID,
				Prefix:      f.Group.ToolPrefix,
				UseMockData: f.Group.UseMockData,
				Tool:        t,
			})
		}
	}
	return entries
}

// LoadTools reads every tools/*.json file of fsys in name order and
// returns the tools the filter admits.
func LoadTools(fsys fs.FS, filter Filter) ([]Entry, error) {
	dirEntries, err := fs.ReadDir(fsys, ToolsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s directory: %w", ToolsDir, err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)

	files := make([]ToolFile, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(ToolsDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read tool file %s: %w", name, err)
		}
		var f ToolFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse tool file %s: %w", name, err)
		}
		if f.ApiID == "" {
			f.ApiID = strings.TrimSuffix(name, ".json")
		}
		files = append(files, f)
	}
	return EntriesFromFiles(files, filter), nil
}
