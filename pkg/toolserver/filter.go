package toolserver

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/i2y/mcpforge/internal/usecase"
)

// Permission is the CRUD half of a --tools entry.
type Permission string

const (
	PermissionAll    Permission = "all"
	PermissionCreate Permission = "create"
	PermissionRead   Permission = "read"
	PermissionUpdate Permission = "update"
	PermissionDelete Permission = "delete"
)

var permissionMethods = map[Permission][]string{
	PermissionCreate: {http.MethodPost},
	PermissionRead:   {http.MethodGet},
	PermissionUpdate: {http.MethodPut, http.MethodPatch},
	PermissionDelete: {http.MethodDelete},
}

// Allows reports whether p authorizes the HTTP method.
func (p Permission) Allows(method string) bool {
	if p == PermissionAll {
		return true
	}
	for _, m := range permissionMethods[p] {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func parsePermission(s string) (Permission, bool) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if p == PermissionAll {
		return p, true
	}
	_, ok := permissionMethods[p]
	return p, ok
}

// Filter maps a category to the permissions granted on it. A nil Filter
// lets every tool through.
type Filter map[string][]Permission

// ParseToolsArg parses "category.permission[,category.permission...]".
// When categories is non-empty every category must be one of them.
func ParseToolsArg(value string, categories []string) (Filter, error) {
	known := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		known[strings.ToLower(c)] = struct{}{}
	}

	filter := Filter{}
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		dot := strings.LastIndex(entry, ".")
		if dot <= 0 || dot == len(entry)-1 {
			return nil, fmt.Errorf("%w: %q is not category.permission", usecase.ErrInvalidToolFilter, entry)
		}
		category := strings.ToLower(entry[:dot])
		perm, ok := parsePermission(entry[dot+1:])
		if !ok {
			return nil, fmt.Errorf("%w: invalid permission %q (want all, create, read, update or delete)",
				usecase.ErrInvalidToolFilter, entry[dot+1:])
		}
		if len(known) > 0 {
			if _, ok := known[category]; !ok {
				return nil, fmt.Errorf("%w: invalid category %q (available: %s)",
					usecase.ErrInvalidToolFilter, category, strings.Join(sortedKeys(known), ", "))
			}
		}
		filter[category] = append(filter[category], perm)
	}
	if len(filter) == 0 {
		return nil, fmt.Errorf("%w: no category.permission entries in %q", usecase.ErrInvalidToolFilter, value)
	}
	return filter, nil
}

// Allows reports whether a tool with the given method and tags passes.
// Every tag needs a granted permission covering method; an untagged tool
// only passes when there is no filter at all.
func (f Filter) Allows(method string, tags []string) bool {
	if f == nil {
		return true
	}
	if len(tags) == 0 {
		return false
	}
	for _, tag := range tags {
		granted := false
		for _, p := range f[strings.ToLower(tag)] {
			if p.Allows(method) {
				granted = true
				break
			}
		}
		if !granted {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
