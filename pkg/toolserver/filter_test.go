package toolserver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
	"github.com/i2y/mcpforge/pkg/toolserver"
)

func billingFile() toolserver.ToolFile {
	return toolserver.ToolFile{
		ApiID: "billing",
		Group: toolserver.GroupInfo{Name: "Billing"},
		Tools: []domain.ToolDefinition{
			{Name: "billing-listInvoices", Method: "GET", PathTemplate: "/invoices", Tags: []string{"billing"}},
			{Name: "billing-createInvoice", Method: "POST", PathTemplate: "/invoices", Tags: []string{"billing"}},
			{Name: "billing-deleteInvoice", Method: "DELETE", PathTemplate: "/invoices/{id}", Tags: []string{"billing"}},
		},
	}
}

func entryNames(entries []toolserver.Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestCRUDPermissionFilter(t *testing.T) {
	files := []toolserver.ToolFile{billingFile()}
	categories := []string{"billing"}

	tests := []struct {
		name string
		arg  *string
		want []string
	}{
		{
			name: "read loads only GET",
			arg:  ptr("billing.read"),
			want: []string{"billing-listInvoices"},
		},
		{
			name: "all loads every method",
			arg:  ptr("billing.all"),
			want: []string{"billing-listInvoices", "billing-createInvoice", "billing-deleteInvoice"},
		},
		{
			name: "create and delete combine",
			arg:  ptr("billing.create,billing.delete"),
			want: []string{"billing-createInvoice", "billing-deleteInvoice"},
		},
		{
			name: "no argument loads everything",
			arg:  nil,
			want: []string{"billing-listInvoices", "billing-createInvoice", "billing-deleteInvoice"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var filter toolserver.Filter
			if tt.arg != nil {
				var err error
				filter, err = toolserver.ParseToolsArg(*tt.arg, categories)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, entryNames(toolserver.EntriesFromFiles(files, filter)))
		})
	}
}

func TestParseToolsArg_Errors(t *testing.T) {
	tests := []struct {
		name       string
		arg        string
		categories []string
		contains   string
	}{
		{name: "unknown category", arg: "shipping.read", categories: []string{"billing"}, contains: "invalid category"},
		{name: "unknown permission", arg: "billing.write", categories: []string{"billing"}, contains: "invalid permission"},
		{name: "missing permission", arg: "billing", categories: nil, contains: "not category.permission"},
		{name: "empty", arg: " , ", categories: nil, contains: "no category.permission"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := toolserver.ParseToolsArg(tt.arg, tt.categories)
			require.Error(t, err)
			assert.ErrorIs(t, err, usecase.ErrInvalidToolFilter)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}

	t.Run("empty category list disables category validation", func(t *testing.T) {
		filter, err := toolserver.ParseToolsArg("anything.READ", nil)
		require.NoError(t, err)
		assert.Equal(t, toolserver.Filter{"anything": {toolserver.PermissionRead}}, filter)
	})
}

func TestFilter_Allows(t *testing.T) {
	filter, err := toolserver.ParseToolsArg("billing.all,admin.update", nil)
	require.NoError(t, err)

	assert.True(t, filter.Allows("GET", []string{"billing"}))
	assert.True(t, filter.Allows("PATCH", []string{"billing", "admin"}))
	assert.True(t, filter.Allows("PUT", []string{"Admin"}))
	assert.False(t, filter.Allows("GET", []string{"billing", "admin"}), "every tag must authorize the method")
	assert.False(t, filter.Allows("GET", []string{"reports"}))
	assert.False(t, filter.Allows("GET", nil), "untagged tools are excluded under an active filter")

	var none toolserver.Filter
	assert.True(t, none.Allows("DELETE", nil))
}

func ptr(s string) *string { return &s }
