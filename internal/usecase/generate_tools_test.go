package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/internal/adapter/outbound/memrepo"
	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

func newApiRepo(t *testing.T, ids ...string) *memrepo.InMemoryRepository {
	t.Helper()
	repo := memrepo.NewInMemoryRepository(newTestLogger())
	for _, id := range ids {
		require.NoError(t, repo.SaveApi(context.Background(), domain.ApiRecord{ID: id, Name: id + " API"}))
	}
	return repo
}

func extracted(name, method, path string, tags ...string) domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:         name,
		Description:  name,
		Method:       method,
		PathTemplate: path,
		Tags:         tags,
		InputSchema:  domain.ObjectSchema(map[string]any{"type": "object", "properties": map[string]any{}}),
	}
}

func TestGenerateToolsUseCase_PetstoreScenario(t *testing.T) {
	ctx := context.Background()
	extractor := new(MockToolExtractor)
	endpoints := []domain.Endpoint{{Path: "/pets/{id}", Method: "GET"}}
	extractor.On("Extract", mock.Anything, mock.MatchedBy(func(api domain.ApiRecord) bool { return api.ID == "api-1" }), endpoints).
		Return([]domain.ToolDefinition{extracted("getPetById", "GET", "/pets/{id}", "pets")}, nil, nil).Once()

	uc := usecase.NewGenerateToolsUseCase(newApiRepo(t, "api-1"), extractor, newTestLogger())
	agg, err := uc.Execute(ctx, map[string]*domain.ApiGroup{
		"api-1": {
			Name:      "petstore",
			Auth:      domain.Auth{Type: domain.AuthAPIKey, In: "header", Name: "X-Api-Key"},
			Endpoints: endpoints,
		},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, agg.Count())
	assert.Empty(t, agg.Failures)
	assert.Equal(t, "petstore", agg.GroupNames["api-1"])

	tool := agg.Tools["api-1"][0]
	assert.Equal(t, "petstore-getPetById", tool.Name)
	assert.Equal(t, []string{"petstore-pets"}, tool.Tags)
	assert.Equal(t, &domain.SecurityScheme{
		BaseURLEnvVar: "PETSTORE_API_BASE_URL",
		Schema: &domain.SecurityVariant{
			Type:      domain.AuthAPIKey,
			KeyEnvVar: "PETSTORE_API_KEY",
			In:        "header",
			Name:      "X-Api-Key",
		},
	}, tool.SecurityScheme)
	extractor.AssertExpectations(t)
}

func TestGenerateToolsUseCase_DuplicatesAreSkipped(t *testing.T) {
	ctx := context.Background()
	extractor := new(MockToolExtractor)
	extractor.On("Extract", mock.Anything, mock.MatchedBy(func(api domain.ApiRecord) bool { return api.ID == "a" }), mock.Anything).
		Return([]domain.ToolDefinition{
			extracted("listPets", "GET", "/pets"),
			extracted("listPets", "GET", "/v2/pets"),
		}, []domain.ToolFailure{{Endpoint: "GET /gone", Reason: "operation not found in document"}}, nil)
	extractor.On("Extract", mock.Anything, mock.MatchedBy(func(api domain.ApiRecord) bool { return api.ID == "b" }), mock.Anything).
		Return([]domain.ToolDefinition{extracted("listPets", "GET", "/pets"), extracted("getOwner", "GET", "/owner")}, nil, nil)

	uc := usecase.NewGenerateToolsUseCase(newApiRepo(t, "a", "b"), extractor, newTestLogger())
	eps := []domain.Endpoint{{Path: "/x", Method: "GET"}}
	agg, err := uc.Execute(ctx, map[string]*domain.ApiGroup{
		"a": {Name: "zoo", Endpoints: eps},
		"b": {Name: "zoo", Endpoints: eps},
	}, map[string]string{"zoo-getOwner": "other"})
	require.NoError(t, err)

	// Every final name is unique; the first claimant wins.
	assert.Equal(t, 1, agg.Count())
	assert.Equal(t, "zoo-listPets", agg.Tools["a"][0].Name)
	assert.Empty(t, agg.Tools["b"])

	require.Len(t, agg.Failures, 4)
	reasons := map[string]int{}
	for _, f := range agg.Failures {
		reasons[f.ApiID]++
	}
	assert.Equal(t, map[string]int{"a": 2, "b": 2}, reasons)
	for _, tool := range agg.Tools["a"] {
		assert.Equal(t, "ZOO_API_BASE_URL", tool.SecurityScheme.BaseURLEnvVar)
		assert.Nil(t, tool.SecurityScheme.Schema)
	}
}

func TestGenerateToolsUseCase_MissingApiIsAnError(t *testing.T) {
	extractor := new(MockToolExtractor)
	uc := usecase.NewGenerateToolsUseCase(newApiRepo(t), extractor, newTestLogger())
	_, err := uc.Execute(context.Background(), map[string]*domain.ApiGroup{
		"ghost": {Name: "ghost", Endpoints: []domain.Endpoint{{Path: "/", Method: "GET"}}},
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, usecase.ErrApiNotFound)
	extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)
}

func TestSecuritySchemeFor(t *testing.T) {
	tests := []struct {
		name  string
		group string
		auth  domain.Auth
		want  *domain.SecurityScheme
	}{
		{
			name:  "no auth",
			group: "Pet Store",
			auth:  domain.Auth{Type: domain.AuthNone},
			want:  &domain.SecurityScheme{BaseURLEnvVar: "PET_STORE_API_BASE_URL"},
		},
		{
			name:  "bearer token",
			group: "billing",
			auth:  domain.Auth{Type: domain.AuthBearerToken},
			want: &domain.SecurityScheme{
				BaseURLEnvVar: "BILLING_API_BASE_URL",
				Schema:        &domain.SecurityVariant{Type: domain.AuthBearerToken, TokenEnvVar: "BILLING_BEARER_TOKEN"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, usecase.SecuritySchemeFor(tt.group, tt.auth))
		})
	}
}

func TestApplyGroup_KeepsGroupNameVerbatim(t *testing.T) {
	tool := usecase.ApplyGroup(extracted("getPetById", "GET", "/pets/{id}", "pets"), "PetStore", nil)
	assert.Equal(t, "PetStore-getPetById", tool.Name)
	assert.Equal(t, []string{"pet-store-pets"}, tool.Tags)
	assert.Nil(t, tool.SecurityScheme)

	assert.Equal(t, "Pet Store-listPets", usecase.GroupToolName("Pet Store", "listPets"))
}
