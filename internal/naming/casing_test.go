package naming_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/i2y/mcpforge/internal/naming"
)

func TestKebabCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"getUserPosts", "get-user-posts"},
		{"GetUserPosts", "get-user-posts"},
		{"user_id", "user-id"},
		{"Pet Store", "pet-store"},
		{"petstore-pets", "petstore-pets"},
		{"{petId}", "pet-id"},
		{"v2Items", "v2-items"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, naming.KebabCase(tt.in))
		})
	}
}

func TestTitleCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user_id", "UserId"},
		{"{petId}", "PetId"},
		{"users", "Users"},
		{"pet-store", "PetStore"},
		{"userID", "UserId"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, naming.TitleCase(tt.in))
		})
	}
}

func TestSynthesizeOperationID(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"get", "/users/{userId}/posts", "GetUsersPostsByUserId"},
		{"get", "/", "GetRoot"},
		{"GET", "", "GetRoot"},
		{"post", "/pets", "PostPets"},
		{"delete", "/pets/{petId}", "DeletePetsByPetId"},
		{"get", "/orgs/{orgId}/users/{userId}", "GetOrgsUsersByUserId"},
		{"get", "/teams/{orgId}/users/{userId}", "GetTeamsUsersByUserId"},
		{"patch", "/pet_store/items", "PatchPetStoreItems"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			got := naming.SynthesizeOperationID(tt.method, tt.path)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, naming.SynthesizeOperationID(tt.method, tt.path))
		})
	}
}

func TestSynthesizeOperationIDWithParams(t *testing.T) {
	assert.Equal(t, "GetOrgsWithOrgIdUsersByUserId",
		naming.SynthesizeOperationIDWithParams("get", "/orgs/{orgId}/users/{userId}"))
	assert.Equal(t, "GetUsersPostsByUserId",
		naming.SynthesizeOperationIDWithParams("get", "/users/{userId}/posts"))
	assert.Equal(t, "GetRoot", naming.SynthesizeOperationIDWithParams("get", "/"))
}

func TestEnvVarName(t *testing.T) {
	assert.Equal(t, "PETSTORE_API_BASE_URL", naming.EnvVarName("petstore", "API_BASE_URL"))
	assert.Equal(t, "PET_STORE_API_KEY", naming.EnvVarName("Pet Store", "API_KEY"))
	assert.Equal(t, "MY_API_V2_BEARER_TOKEN", naming.EnvVarName("my-api.v2", "BEARER_TOKEN"))
}
