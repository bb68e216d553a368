package memrepo_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/internal/adapter/outbound/memrepo"
	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

func newTestRepo(t *testing.T) *memrepo.InMemoryRepository {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return memrepo.NewInMemoryRepository(logger)
}

func TestInMemoryRepository_Apis(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveApi(ctx, domain.ApiRecord{ID: "b", Name: "B"}))
	require.NoError(t, repo.SaveApi(ctx, domain.ApiRecord{ID: "a", Name: "A"}))
	assert.Error(t, repo.SaveApi(ctx, domain.ApiRecord{Name: "no id"}))

	api, err := repo.GetApiByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A", api.Name)

	_, err = repo.GetApiByID(ctx, "missing")
	assert.ErrorIs(t, err, usecase.ErrApiNotFound)

	list, err := repo.ListApis(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
}

func TestInMemoryRepository_McpVersioning(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	mcp := &domain.McpData{ID: "m1", Name: "demo"}
	require.NoError(t, repo.CreateMcp(ctx, mcp))
	assert.Equal(t, int64(1), mcp.Version)
	assert.Error(t, repo.CreateMcp(ctx, &domain.McpData{ID: "m1"}))

	first, err := repo.GetMcpByID(ctx, "m1")
	require.NoError(t, err)
	second, err := repo.GetMcpByID(ctx, "m1")
	require.NoError(t, err)

	first.Name = "renamed"
	require.NoError(t, repo.UpdateMcp(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Name = "stale"
	assert.ErrorIs(t, repo.UpdateMcp(ctx, second), usecase.ErrVersionConflict)

	got, err := repo.GetMcpByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	// Returned records are copies.
	got.Name = "mutated"
	again, err := repo.GetMcpByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", again.Name)

	require.NoError(t, repo.DeleteMcp(ctx, "m1"))
	_, err = repo.GetMcpByID(ctx, "m1")
	assert.ErrorIs(t, err, usecase.ErrMcpNotFound)
	assert.ErrorIs(t, repo.UpdateMcp(ctx, got), usecase.ErrMcpNotFound)
}

func TestInMemoryRepository_Overrides(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	overrides, err := repo.GetOverrides(ctx, "ext")
	require.NoError(t, err)
	assert.Empty(t, overrides)

	require.NoError(t, repo.SaveOverride(ctx, "ext", domain.ToolTransform{OriginalName: "search", Name: "find"}))
	assert.Error(t, repo.SaveOverride(ctx, "ext", domain.ToolTransform{Name: "nameless"}))

	overrides, err = repo.GetOverrides(ctx, "ext")
	require.NoError(t, err)
	assert.Equal(t, "find", overrides["search"].Name)

	require.NoError(t, repo.DeleteOverride(ctx, "ext", "search"))
	assert.ErrorIs(t, repo.DeleteOverride(ctx, "ext", "search"), usecase.ErrOverrideNotFound)
}

func TestKeyedLocker(t *testing.T) {
	locker := memrepo.NewKeyedLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "m1")
	require.NoError(t, err)

	// A different key is independent.
	other, err := locker.Lock(ctx, "m2")
	require.NoError(t, err)
	other()

	// The same key waits until the context expires.
	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(timeout, "m1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := locker.Lock(ctx, "m1")
	require.NoError(t, err)
	again()
}

func TestKeyedLocker_SerializesCriticalSections(t *testing.T) {
	locker := memrepo.NewKeyedLocker()
	ctx := context.Background()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "shared")
			if err != nil {
				return
			}
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
