// Package gormrepo persists APIs, MCP records and external tool overrides
// in a SQL database through gorm.
package gormrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

// DocumentParser rebuilds the parsed form of a stored API document.
type DocumentParser interface {
	Parse(ctx context.Context, raw []byte) (domain.ApiRecord, error)
}

// Repository implements the API, MCP and override repositories on gorm.
type Repository struct {
	db     *gorm.DB
	parser DocumentParser
	logger *slog.Logger

	// parsed caches ParsedData by api id.
	parsed sync.Map
}

// New creates a Repository and migrates its tables.
func New(db *gorm.DB, parser DocumentParser, logger *slog.Logger) (*Repository, error) {
	if err := db.AutoMigrate(&apiModel{}, &mcpModel{}, &overrideModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Repository{
		db:     db,
		parser: parser,
		logger: logger.With("component", "gorm_repo"),
	}, nil
}

// SaveApi stores or replaces an API record. ParsedData is cached in memory
// and rebuilt from RawData after a restart.
func (r *Repository) SaveApi(ctx context.Context, api domain.ApiRecord) error {
	if api.ID == "" {
		return fmt.Errorf("api record has no id")
	}
	m := apiModel{ID: api.ID, Name: api.Name, Source: api.Source, RawData: api.RawData}
	if err := r.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("failed to save api %s: %w", api.ID, err)
	}
	if api.ParsedData != nil {
		r.parsed.Store(api.ID, api.ParsedData)
	} else {
		r.parsed.Delete(api.ID)
	}
	return nil
}

// GetApiByID returns the API record with the given id.
func (r *Repository) GetApiByID(ctx context.Context, id string) (domain.ApiRecord, error) {
	var m apiModel
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ApiRecord{}, fmt.Errorf("%w: %s", usecase.ErrApiNotFound, id)
	}
	if err != nil {
		return domain.ApiRecord{}, fmt.Errorf("failed to load api %s: %w", id, err)
	}
	return r.toRecord(ctx, m)
}

// ListApis returns every API record ordered by id.
func (r *Repository) ListApis(ctx context.Context) ([]domain.ApiRecord, error) {
	var models []apiModel
	if err := r.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list apis: %w", err)
	}
	out := make([]domain.ApiRecord, 0, len(models))
	for _, m := range models {
		rec, err := r.toRecord(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Repository) toRecord(ctx context.Context, m apiModel) (domain.ApiRecord, error) {
	rec := domain.ApiRecord{ID: m.ID, Name: m.Name, Source: m.Source, RawData: m.RawData}
	if cached, ok := r.parsed.Load(m.ID); ok {
		rec.ParsedData = cached
		return rec, nil
	}
	if r.parser == nil || len(m.RawData) == 0 {
		return rec, nil
	}
	parsed, err := r.parser.Parse(ctx, m.RawData)
	if err != nil {
		return domain.ApiRecord{}, fmt.Errorf("failed to parse stored api %s: %w", m.ID, err)
	}
	rec.ParsedData = parsed.ParsedData
	r.parsed.Store(m.ID, parsed.ParsedData)
	return rec, nil
}

// CreateMcp stores a new MCP record at version 1.
func (r *Repository) CreateMcp(ctx context.Context, mcp *domain.McpData) error {
	m, err := toMcpModel(mcp)
	if err != nil {
		return err
	}
	m.Version = 1
	m.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to create mcp %s: %w", mcp.ID, err)
	}
	mcp.Version = m.Version
	mcp.UpdatedAt = m.UpdatedAt
	return nil
}

// GetMcpByID returns the MCP record with the given id.
func (r *Repository) GetMcpByID(ctx context.Context, id string) (*domain.McpData, error) {
	var m mcpModel
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", usecase.ErrMcpNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mcp %s: %w", id, err)
	}
	return fromMcpModel(m)
}

// UpdateMcp writes mcp if its Version is still current, in a single
// conditional UPDATE, and bumps the version on success.
func (r *Repository) UpdateMcp(ctx context.Context, mcp *domain.McpData) error {
	m, err := toMcpModel(mcp)
	if err != nil {
		return err
	}
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&mcpModel{}).
		Where("id = ? AND version = ?", mcp.ID, mcp.Version).
		Updates(map[string]any{
			"name":       m.Name,
			"transport":  m.Transport,
			"port":       m.Port,
			"api_groups": m.ApiGroups,
			"version":    mcp.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update mcp %s: %w", mcp.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&mcpModel{}).Where("id = ?", mcp.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to update mcp %s: %w", mcp.ID, err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", usecase.ErrMcpNotFound, mcp.ID)
		}
		r.logger.Warn("Rejected stale mcp write", slog.String("mcp_id", mcp.ID), slog.Int64("write_version", mcp.Version))
		return usecase.ErrVersionConflict
	}
	mcp.Version++
	mcp.UpdatedAt = now
	return nil
}

// DeleteMcp removes the MCP record.
func (r *Repository) DeleteMcp(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&mcpModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete mcp %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", usecase.ErrMcpNotFound, id)
	}
	return nil
}

// ListMcps returns every MCP record ordered by id.
func (r *Repository) ListMcps(ctx context.Context) ([]*domain.McpData, error) {
	var models []mcpModel
	if err := r.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list mcps: %w", err)
	}
	out := make([]*domain.McpData, 0, len(models))
	for _, m := range models {
		mcp, err := fromMcpModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, mcp)
	}
	return out, nil
}

// GetOverrides returns the overrides of one external server keyed by
// original tool name.
func (r *Repository) GetOverrides(ctx context.Context, serverID string) (map[string]domain.ToolTransform, error) {
	var models []overrideModel
	if err := r.db.WithContext(ctx).Where("server_id = ?", serverID).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to load overrides for %s: %w", serverID, err)
	}
	out := make(map[string]domain.ToolTransform, len(models))
	for _, m := range models {
		var t domain.ToolTransform
		if err := json.Unmarshal(m.Transform, &t); err != nil {
			return nil, fmt.Errorf("failed to decode override %s/%s: %w", serverID, m.ToolName, err)
		}
		out[m.ToolName] = t
	}
	return out, nil
}

// SaveOverride upserts the override of override.OriginalName.
func (r *Repository) SaveOverride(ctx context.Context, serverID string, override domain.ToolTransform) error {
	if override.OriginalName == "" {
		return fmt.Errorf("override has no original tool name")
	}
	raw, err := json.Marshal(override)
	if err != nil {
		return fmt.Errorf("failed to encode override: %w", err)
	}
	m := overrideModel{ServerID: serverID, ToolName: override.OriginalName, Transform: raw, UpdatedAt: time.Now()}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}, {Name: "tool_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"transform", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save override %s/%s: %w", serverID, override.OriginalName, err)
	}
	return nil
}

// DeleteOverride removes the override of toolName.
func (r *Repository) DeleteOverride(ctx context.Context, serverID, toolName string) error {
	res := r.db.WithContext(ctx).Delete(&overrideModel{}, "server_id = ? AND tool_name = ?", serverID, toolName)
	if res.Error != nil {
		return fmt.Errorf("failed to delete override %s/%s: %w", serverID, toolName, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", usecase.ErrOverrideNotFound, serverID, toolName)
	}
	return nil
}

func toMcpModel(mcp *domain.McpData) (mcpModel, error) {
	groups := mcp.ApiGroups
	if groups == nil {
		groups = map[string]*domain.ApiGroup{}
	}
	raw, err := json.Marshal(groups)
	if err != nil {
		return mcpModel{}, fmt.Errorf("failed to encode api groups of mcp %s: %w", mcp.ID, err)
	}
	return mcpModel{
		ID:        mcp.ID,
		Name:      mcp.Name,
		Transport: string(mcp.Transport),
		Port:      mcp.Port,
		ApiGroups: raw,
		Version:   mcp.Version,
		UpdatedAt: mcp.UpdatedAt,
	}, nil
}

func fromMcpModel(m mcpModel) (*domain.McpData, error) {
	mcp := &domain.McpData{
		ID:        m.ID,
		Name:      m.Name,
		Transport: domain.TransportType(m.Transport),
		Port:      m.Port,
		ApiGroups: map[string]*domain.ApiGroup{},
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}
	if len(m.ApiGroups) > 0 {
		if err := json.Unmarshal(m.ApiGroups, &mcp.ApiGroups); err != nil {
			return nil, fmt.Errorf("failed to decode api groups of mcp %s: %w", m.ID, err)
		}
	}
	return mcp, nil
}
