package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i2y/mcpforge/internal/domain"
)

// ImportApiUseCase loads OpenAPI documents and stores them as API records.
type ImportApiUseCase struct {
	fetcher SchemaFetcher
	repo    ApiRepository
	logger  *slog.Logger
}

// NewImportApiUseCase creates a new ImportApiUseCase.
func NewImportApiUseCase(fetcher SchemaFetcher, repo ApiRepository, logger *slog.Logger) *ImportApiUseCase {
	return &ImportApiUseCase{
		fetcher: fetcher,
		repo:    repo,
		logger:  logger.With("usecase", "ImportApi"),
	}
}

// Execute fetches one document and persists it. It returns the stored record.
func (uc *ImportApiUseCase) Execute(ctx context.Context, source SchemaSourceConfig) (domain.ApiRecord, error) {
	ctx, span := tracer.Start(ctx, "ImportApi")
	defer span.End()

	log := uc.logger.With(slog.String("source", source.URL))
	log.Info("Importing api document")

	api, err := uc.fetcher.FetchWithConfig(ctx, source)
	if err != nil {
		span.RecordError(err)
		log.Error("Failed to fetch api document", slog.Any("error", err))
		return domain.ApiRecord{}, fmt.Errorf("failed to fetch api document from %s: %w", source.URL, err)
	}
	if err := uc.repo.SaveApi(ctx, api); err != nil {
		log.Error("Failed to save api document", slog.Any("error", err))
		return domain.ApiRecord{}, fmt.Errorf("failed to save api %s: %w", api.ID, err)
	}
	log.Info("Imported api document", slog.String("api_id", api.ID), slog.String("name", api.Name))
	return api, nil
}

// ExecuteAll imports every source and keeps going past failures. It
// returns the imported records and one error per failed source.
func (uc *ImportApiUseCase) ExecuteAll(ctx context.Context, sources []SchemaSourceConfig) ([]domain.ApiRecord, []error) {
	var (
		imported []domain.ApiRecord
		errs     []error
	)
	for _, src := range sources {
		api, err := uc.Execute(ctx, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		imported = append(imported, api)
	}
	return imported, errs
}

// List returns every stored API record.
func (uc *ImportApiUseCase) List(ctx context.Context) ([]domain.ApiRecord, error) {
	return uc.repo.ListApis(ctx)
}
