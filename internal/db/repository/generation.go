package repository

import (
	"context"
	"fmt"

	"github.com/cozy-creator/genjobs/internal/db/models"
	"github.com/uptrace/bun"
)

type IGenerationRepository interface {
	Repository[models.Generation]
	List(ctx context.Context, limit, offset int) ([]models.Generation, error)
	ListByInputHash(ctx context.Context, hash string) ([]models.Generation, error)
}

type GenerationRepository struct {
	db bun.IDB
}

func NewGenerationRepository(db *bun.DB) IGenerationRepository {
	return &GenerationRepository{db: db}
}

// Upsert inserts the generation or overwrites the mutable columns of an
// existing row with the same id.
func (r *GenerationRepository) Upsert(ctx context.Context, generation *models.Generation) (*models.Generation, error) {
	if generation == nil {
		return nil, fmt.Errorf("generation model is nil")
	}

	_, err := r.db.NewInsert().
		Model(generation).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("result = EXCLUDED.result").
		Set("error_kind = EXCLUDED.error_kind").
		Set("started_at = EXCLUDED.started_at").
		Set("completed_at = EXCLUDED.completed_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return generation, nil
}

func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*models.Generation, error) {
	var generation models.Generation
	if err := r.db.NewSelect().Model(&generation).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}

	return &generation, nil
}

// List returns generations newest first.
func (r *GenerationRepository) List(ctx context.Context, limit, offset int) ([]models.Generation, error) {
	generations := []models.Generation{}
	if err := r.db.NewSelect().
		Model(&generations).
		Order("created_at DESC", "id").
		Limit(limit).
		Offset(offset).
		Scan(ctx); err != nil {
		return nil, err
	}

	return generations, nil
}

func (r *GenerationRepository) ListByInputHash(ctx context.Context, hash string) ([]models.Generation, error) {
	generations := []models.Generation{}
	if err := r.db.NewSelect().
		Model(&generations).
		Where("input_hash = ?", hash).
		Order("created_at DESC").
		Scan(ctx); err != nil {
		return nil, err
	}

	return generations, nil
}

func (r *GenerationRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().Model((*models.Generation)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}
