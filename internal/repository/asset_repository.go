package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"genboard/engine/internal/models"
)

var ErrAssetNotFound = errors.New("asset not found")

type AssetRepository struct {
	pool *pgxpool.Pool
}

func NewAssetRepository(pool *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{pool: pool}
}

func (r *AssetRepository) Upsert(ctx context.Context, asset models.Asset) error {
	const query = `
		INSERT INTO assets (
			id, owner_id, job_id, type, status, quality, storage_ref, thumb_ref,
			model_meta, prompt, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			storage_ref = EXCLUDED.storage_ref,
			thumb_ref = EXCLUDED.thumb_ref,
			model_meta = EXCLUDED.model_meta,
			updated_at = NOW()
	`

	meta, err := json.Marshal(asset.ModelMeta)
	if err != nil {
		return fmt.Errorf("marshal model meta: %w", err)
	}

	_, err = r.pool.Exec(ctx, query,
		asset.ID,
		asset.OwnerID,
		asset.JobID,
		asset.Type,
		asset.Status,
		asset.Quality,
		asset.StorageRef,
		asset.ThumbRef,
		meta,
		asset.Prompt,
	)
	return err
}

func (r *AssetRepository) GetByID(ctx context.Context, id string) (models.Asset, error) {
	const query = `
		SELECT id, owner_id, job_id, type, status, quality, storage_ref, thumb_ref,
		       model_meta, prompt, created_at, updated_at
		FROM assets WHERE id = $1
	`

	row := r.pool.QueryRow(ctx, query, id)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Asset{}, ErrAssetNotFound
		}
		return models.Asset{}, err
	}
	return asset, nil
}

func (r *AssetRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const query = `
		SELECT id, owner_id, job_id, type, status, quality, storage_ref, thumb_ref,
		       model_meta, prompt, created_at, updated_at
		FROM assets WHERE id = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (r *AssetRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM assets WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func scanAsset(row pgx.Row) (models.Asset, error) {
	var asset models.Asset
	var meta []byte
	if err := row.Scan(
		&asset.ID,
		&asset.OwnerID,
		&asset.JobID,
		&asset.Type,
		&asset.Status,
		&asset.Quality,
		&asset.StorageRef,
		&asset.ThumbRef,
		&meta,
		&asset.Prompt,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	); err != nil {
		return models.Asset{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &asset.ModelMeta); err != nil {
			return models.Asset{}, fmt.Errorf("unmarshal model meta: %w", err)
		}
	}
	return asset, nil
}
