/**
 * @description
 * This file implements the product catalog on PostgreSQL: the admin-maintained
 * mapping from external (provider) product ids to internal product ids.
 * Snapshot returns the whole mapping so a reconciliation pass resolves every
 * line item against one consistent catalog state.
 */
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogRepository handles database operations for catalog mappings.
type CatalogRepository struct {
	db *pgxpool.Pool
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Snapshot returns the full external → internal product mapping.
func (r *CatalogRepository) Snapshot(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT external_product_id, internal_product_id FROM catalog_mappings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog mappings: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]int)
	for rows.Next() {
		var extID string
		var internalID int
		if err := rows.Scan(&extID, &internalID); err != nil {
			return nil, fmt.Errorf("failed to scan catalog mapping: %w", err)
		}
		snapshot[extID] = internalID
	}
	return snapshot, rows.Err()
}

// UpsertMapping creates or replaces one catalog mapping.
func (r *CatalogRepository) UpsertMapping(ctx context.Context, externalProductID string, internalProductID int) error {
	query := `
        INSERT INTO catalog_mappings (external_product_id, internal_product_id)
        VALUES ($1, $2)
        ON CONFLICT (external_product_id) DO UPDATE SET internal_product_id = EXCLUDED.internal_product_id
    `
	if _, err := r.db.Exec(ctx, query, externalProductID, internalProductID); err != nil {
		return fmt.Errorf("failed to upsert catalog mapping %s: %w", externalProductID, err)
	}
	return nil
}
