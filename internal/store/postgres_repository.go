/**
 * @description
 * This file implements the purchase store on PostgreSQL. Purchases are rows
 * with jsonb metadata columns for the normalized line items, the per-scope
 * access state map, and the per-scope renewal ledger; the raw provider
 * snapshot is stored for audit and never reparsed.
 *
 * The customer index (provider customer id → user id) is maintained in the
 * same transaction as purchase creation, so webhook-time reverse lookups are
 * a primary-key read instead of a scan over purchase metadata.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/memberly/access-service/internal/domain"
)

// PostgresRepository handles database operations for purchases.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const purchaseColumns = `
    id, user_id, external_session_id, external_customer_id, subscription_id,
    purchased_at, line_items, raw_snapshot, product_ids, period_end_map,
    renewals, created_at, updated_at
`

// CreatePurchase inserts a purchase and updates the customer index in one
// transaction. A concurrent insert for the same session surfaces as
// ErrDuplicateSession.
func (r *PostgresRepository) CreatePurchase(ctx context.Context, p *domain.PurchaseRecord) error {
	lineItems, err := json.Marshal(p.LineItems)
	if err != nil {
		return fmt.Errorf("failed to marshal line items: %w", err)
	}
	productIDs, err := json.Marshal(p.ProductIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal product ids: %w", err)
	}
	states, err := json.Marshal(p.AccessStates)
	if err != nil {
		return fmt.Errorf("failed to marshal access states: %w", err)
	}
	renewals, err := json.Marshal(p.Renewals)
	if err != nil {
		return fmt.Errorf("failed to marshal renewals: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO purchases (
            id, user_id, external_session_id, external_customer_id,
            subscription_id, purchased_at, line_items, raw_snapshot,
            product_ids, period_end_map, renewals, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
    `
	_, err = tx.Exec(ctx, query,
		p.ID, p.UserID, p.ExternalSessionID, nullable(p.ExternalCustomerID),
		nullable(p.SubscriptionID), p.PurchasedAt, lineItems, p.RawSnapshot,
		productIDs, states, renewals,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateSession
		}
		return fmt.Errorf("failed to insert purchase: %w", err)
	}

	if p.ExternalCustomerID != "" {
		indexQuery := `
            INSERT INTO customer_index (customer_id, user_id)
            VALUES ($1, $2)
            ON CONFLICT (customer_id) DO UPDATE SET user_id = EXCLUDED.user_id
        `
		if _, err := tx.Exec(ctx, indexQuery, p.ExternalCustomerID, p.UserID); err != nil {
			return fmt.Errorf("failed to update customer index: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetPurchaseBySessionID retrieves the purchase linked to an external session.
func (r *PostgresRepository) GetPurchaseBySessionID(ctx context.Context, sessionID string) (*domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE external_session_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, sessionID))
}

// ListPurchasesByUser retrieves all purchases of a user, newest first.
func (r *PostgresRepository) ListPurchasesByUser(ctx context.Context, userID string) ([]*domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = $1 ORDER BY purchased_at DESC, id DESC`
	return r.list(ctx, query, userID)
}

// ListPurchasesBySubscriptionID retrieves the purchases storing a subscription id.
func (r *PostgresRepository) ListPurchasesBySubscriptionID(ctx context.Context, subscriptionID string) ([]*domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE subscription_id = $1`
	return r.list(ctx, query, subscriptionID)
}

// ListPurchasesWithScope retrieves every purchase holding access state under
// the scope. Used by scope migration.
func (r *PostgresRepository) ListPurchasesWithScope(ctx context.Context, scope domain.ScopeKey) ([]*domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE period_end_map ? $1`
	return r.list(ctx, query, scope.String())
}

// UpdatePurchaseState writes the reconciled metadata of one purchase.
func (r *PostgresRepository) UpdatePurchaseState(ctx context.Context, id uuid.UUID, productIDs []string, states domain.AccessStateMap, renewals domain.RenewalMap) error {
	productJSON, err := json.Marshal(productIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal product ids: %w", err)
	}
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("failed to marshal access states: %w", err)
	}
	renewalsJSON, err := json.Marshal(renewals)
	if err != nil {
		return fmt.Errorf("failed to marshal renewals: %w", err)
	}

	query := `
        UPDATE purchases
        SET product_ids = $2, period_end_map = $3, renewals = $4, updated_at = NOW()
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query, id, productJSON, statesJSON, renewalsJSON)
	if err != nil {
		return fmt.Errorf("failed to update purchase %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

// FindUserIDByCustomerID resolves a provider customer id via the index.
func (r *PostgresRepository) FindUserIDByCustomerID(ctx context.Context, customerID string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx, `SELECT user_id FROM customer_index WHERE customer_id = $1`, customerID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrCustomerNotIndexed
		}
		return "", fmt.Errorf("failed to resolve customer %s: %w", customerID, err)
	}
	return userID, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.PurchaseRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*domain.PurchaseRecord
	for rows.Next() {
		purchase, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, purchase)
	}
	return purchases, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanOne(row rowScanner) (*domain.PurchaseRecord, error) {
	var (
		p            domain.PurchaseRecord
		customerID   *string
		subID        *string
		lineItems    []byte
		productIDs   []byte
		statesJSON   []byte
		renewalsJSON []byte
		purchasedAt  time.Time
		created, upd time.Time
	)

	err := row.Scan(
		&p.ID, &p.UserID, &p.ExternalSessionID, &customerID, &subID,
		&purchasedAt, &lineItems, &p.RawSnapshot, &productIDs, &statesJSON,
		&renewalsJSON, &created, &upd,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("failed to scan purchase: %w", err)
	}

	if customerID != nil {
		p.ExternalCustomerID = *customerID
	}
	if subID != nil {
		p.SubscriptionID = *subID
	}
	p.PurchasedAt = purchasedAt
	p.CreatedAt = created
	p.UpdatedAt = upd

	if err := json.Unmarshal(lineItems, &p.LineItems); err != nil {
		return nil, fmt.Errorf("failed to decode line items for purchase %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(productIDs, &p.ProductIDs); err != nil {
		return nil, fmt.Errorf("failed to decode product ids for purchase %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(statesJSON, &p.AccessStates); err != nil {
		return nil, fmt.Errorf("failed to decode access states for purchase %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(renewalsJSON, &p.Renewals); err != nil {
		return nil, fmt.Errorf("failed to decode renewals for purchase %s: %w", p.ID, err)
	}
	return &p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
