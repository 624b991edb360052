/**
 * @description
 * This file contains the core service for the access reconciliation engine. The
 * Service merges lifecycle events arriving from three independent paths (live
 * checkout completion, provider webhooks, operator backfill sync) into one
 * consistent per-user/per-product access window, and answers access queries
 * from that merged state.
 *
 * Key design rules enforced here:
 * - Provider fetches happen before any lock is taken; only the final
 *   read-merge-write on a purchase runs under the per-user mutex.
 * - All writes go through persistPurchaseState so dry runs share the exact
 *   decision path and branch only at the write boundary.
 *
 * @dependencies
 * - internal/domain: canonical event, scope key, and access state types.
 * - pkg/stripeclient: payment provider payload types.
 * - pkg/userclient: user directory collaborator.
 */
package app

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/memberly/access-service/internal/domain"
	"github.com/memberly/access-service/pkg/stripeclient"
	"github.com/memberly/access-service/pkg/userclient"
)

// Repository defines the purchase-store operations the service needs.
type Repository interface {
	GetPurchaseBySessionID(ctx context.Context, sessionID string) (*domain.PurchaseRecord, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]*domain.PurchaseRecord, error)
	ListPurchasesBySubscriptionID(ctx context.Context, subscriptionID string) ([]*domain.PurchaseRecord, error)
	ListPurchasesWithScope(ctx context.Context, scope domain.ScopeKey) ([]*domain.PurchaseRecord, error)
	CreatePurchase(ctx context.Context, purchase *domain.PurchaseRecord) error
	UpdatePurchaseState(ctx context.Context, id uuid.UUID, productIDs []string, states domain.AccessStateMap, renewals domain.RenewalMap) error
	FindUserIDByCustomerID(ctx context.Context, customerID string) (string, error)
}

// Catalog resolves external product references against the current mapping
// state. Snapshot returns the full mapping so one reconciliation pass sees a
// single consistent catalog.
type Catalog interface {
	Snapshot(ctx context.Context) (CatalogSnapshot, error)
}

// CatalogSnapshot is a point-in-time view of external → internal product ids.
// Alias so store implementations can return a plain map.
type CatalogSnapshot = map[string]int

// ProviderClient is the payment provider collaborator.
type ProviderClient interface {
	FetchSession(ctx context.Context, id string) (*stripeclient.CheckoutSession, error)
	ListSessions(ctx context.Context, params stripeclient.ListSessionsParams) (*stripeclient.SessionList, error)
	FetchSubscription(ctx context.Context, id string) (*stripeclient.Subscription, error)
	ListInvoices(ctx context.Context, subscriptionID string) ([]stripeclient.Invoice, error)
}

// UserDirectory is the user store collaborator. FindByEmail returns nil when
// no user exists for the address.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*userclient.User, error)
	CreateUser(ctx context.Context, email, name string) (*userclient.User, error)
}

// Publisher is the notification hook consumed by the email/UI layer.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

const notificationExchange = "access_events"

// AccessNotification is published on purchase creation/update and on scope
// migration.
type AccessNotification struct {
	UserID      string   `json:"user_id"`
	PurchaseID  string   `json:"purchase_id"`
	ProductIDs  []int    `json:"product_ids"`
	AccessLinks []string `json:"access_links"`
	Timestamp   int64    `json:"timestamp"`
}

// Service is the access reconciliation engine.
type Service struct {
	repo           Repository
	catalog        Catalog
	provider       ProviderClient
	users          UserDirectory
	publisher      Publisher
	locks          *keyedMutex
	accessLinkBase string
	now            func() time.Time
}

// NewService creates the reconciliation service. publisher may be nil when the
// broker is unavailable; notifications are then skipped with a warning.
func NewService(repo Repository, catalog Catalog, provider ProviderClient, users UserDirectory, publisher Publisher, accessLinkBase string) *Service {
	return &Service{
		repo:           repo,
		catalog:        catalog,
		provider:       provider,
		users:          users,
		publisher:      publisher,
		locks:          newKeyedMutex(),
		accessLinkBase: accessLinkBase,
		now:            time.Now,
	}
}

// persistPurchaseState is the single write boundary for merged state. Dry runs
// stop here; everything before it is identical between modes.
func (s *Service) persistPurchaseState(ctx context.Context, purchase *domain.PurchaseRecord, dryRun bool) error {
	if dryRun {
		return nil
	}
	return s.repo.UpdatePurchaseState(ctx, purchase.ID, purchase.ProductIDs, purchase.AccessStates, purchase.Renewals)
}

// notifyAccess fires the notification hook. Failures are logged, not fatal:
// access state is already persisted and the hook is best-effort.
func (s *Service) notifyAccess(ctx context.Context, routingKey string, purchase *domain.PurchaseRecord, productIDs []int, dryRun bool) {
	if dryRun || s.publisher == nil {
		return
	}
	links := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		links = append(links, accessLink(s.accessLinkBase, id))
	}
	notification := AccessNotification{
		UserID:      purchase.UserID,
		PurchaseID:  purchase.ID.String(),
		ProductIDs:  productIDs,
		AccessLinks: links,
		Timestamp:   s.now().Unix(),
	}
	if err := s.publisher.Publish(ctx, notificationExchange, routingKey, notification); err != nil {
		log.Printf("level=warn component=service msg=\"notification publish failed\" routing_key=%s purchase_id=%s err=%v", routingKey, purchase.ID, err)
	}
}

func accessLink(base string, productID int) string {
	if base == "" {
		return ""
	}
	return base + "/products/" + strconv.Itoa(productID)
}
