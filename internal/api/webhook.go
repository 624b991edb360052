/**
 * @description
 * This file contains the webhook handler for the payment provider. The handler
 * verifies the signature over the raw body, deduplicates deliveries by event
 * id, and hands the event to the reconciliation service.
 *
 * Response contract:
 * - 400 when the signature is invalid or the payload is malformed. The
 *   provider will not retry these.
 * - 500 when processing fails. The provider retries the delivery.
 * - 200 in every other case, including event types the service ignores.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: delivery deduplication.
 * - pkg/stripeclient: signature verification and event envelope.
 */
package api

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memberly/access-service/pkg/stripeclient"
)

const (
	// Invoice events with expanded line data run well past 64KiB.
	webhookMaxBodyBytes = 1 << 20
	webhookDedupTTL     = 24 * time.Hour
	webhookDedupPrefix  = "access:webhook:"
)

// WebhookHandler processes signed provider event deliveries.
type WebhookHandler struct {
	service    WebhookProcessor
	secret     string
	deliveries deliveryStore
	tolerance  time.Duration
}

// WebhookProcessor is the reconciliation entry point for provider events.
type WebhookProcessor interface {
	ProcessWebhookEvent(ctx context.Context, event stripeclient.Event) (bool, error)
}

// deliveryStore tracks which event ids have already been processed.
type deliveryStore interface {
	// MarkDelivered marks the event id as seen and reports whether it was
	// seen before.
	MarkDelivered(ctx context.Context, eventID string) bool
	// Forget clears the marker so a retried delivery is processed again.
	Forget(ctx context.Context, eventID string)
}

// NewWebhookHandler creates the webhook handler. redisClient may be nil;
// deduplication is then skipped and replays rely on idempotent merging.
func NewWebhookHandler(service WebhookProcessor, secret string, redisClient *redis.Client) *WebhookHandler {
	handler := &WebhookHandler{
		service:   service,
		secret:    secret,
		tolerance: stripeclient.DefaultTolerance,
	}
	if redisClient != nil {
		handler.deliveries = &redisDeliveryStore{client: redisClient}
	}
	return handler
}

// ServeHTTP implements the delivery contract described in the file header.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhookMaxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	event, err := stripeclient.ConstructWebhookEvent(payload, r.Header.Get("Stripe-Signature"), h.secret, h.tolerance)
	if err != nil {
		log.Printf("level=warn component=webhook msg=\"rejected delivery\" err=%v", err)
		http.Error(w, "Invalid signature or payload", http.StatusBadRequest)
		return
	}

	if h.markDelivered(r, event.ID) {
		log.Printf("level=info component=webhook msg=\"duplicate delivery skipped\" event_id=%s type=%s", event.ID, event.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	// The marker must not survive a failed or panicked delivery: the
	// provider's retry would be answered 200 and the event lost until the
	// marker expired.
	completed := false
	defer func() {
		if !completed {
			h.forgetDelivery(r, event.ID)
		}
	}()

	handled, err := h.service.ProcessWebhookEvent(r.Context(), event)
	if err != nil {
		log.Printf("level=error component=webhook msg=\"event processing failed\" event_id=%s type=%s err=%v", event.ID, event.Type, err)
		http.Error(w, "Event processing failed", http.StatusInternalServerError)
		return
	}
	if !handled {
		log.Printf("level=info component=webhook msg=\"ignored event type\" event_id=%s type=%s", event.ID, event.Type)
	}

	completed = true
	w.WriteHeader(http.StatusOK)
}

// markDelivered marks the event id as seen and reports whether it was seen
// before. A missing store or empty id counts as first delivery.
func (h *WebhookHandler) markDelivered(r *http.Request, eventID string) bool {
	if h.deliveries == nil || eventID == "" {
		return false
	}
	return h.deliveries.MarkDelivered(r.Context(), eventID)
}

func (h *WebhookHandler) forgetDelivery(r *http.Request, eventID string) {
	if h.deliveries == nil || eventID == "" {
		return
	}
	h.deliveries.Forget(r.Context(), eventID)
}

// redisDeliveryStore deduplicates deliveries via SetNX with a TTL. Redis
// failures count as first delivery.
type redisDeliveryStore struct {
	client *redis.Client
}

func (s *redisDeliveryStore) MarkDelivered(ctx context.Context, eventID string) bool {
	set, err := s.client.SetNX(ctx, webhookDedupPrefix+eventID, 1, webhookDedupTTL).Result()
	if err != nil {
		log.Printf("level=warn component=webhook msg=\"dedup check failed\" event_id=%s err=%v", eventID, err)
		return false
	}
	return !set
}

func (s *redisDeliveryStore) Forget(ctx context.Context, eventID string) {
	if err := s.client.Del(ctx, webhookDedupPrefix+eventID).Err(); err != nil {
		log.Printf("level=warn component=webhook msg=\"dedup clear failed\" event_id=%s err=%v", eventID, err)
	}
}
