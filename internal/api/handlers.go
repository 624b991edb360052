/**
 * @description
 * This file contains the HTTP handler functions for the access service.
 * Handlers parse incoming requests, call the reconciliation service, and write
 * the HTTP response. Operator endpoints (sync, catalog mapping) live behind the
 * internal-key middleware; user endpoints behind bearer auth.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/memberly/access-service/internal/app"
	"github.com/memberly/access-service/internal/store"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
	catalog *store.CatalogRepository
}

// NewHandler creates a new Handler with the given collaborators.
func NewHandler(service *app.Service, catalog *store.CatalogRepository) *Handler {
	return &Handler{service: service, catalog: catalog}
}

// handleCompleteCheckout reconciles a finished checkout session for the
// authenticated user. Idempotent; replays return the already-linked purchase.
func (h *Handler) handleCompleteCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		respondWithError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	purchase, err := h.service.CompleteCheckout(r.Context(), userID, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotCompleted):
			respondWithError(w, http.StatusConflict, "checkout session is not completed")
		case errors.Is(err, app.ErrUnknownBuyer):
			respondWithError(w, http.StatusUnprocessableEntity, "session carries no buyer identity")
		default:
			log.Printf("level=error component=api msg=\"checkout completion failed\" session_id=%s err=%v", req.SessionID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to reconcile checkout session")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, purchase)
}

// handleAccessQuery answers whether the authenticated user currently holds
// access to a product.
func (h *Handler) handleAccessQuery(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	productID, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "product id must be an integer")
		return
	}

	active, err := h.service.HasActiveAccess(r.Context(), userID, productID)
	if err != nil {
		log.Printf("level=error component=api msg=\"access query failed\" user_id=%s product_id=%d err=%v", userID, productID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to evaluate access")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"product_id": productID,
		"active":     active,
	})
}

// handleListPurchases renders the authenticated user's purchase history as
// display lines grouped by purchase.
func (h *Handler) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	lines, err := h.service.ListPurchaseLines(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api msg=\"purchase listing failed\" user_id=%s err=%v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to list purchases")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"purchases": lines})
}

// handleRunSync triggers a backfill run over historical sessions and returns
// the full per-session report.
func (h *Handler) handleRunSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UpdateExisting bool  `json:"update_existing"`
		DryRun         bool  `json:"dry_run"`
		Limit          int   `json:"limit"`
		CreatedSince   int64 `json:"created_since"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	report, err := h.service.RunSync(r.Context(), app.SyncOptions{
		UpdateExisting: req.UpdateExisting,
		DryRun:         req.DryRun,
		Limit:          req.Limit,
		CreatedSince:   req.CreatedSince,
	})
	if err != nil {
		log.Printf("level=error component=api msg=\"sync run failed\" err=%v", err)
		// The report still carries the outcomes gathered before the failure.
		respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  "sync run aborted",
			"report": report,
		})
		return
	}

	respondWithJSON(w, http.StatusOK, report)
}

// handleUpsertMapping stores an external → internal product mapping and
// migrates existing purchases recorded under the unmapped scope.
func (h *Handler) handleUpsertMapping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalProductID string `json:"external_product_id"`
		InternalProductID int    `json:"internal_product_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalProductID == "" || req.InternalProductID <= 0 {
		respondWithError(w, http.StatusBadRequest, "external_product_id and a positive internal_product_id are required")
		return
	}

	migrated, err := h.service.MapProduct(r.Context(), h.catalog, req.ExternalProductID, req.InternalProductID)
	if err != nil {
		log.Printf("level=error component=api msg=\"catalog mapping failed\" external_product_id=%s err=%v", req.ExternalProductID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to store catalog mapping")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"external_product_id": req.ExternalProductID,
		"internal_product_id": req.InternalProductID,
		"migrated_purchases":  migrated,
	})
}

// respondWithJSON is a helper to marshal a payload to JSON and write it to the
// response writer.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError is a helper for writing a JSON error message.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
