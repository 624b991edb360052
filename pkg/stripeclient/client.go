/**
 * @description
 * This package provides a client for the Stripe REST API surface the access
 * engine consumes. It encapsulates authenticated requests, response decoding,
 * pagination parameters, and error mapping.
 *
 * The client owns the round-trip timeout; callers own retry policy. All
 * methods take a context and must be called outside any mutual-exclusion
 * window held by the reconciliation engine.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, time: Standard Go libraries.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a client for the Stripe API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Stripe API client.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error payload from the Stripe API.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("stripe api error (%d %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("stripe api error (status %d)", e.StatusCode)
}

// ListSessionsParams controls session listing pagination and filtering.
type ListSessionsParams struct {
	Limit         int
	StartingAfter string
	CreatedGTE    int64
}

// FetchSession retrieves a checkout session with line items and subscription
// expanded. The undecoded body is kept on the returned session for the audit
// snapshot.
func (c *Client) FetchSession(ctx context.Context, id string) (*CheckoutSession, error) {
	query := url.Values{}
	query.Add("expand[]", "line_items")
	query.Add("expand[]", "subscription")

	body, err := c.get(ctx, "/v1/checkout/sessions/"+url.PathEscape(id), query)
	if err != nil {
		return nil, err
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	session.Raw = body
	return &session, nil
}

// ListSessions retrieves one page of checkout sessions, newest first. Each
// element keeps its undecoded body on Raw so backfilled purchases carry the
// same audit snapshot as live fetches.
func (c *Client) ListSessions(ctx context.Context, params ListSessionsParams) (*SessionList, error) {
	query := url.Values{}
	query.Add("expand[]", "data.line_items")
	query.Add("expand[]", "data.subscription")
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.StartingAfter != "" {
		query.Set("starting_after", params.StartingAfter)
	}
	if params.CreatedGTE > 0 {
		query.Set("created[gte]", strconv.FormatInt(params.CreatedGTE, 10))
	}

	body, err := c.get(ctx, "/v1/checkout/sessions", query)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data    []json.RawMessage `json:"data"`
		HasMore bool              `json:"has_more"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode session list: %w", err)
	}

	list := SessionList{
		Data:    make([]CheckoutSession, 0, len(envelope.Data)),
		HasMore: envelope.HasMore,
	}
	for _, raw := range envelope.Data {
		var session CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("failed to decode session list element: %w", err)
		}
		session.Raw = raw
		list.Data = append(list.Data, session)
	}
	return &list, nil
}

// FetchSubscription retrieves a subscription by id.
func (c *Client) FetchSubscription(ctx context.Context, id string) (*Subscription, error) {
	body, err := c.get(ctx, "/v1/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var sub Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription %s: %w", id, err)
	}
	return &sub, nil
}

// ListInvoices retrieves the invoices of a subscription, newest first.
func (c *Client) ListInvoices(ctx context.Context, subscriptionID string) ([]Invoice, error) {
	query := url.Values{}
	query.Set("subscription", subscriptionID)
	query.Set("limit", "100")

	body, err := c.get(ctx, "/v1/invoices", query)
	if err != nil {
		return nil, err
	}

	var list struct {
		Data []Invoice `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode invoice list: %w", err)
	}
	return list.Data, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request for %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Error != nil {
			apiErr.Type = envelope.Error.Type
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		log.Printf("level=warn component=stripe_client path=%s status=%d type=%q msg=%q", path, resp.StatusCode, apiErr.Type, apiErr.Message)
		return nil, apiErr
	}

	return body, nil
}
