/**
 * @description
 * This file implements webhook signature verification for the Stripe-Signature
 * header scheme: "t=<unix>,v1=<hex hmac-sha256 of '<t>.<payload>'>". The
 * header may carry several v1 entries during secret rotation; any valid one
 * accepts the payload.
 *
 * Verification happens before the payload is parsed, so a rejected delivery
 * can never cause a mutation.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: Signature computation.
 */
package stripeclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature is returned when no signature in the header matches.
var ErrInvalidSignature = errors.New("webhook signature verification failed")

// DefaultTolerance bounds the accepted age of a signed payload.
const DefaultTolerance = 5 * time.Minute

// ConstructWebhookEvent verifies the signature header against the raw payload
// and decodes the event envelope. It returns ErrInvalidSignature (wrapped) on
// any signature or timestamp failure, and a plain decode error for malformed
// JSON after a valid signature.
func ConstructWebhookEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (Event, error) {
	var event Event

	if err := verifySignature(payload, sigHeader, secret, tolerance, time.Now()); err != nil {
		return event, err
	}

	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("failed to decode webhook event: %w", err)
	}
	if event.Type == "" {
		return event, errors.New("webhook event missing type")
	}
	return event, nil
}

func verifySignature(payload []byte, sigHeader, secret string, tolerance time.Duration, now time.Time) error {
	header := strings.TrimSpace(sigHeader)
	if header == "" {
		return fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	var timestamp int64
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			ts, err := strconv.ParseInt(pair[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: unparsable timestamp", ErrInvalidSignature)
			}
			timestamp = ts
		case "v1":
			candidates = append(candidates, pair[1])
		}
	}

	if timestamp == 0 || len(candidates) == 0 {
		return fmt.Errorf("%w: header missing t or v1 entries", ErrInvalidSignature)
	}

	if tolerance > 0 {
		age := now.Unix() - timestamp
		if age < 0 {
			age = -age
		}
		if age > int64(tolerance.Seconds()) {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}
