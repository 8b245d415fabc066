package rawstore

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/awerhq/wpp-webhooks/internal/normalize"
)

// KeyHints are the denormalized fields the dedupe key may be built from.
type KeyHints struct {
	ProviderEventID string
	MessageID       string
	EventStatus     string
	EventAt         *time.Time
}

// DedupeKey builds the deterministic idempotency key for an incoming
// event: SHA-256 hex of the UTF-8 material string.
//
// Material, in order of preference:
//  1. appId|kind|providerEventId
//  2. appId|kind|messageId|eventStatus|isoTimestamp (empty fields stay empty)
//  3. the full raw request body
//
// Identical inputs always yield identical keys, so dedupe survives server
// restarts.
func DedupeKey(appID string, kind normalize.Kind, h KeyHints, rawBody string) string {
	var material string
	switch {
	case h.ProviderEventID != "":
		material = strings.Join([]string{appID, string(kind), h.ProviderEventID}, "|")
	case h.MessageID != "" || h.EventStatus != "" || h.EventAt != nil:
		iso := ""
		if h.EventAt != nil {
			iso = h.EventAt.UTC().Format(time.RFC3339)
		}
		material = strings.Join([]string{appID, string(kind), h.MessageID, h.EventStatus, iso}, "|")
	default:
		material = rawBody
	}

	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
