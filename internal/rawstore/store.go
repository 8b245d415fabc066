// Package rawstore owns the wpp_webhook_event_raw buffer: idempotent
// ingest inserts and the skip-lock batch claim the worker drains.
package rawstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awerhq/wpp-webhooks/internal/normalize"
)

// MaxLastErrorLen bounds the last_error column.
const MaxLastErrorLen = 255

// RawEvent is one buffered webhook event. Payload holds the stored JSONB
// bytes; callers re-parse via ParsePayload (the payload is authoritative,
// the denormalized columns are lookup hints only).
type RawEvent struct {
	ID                 int64
	AppID              string
	EventKind          normalize.Kind
	ProviderEventID    *string
	MessageID          *string
	WhatsAppMessageID  *string
	TemplateName       *string
	TemplateProviderID *string
	EventStatus        *string
	ReceivedAt         time.Time
	Payload            []byte
	Processed          int16
	Attempts           int
	LastError          *string
	ProcessedAt        *time.Time
	DedupeKey          string
}

// InsertParams is the ingest-side view of a raw event.
type InsertParams struct {
	AppID              string
	Kind               normalize.Kind
	ProviderEventID    string
	MessageID          string
	WhatsAppMessageID  string
	TemplateName       string
	TemplateProviderID string
	EventStatus        string
	Payload            any
	DedupeKey          string
}

// Store reads and writes the raw event buffer.
type Store struct {
	Pool *pgxpool.Pool
}

// Insert appends a raw event. A unique violation on dedupe_key is not an
// error: the row already exists and inserted=false is returned.
func (s *Store) Insert(ctx context.Context, p InsertParams) (bool, error) {
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO wpp_webhook_event_raw
			(app_id, event_kind, provider_event_id, message_id, whatsapp_message_id,
			 template_name, template_provider_id, event_status, payload_json, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, p.AppID, string(p.Kind),
		nullable(p.ProviderEventID), nullable(p.MessageID), nullable(p.WhatsAppMessageID),
		nullable(p.TemplateName), nullable(p.TemplateProviderID), nullable(p.EventStatus),
		payloadJSON, p.DedupeKey)
	if err != nil {
		return false, fmt.Errorf("insert raw event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LockNextBatch claims up to batchSize pending rows on the caller's open
// transaction, oldest first, skipping rows held by competing workers.
// Claimed rows stay locked until the transaction ends, so concurrent
// worker instances always receive disjoint batches.
func (s *Store) LockNextBatch(ctx context.Context, tx pgx.Tx, batchSize int) ([]RawEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, app_id, event_kind, provider_event_id, message_id, whatsapp_message_id,
		       template_name, template_provider_id, event_status, received_at,
		       payload_json, processed, attempts, last_error, processed_at, dedupe_key
		FROM wpp_webhook_event_raw
		WHERE processed = 0
		ORDER BY received_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("lock next batch: %w", err)
	}
	defer rows.Close()

	var out []RawEvent
	for rows.Next() {
		var ev RawEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.AppID, &kind, &ev.ProviderEventID, &ev.MessageID,
			&ev.WhatsAppMessageID, &ev.TemplateName, &ev.TemplateProviderID, &ev.EventStatus,
			&ev.ReceivedAt, &ev.Payload, &ev.Processed, &ev.Attempts, &ev.LastError,
			&ev.ProcessedAt, &ev.DedupeKey); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		ev.EventKind = normalize.Kind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkProcessed transitions a row to terminal success. note annotates
// benign skips (recipient not found, blocked-by-config, ...); empty note
// clears last_error.
func (s *Store) MarkProcessed(ctx context.Context, tx pgx.Tx, id int64, note string) error {
	_, err := tx.Exec(ctx, `
		UPDATE wpp_webhook_event_raw
		SET processed = 1, processed_at = now(), last_error = $2
		WHERE id = $1
	`, id, nullable(truncateError(note)))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// MarkFailedAttempt records a failed projection attempt. finalize=true
// makes the row terminal with the error captured; otherwise it stays
// pending for the next tick.
func (s *Store) MarkFailedAttempt(ctx context.Context, tx pgx.Tx, id int64, attempts int, errMsg string, finalize bool) error {
	processed := 0
	var processedAt *time.Time
	if finalize {
		processed = 1
		now := time.Now().UTC()
		processedAt = &now
	}
	_, err := tx.Exec(ctx, `
		UPDATE wpp_webhook_event_raw
		SET attempts = $2, last_error = $3, processed = $4, processed_at = $5
		WHERE id = $1
	`, id, attempts, truncateError(errMsg), processed, processedAt)
	if err != nil {
		return fmt.Errorf("mark failed attempt: %w", err)
	}
	return nil
}

func truncateError(s string) string {
	if len(s) > MaxLastErrorLen {
		return s[:MaxLastErrorLen]
	}
	return s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
