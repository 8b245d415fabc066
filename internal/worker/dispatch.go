package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/awerhq/wpp-webhooks/internal/logx"
	"github.com/awerhq/wpp-webhooks/internal/metrics"
	"github.com/awerhq/wpp-webhooks/internal/normalize"
	"github.com/awerhq/wpp-webhooks/internal/projection"
	"github.com/awerhq/wpp-webhooks/internal/rawstore"
)

// Terminal annotations for benign skips.
const (
	noteUnrecognized        = "Unrecognized payload"
	noteRecipientNotFound   = "Recipient not found"
	noteIntegrationNotFound = "Integration not found for appId"
	noteTemplateNotFound    = "Template not found"
	noteUserNotFound        = "User not found for phone"
	noteBlockedIgnored      = "Blocked event ignored by configuration"
)

// processRow re-normalizes one claimed row and projects it. Projection
// statements run under a savepoint (pgx nested transaction) so a failed
// row rolls back cleanly and the retry bookkeeping still commits with the
// batch. A returned error means the outer transaction itself is broken.
func (w *Worker) processRow(ctx context.Context, tx pgx.Tx, row rawstore.RawEvent) error {
	// The stored payload is authoritative; the denormalized columns are
	// hints only.
	payload := rawstore.ParsePayload(row.Payload)
	ev := normalize.Normalize(payload)

	sub, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}

	note, projErr := w.dispatch(ctx, sub, row.AppID, ev)
	if projErr != nil {
		if err := sub.Rollback(ctx); err != nil {
			return fmt.Errorf("savepoint rollback: %w", err)
		}
		attempts := row.Attempts + 1
		finalize := attempts > w.MaxAttempts
		if err := w.Store.MarkFailedAttempt(ctx, tx, row.ID, attempts, projErr.Error(), finalize); err != nil {
			return err
		}
		outcome := "retried"
		if finalize {
			outcome = "finalized"
		}
		metrics.RowsProcessed.WithLabelValues(outcome).Inc()
		log.Warn().Err(projErr).
			Int64("raw_event_id", row.ID).
			Int("attempts", attempts).
			Bool("finalized", finalize).
			Interface("payload", logx.Sanitize(payload)).
			Msg("projection failed")
		return nil
	}

	if err := sub.Commit(ctx); err != nil {
		return fmt.Errorf("savepoint commit: %w", err)
	}
	if err := w.Store.MarkProcessed(ctx, tx, row.ID, note); err != nil {
		return err
	}
	metrics.RowsProcessed.WithLabelValues("processed").Inc()
	if note != "" {
		log.Info().
			Int64("raw_event_id", row.ID).
			Str("kind", string(ev.Kind)).
			Str("note", note).
			Msg("raw event skipped")
	}
	return nil
}

// dispatch routes one normalized event to its projection. A non-empty
// note means terminal success with an annotation; a returned error means
// a transient failure eligible for retry.
func (w *Worker) dispatch(ctx context.Context, tx pgx.Tx, appID string, ev normalize.Event) (string, error) {
	switch ev.Kind {
	case normalize.KindMessage:
		if ev.Message == nil || ev.Message.Status == "" {
			return noteUnrecognized, nil
		}
		outcome, err := w.Recipients.ApplyMessageEvent(ctx, tx, ev)
		if err != nil {
			return "", err
		}
		if outcome == projection.OutcomeNotFound {
			return noteRecipientNotFound, nil
		}
		return "", nil

	case normalize.KindTemplate:
		integ, err := w.Integrations.FindActiveByAppID(ctx, tx, appID)
		if errors.Is(err, projection.ErrIntegrationNotFound) {
			return noteIntegrationNotFound, nil
		}
		if err != nil {
			return "", err
		}
		if ev.Template == nil || ev.Template.Status == "" {
			return noteUnrecognized, nil
		}
		err = w.Templates.ApplyTemplateEvent(ctx, tx, integ, ev)
		if errors.Is(err, projection.ErrTemplateNotFound) {
			return noteTemplateNotFound, nil
		}
		return "", err

	case normalize.KindUser:
		integ, err := w.Integrations.FindActiveByAppID(ctx, tx, appID)
		if errors.Is(err, projection.ErrIntegrationNotFound) {
			return noteIntegrationNotFound, nil
		}
		if err != nil {
			return "", err
		}
		if ev.User == nil || ev.User.Phone == "" || ev.User.Consent == "" {
			return noteUnrecognized, nil
		}
		err = w.Consents.ApplyConsentEvent(ctx, tx, integ.CompanyID, ev)
		switch {
		case errors.Is(err, projection.ErrBlockedIgnored):
			return noteBlockedIgnored, nil
		case errors.Is(err, projection.ErrUserNotFound):
			return noteUserNotFound, nil
		}
		return "", err

	default:
		return noteUnrecognized, nil
	}
}
