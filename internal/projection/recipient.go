package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/awerhq/wpp-webhooks/internal/normalize"
)

// RecipientStatus is the campaign recipient delivery state.
type RecipientStatus string

const (
	StatusPending   RecipientStatus = "PENDING"
	StatusSkipped   RecipientStatus = "SKIPPED"
	StatusSubmitted RecipientStatus = "SUBMITTED"
	StatusSent      RecipientStatus = "SENT"
	StatusDelivered RecipientStatus = "DELIVERED"
	StatusRead      RecipientStatus = "READ"
	StatusFailed    RecipientStatus = "FAILED"
	StatusRetrying  RecipientStatus = "RETRYING"
)

// statusRank orders recipient statuses for the monotonic upgrade rule.
func statusRank(s RecipientStatus) int {
	switch s {
	case StatusSubmitted, StatusRetrying:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	case StatusFailed:
		return 5
	}
	return 0 // PENDING, SKIPPED, unknown
}

// targetStatus maps an incoming normalized message status to the
// recipient status it drives toward.
func targetStatus(s normalize.MessageStatus) RecipientStatus {
	switch s {
	case normalize.MessageAccepted:
		return StatusSubmitted
	case normalize.MessageSent:
		return StatusSent
	case normalize.MessageDelivered:
		return StatusDelivered
	case normalize.MessageRead:
		return StatusRead
	case normalize.MessageFailed:
		return StatusFailed
	}
	return ""
}

type transition int

const (
	transitionIgnore transition = iota
	transitionSame
	transitionUpgrade
)

// decide applies the transition rules: FAILED supersedes anything below
// READ; a FAILED row otherwise only accepts repeated failures; everything
// else follows the status rank.
func decide(current, target RecipientStatus) transition {
	if target == StatusFailed {
		switch current {
		case StatusRead:
			return transitionIgnore
		case StatusFailed:
			return transitionSame
		default:
			return transitionUpgrade
		}
	}
	if current == StatusFailed {
		return transitionIgnore
	}
	if statusRank(target) > statusRank(current) {
		return transitionUpgrade
	}
	if target == current {
		return transitionSame
	}
	return transitionIgnore
}

// Outcome reports what ApplyMessageEvent did.
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeNoop
	OutcomeUpdated
)

// recipientRow is the locked snapshot of the columns the projection may
// touch.
type recipientRow struct {
	ID                int64
	Status            RecipientStatus
	WhatsAppMessageID *string
	AcceptedAt        *time.Time
	SentAt            *time.Time
	ReachedAt         *time.Time
	FailedAt          *time.Time
	LastEventAt       *time.Time
}

// recipientChanges holds only the fields that actually change; nil means
// untouched.
type recipientChanges struct {
	Status            *RecipientStatus
	WhatsAppMessageID *string
	LastEventAt       *time.Time
	AcceptedAt        *time.Time
	SentAt            *time.Time
	ReachedAt         *time.Time
	FailedAt          *time.Time
	LastErrorCode     *string
	LastErrorReason   *string
	ErrorPayload      []byte
}

func (c recipientChanges) any() bool {
	return c.Status != nil || c.WhatsAppMessageID != nil || c.LastEventAt != nil ||
		c.AcceptedAt != nil || c.SentAt != nil || c.ReachedAt != nil || c.FailedAt != nil ||
		c.LastErrorCode != nil || c.LastErrorReason != nil || c.ErrorPayload != nil
}

// planRecipientUpdate computes the guarded field writes for one incoming
// event against the current row. Pure; the write itself happens in
// ApplyMessageEvent.
func planRecipientUpdate(row recipientRow, ev normalize.Event, now time.Time) recipientChanges {
	var c recipientChanges
	msg := ev.Message
	target := targetStatus(msg.Status)
	if target == "" {
		return c
	}

	// Failed after READ ignores the event entirely.
	if target == StatusFailed && row.Status == StatusRead {
		return c
	}

	tr := decide(row.Status, target)

	eventAt := now
	if ev.EventAt != nil {
		eventAt = *ev.EventAt
	}

	if tr == transitionUpgrade {
		s := target
		c.Status = &s
		if row.LastEventAt == nil || eventAt.After(*row.LastEventAt) {
			t := eventAt
			c.LastEventAt = &t
		}
	}

	if row.WhatsAppMessageID == nil && msg.WhatsAppMessageID != "" {
		id := msg.WhatsAppMessageID
		c.WhatsAppMessageID = &id
	}

	// First-occurrence timestamps fill independently of the status
	// decision; out-of-order events may still land their timestamp.
	switch msg.Status {
	case normalize.MessageAccepted:
		if row.AcceptedAt == nil {
			t := eventAt
			c.AcceptedAt = &t
		}
	case normalize.MessageSent:
		if row.SentAt == nil {
			t := eventAt
			c.SentAt = &t
		}
	case normalize.MessageDelivered, normalize.MessageRead:
		if row.ReachedAt == nil {
			t := eventAt
			c.ReachedAt = &t
		}
	case normalize.MessageFailed:
		if row.FailedAt == nil {
			t := eventAt
			c.FailedAt = &t
		}
		if msg.ErrorCode != "" {
			code := msg.ErrorCode
			c.LastErrorCode = &code
		}
		if msg.ErrorReason != "" {
			reason := msg.ErrorReason
			c.LastErrorReason = &reason
		}
		if msg.ErrorPayload != nil {
			if b, err := json.Marshal(msg.ErrorPayload); err == nil {
				c.ErrorPayload = b
			}
		}
	}

	return c
}

// Recipients projects message delivery events onto campaign_recipient.
type Recipients struct{}

// ApplyMessageEvent looks the recipient up by gupshup message id, then by
// whatsapp message id, locks the row and applies the monotonic update.
func (Recipients) ApplyMessageEvent(ctx context.Context, tx pgx.Tx, ev normalize.Event) (Outcome, error) {
	msg := ev.Message
	if msg == nil || (msg.MessageID == "" && msg.WhatsAppMessageID == "") {
		return OutcomeNotFound, nil
	}

	row, found, err := lockRecipient(ctx, tx, msg.MessageID, msg.WhatsAppMessageID)
	if err != nil {
		return OutcomeNoop, err
	}
	if !found {
		return OutcomeNotFound, nil
	}

	changes := planRecipientUpdate(row, ev, time.Now().UTC())
	if !changes.any() {
		return OutcomeNoop, nil
	}

	if err := updateRecipient(ctx, tx, row.ID, changes); err != nil {
		return OutcomeNoop, err
	}
	return OutcomeUpdated, nil
}

const recipientColumns = `id, status, whatsapp_message_id, accepted_at, sent_at, reached_at, failed_at, last_event_at`

func lockRecipient(ctx context.Context, tx pgx.Tx, gupshupID, whatsappID string) (recipientRow, bool, error) {
	if gupshupID != "" {
		row, found, err := scanRecipient(tx.QueryRow(ctx,
			`SELECT `+recipientColumns+` FROM campaign_recipient WHERE gupshup_message_id = $1 FOR UPDATE`,
			gupshupID))
		if err != nil || found {
			return row, found, err
		}
	}
	if whatsappID != "" {
		return scanRecipient(tx.QueryRow(ctx,
			`SELECT `+recipientColumns+` FROM campaign_recipient WHERE whatsapp_message_id = $1 FOR UPDATE`,
			whatsappID))
	}
	return recipientRow{}, false, nil
}

func scanRecipient(r pgx.Row) (recipientRow, bool, error) {
	var row recipientRow
	var status string
	err := r.Scan(&row.ID, &status, &row.WhatsAppMessageID, &row.AcceptedAt,
		&row.SentAt, &row.ReachedAt, &row.FailedAt, &row.LastEventAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return row, false, nil
	}
	if err != nil {
		return row, false, fmt.Errorf("lock recipient: %w", err)
	}
	row.Status = RecipientStatus(status)
	return row, true, nil
}

func updateRecipient(ctx context.Context, tx pgx.Tx, id int64, c recipientChanges) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if c.Status != nil {
		add("status", string(*c.Status))
	}
	if c.WhatsAppMessageID != nil {
		add("whatsapp_message_id", *c.WhatsAppMessageID)
	}
	if c.LastEventAt != nil {
		add("last_event_at", *c.LastEventAt)
	}
	if c.AcceptedAt != nil {
		add("accepted_at", *c.AcceptedAt)
	}
	if c.SentAt != nil {
		add("sent_at", *c.SentAt)
	}
	if c.ReachedAt != nil {
		add("reached_at", *c.ReachedAt)
	}
	if c.FailedAt != nil {
		add("failed_at", *c.FailedAt)
	}
	if c.LastErrorCode != nil {
		add("last_error_code", *c.LastErrorCode)
	}
	if c.LastErrorReason != nil {
		add("last_error_reason", *c.LastErrorReason)
	}
	if c.ErrorPayload != nil {
		add("error", c.ErrorPayload)
	}

	query := fmt.Sprintf("UPDATE campaign_recipient SET %s WHERE id = $1", strings.Join(sets, ", "))
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}
	return nil
}
