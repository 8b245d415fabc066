package projection

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/awerhq/wpp-webhooks/internal/normalize"
)

// ConsentStatus is the aggregated marketing consent stance.
type ConsentStatus string

const (
	ConsentUnknown ConsentStatus = "UNKNOWN"
	ConsentIn      ConsentStatus = "OPT_IN"
	ConsentOut     ConsentStatus = "OPT_OUT"
)

// identifierRe whitelists the configured phone column name before it is
// interpolated into SQL. Anything else is a configuration attack, not a
// typo we should work around.
var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to interpolate as a column
// name.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// AggregateStatus derives the consent stance purely from the two
// last-seen timestamps. Ties resolve to OPT_IN.
func AggregateStatus(lastOptIn, lastOptOut *time.Time) ConsentStatus {
	switch {
	case lastOptIn == nil && lastOptOut == nil:
		return ConsentUnknown
	case lastOptOut == nil:
		return ConsentIn
	case lastOptIn == nil:
		return ConsentOut
	case lastOptOut.After(*lastOptIn):
		return ConsentOut
	default:
		return ConsentIn
	}
}

// laterOf advances a first/last-seen pointer to t when t is newer.
func laterOf(existing *time.Time, t time.Time) *time.Time {
	if existing == nil || t.After(*existing) {
		return &t
	}
	return existing
}

// Consents appends consent events and maintains the per-(user, company)
// aggregate.
type Consents struct {
	PhoneColumn     string
	BlockedAsOptOut bool
}

// ApplyConsentEvent resolves the user by phone, appends the consent event
// and recomputes the aggregate under a row lock. BLOCKED maps to OPT_OUT
// when BlockedAsOptOut is set, otherwise ErrBlockedIgnored.
func (c Consents) ApplyConsentEvent(ctx context.Context, tx pgx.Tx, companyID int64, ev normalize.Event) error {
	user := ev.User
	if user == nil || user.Phone == "" || user.Consent == "" {
		return ErrUserNotFound
	}

	var eventType ConsentStatus
	switch user.Consent {
	case normalize.ConsentOptIn:
		eventType = ConsentIn
	case normalize.ConsentOptOut:
		eventType = ConsentOut
	case normalize.ConsentBlocked:
		if !c.BlockedAsOptOut {
			return ErrBlockedIgnored
		}
		eventType = ConsentOut
	default:
		return ErrUserNotFound
	}

	userID, err := c.resolveUserID(ctx, tx, user.Phone)
	if err != nil {
		return err
	}

	eventAt := time.Now().UTC()
	if ev.EventAt != nil {
		eventAt = ev.EventAt.UTC()
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO marketing_consent_event (user_id, company_id, event_type, event_at)
		VALUES ($1, $2, $3, $4)
	`, userID, companyID, string(eventType), eventAt); err != nil {
		return fmt.Errorf("insert consent event: %w", err)
	}

	return c.upsertCurrent(ctx, tx, userID, companyID, eventType, eventAt)
}

func (c Consents) resolveUserID(ctx context.Context, tx pgx.Tx, phone string) (int64, error) {
	if !ValidIdentifier(c.PhoneColumn) {
		return 0, fmt.Errorf("invalid phone column %q", c.PhoneColumn)
	}

	var id int64
	query := fmt.Sprintf(`SELECT id FROM "user" WHERE %s = $1 LIMIT 1`, c.PhoneColumn)
	err := tx.QueryRow(ctx, query, phone).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve user by phone: %w", err)
	}
	return id, nil
}

func (c Consents) upsertCurrent(ctx context.Context, tx pgx.Tx, userID, companyID int64, eventType ConsentStatus, eventAt time.Time) error {
	var lastOptIn, lastOptOut *time.Time
	err := tx.QueryRow(ctx, `
		SELECT last_opt_in_at, last_opt_out_at
		FROM marketing_consent_current
		WHERE user_id = $1 AND company_id = $2
		FOR UPDATE
	`, userID, companyID).Scan(&lastOptIn, &lastOptOut)

	exists := true
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("lock consent aggregate: %w", err)
	}

	if eventType == ConsentIn {
		lastOptIn = laterOf(lastOptIn, eventAt)
	} else {
		lastOptOut = laterOf(lastOptOut, eventAt)
	}
	status := AggregateStatus(lastOptIn, lastOptOut)

	if exists {
		_, err = tx.Exec(ctx, `
			UPDATE marketing_consent_current
			SET status = $3, last_opt_in_at = $4, last_opt_out_at = $5, updated_at = now()
			WHERE user_id = $1 AND company_id = $2
		`, userID, companyID, string(status), lastOptIn, lastOptOut)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO marketing_consent_current
				(user_id, company_id, status, last_opt_in_at, last_opt_out_at)
			VALUES ($1, $2, $3, $4, $5)
		`, userID, companyID, string(status), lastOptIn, lastOptOut)
	}
	if err != nil {
		return fmt.Errorf("upsert consent aggregate: %w", err)
	}
	return nil
}
