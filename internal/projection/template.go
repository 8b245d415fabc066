package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/awerhq/wpp-webhooks/internal/normalize"
)

// Templates projects template lifecycle events onto whatsapp_template and
// its latest whatsapp_template_version row.
type Templates struct{}

// ApplyTemplateEvent resolves template identity (provider template id
// first, then company+name[+language] taking the newest row) and applies
// the status update to the template and its latest version.
func (Templates) ApplyTemplateEvent(ctx context.Context, tx pgx.Tx, integ Integration, ev normalize.Event) error {
	tpl := ev.Template
	if tpl == nil || tpl.Status == "" {
		return ErrTemplateNotFound
	}

	templateID, err := resolveTemplateID(ctx, tx, integ, tpl)
	if err != nil {
		return err
	}

	rejected := tpl.Status == normalize.TemplateRejected
	var reason, category *string
	if rejected {
		if tpl.Reason != "" {
			reason = &tpl.Reason
		}
		if tpl.CorrectCategory != "" {
			category = &tpl.CorrectCategory
		}
	}

	// rejection_reason and correct_category carry meaning only for
	// REJECTED; any other status clears them.
	if _, err := tx.Exec(ctx, `
		UPDATE whatsapp_template
		SET status = $2, rejection_reason = $3, correct_category = $4,
		    last_synced_at = now(), updated_at = now()
		WHERE id = $1
	`, templateID, string(tpl.Status), reason, category); err != nil {
		return fmt.Errorf("update template: %w", err)
	}

	return updateLatestVersion(ctx, tx, templateID, tpl)
}

func resolveTemplateID(ctx context.Context, tx pgx.Tx, integ Integration, tpl *normalize.TemplateEvent) (int64, error) {
	var id int64
	var err error

	switch {
	case tpl.ProviderID != "":
		err = tx.QueryRow(ctx, `
			SELECT id FROM whatsapp_template
			WHERE integration_id = $1 AND provider_template_id = $2
			ORDER BY id DESC LIMIT 1
			FOR UPDATE
		`, integ.ID, tpl.ProviderID).Scan(&id)
	case tpl.Name != "" && tpl.Language != "":
		err = tx.QueryRow(ctx, `
			SELECT id FROM whatsapp_template
			WHERE company_id = $1 AND name = $2 AND language = $3
			ORDER BY id DESC LIMIT 1
			FOR UPDATE
		`, integ.CompanyID, tpl.Name, tpl.Language).Scan(&id)
	case tpl.Name != "":
		err = tx.QueryRow(ctx, `
			SELECT id FROM whatsapp_template
			WHERE company_id = $1 AND name = $2
			ORDER BY id DESC LIMIT 1
			FOR UPDATE
		`, integ.CompanyID, tpl.Name).Scan(&id)
	default:
		return 0, ErrTemplateNotFound
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrTemplateNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve template: %w", err)
	}
	return id, nil
}

// updateLatestVersion mirrors the status onto the highest version_no row
// and fills its first-occurrence timestamps. A template with no version
// rows is fine; only the template row carries the status then.
func updateLatestVersion(ctx context.Context, tx pgx.Tx, templateID int64, tpl *normalize.TemplateEvent) error {
	var versionID int64
	err := tx.QueryRow(ctx, `
		SELECT id FROM whatsapp_template_version
		WHERE template_id = $1
		ORDER BY version_no DESC LIMIT 1
		FOR UPDATE
	`, templateID).Scan(&versionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock template version: %w", err)
	}

	stampCol := ""
	switch tpl.Status {
	case normalize.TemplateSubmitted:
		stampCol = "submitted_at"
	case normalize.TemplateApproved:
		stampCol = "approved_at"
	case normalize.TemplateRejected:
		stampCol = "rejected_at"
	}

	query := `UPDATE whatsapp_template_version SET status = $2, updated_at = now()`
	args := []any{versionID, string(tpl.Status)}
	if stampCol != "" {
		query += fmt.Sprintf(", %s = COALESCE(%s, now())", stampCol, stampCol)
	}
	if tpl.Status == normalize.TemplateRejected {
		args = append(args, nullableStr(tpl.Reason))
		query += fmt.Sprintf(", rejection_reason = $%d", len(args))
	}
	query += " WHERE id = $1"

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update template version: %w", err)
	}
	return nil
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
