package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Integration maps a producer app id to the owning company.
type Integration struct {
	ID        int64
	CompanyID int64
}

// Integrations resolves app ids against the whatsapp_integration lookup
// table. The table is read-only from the pipeline's perspective.
type Integrations struct{}

// FindActiveByAppID returns the active integration for appID, or
// ErrIntegrationNotFound when it is missing or inactive.
func (Integrations) FindActiveByAppID(ctx context.Context, tx pgx.Tx, appID string) (Integration, error) {
	var integ Integration
	err := tx.QueryRow(ctx, `
		SELECT id, company_id FROM whatsapp_integration
		WHERE app_id = $1 AND is_active = 1
		LIMIT 1
	`, appID).Scan(&integ.ID, &integ.CompanyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Integration{}, ErrIntegrationNotFound
	}
	if err != nil {
		return Integration{}, fmt.Errorf("resolve integration: %w", err)
	}
	return integ, nil
}
