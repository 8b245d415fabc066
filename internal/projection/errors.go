// Package projection applies normalized webhook events to the
// operational tables: campaign recipient status, template approval
// state, and marketing consent. All writes are monotonic: a status
// ordinal only advances and first-occurrence timestamps only transition
// null to value, which is what makes out-of-order delivery safe.
package projection

import "errors"

// Soft projection failures. The worker turns these into terminal rows
// with a descriptive last_error instead of retrying.
var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrTemplateNotFound    = errors.New("template not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrBlockedIgnored      = errors.New("blocked event ignored by configuration")
)
