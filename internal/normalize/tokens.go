package normalize

import "strings"

// MessageStatus is the normalized delivery-receipt status token.
type MessageStatus string

const (
	MessageAccepted  MessageStatus = "accepted"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// TemplateStatus is the normalized template lifecycle status token.
type TemplateStatus string

const (
	TemplateApproved  TemplateStatus = "APPROVED"
	TemplateRejected  TemplateStatus = "REJECTED"
	TemplatePending   TemplateStatus = "PENDING"
	TemplateSubmitted TemplateStatus = "SUBMITTED"
)

// ConsentAction is the normalized user consent token.
type ConsentAction string

const (
	ConsentOptIn   ConsentAction = "OPT_IN"
	ConsentOptOut  ConsentAction = "OPT_OUT"
	ConsentBlocked ConsentAction = "BLOCKED"
)

// MapMessageStatus maps a provider status token to the normalized form.
// Unrecognized tokens map to "".
func MapMessageStatus(tok string) MessageStatus {
	switch strings.ToLower(strings.TrimSpace(tok)) {
	case "accepted":
		return MessageAccepted
	case "sent":
		return MessageSent
	case "delivered":
		return MessageDelivered
	case "read":
		return MessageRead
	case "failed", "error", "undelivered":
		return MessageFailed
	}
	return ""
}

// MapTemplateStatus maps a provider template status token to the
// normalized form. Unrecognized tokens map to "".
func MapTemplateStatus(tok string) TemplateStatus {
	switch strings.ToUpper(strings.TrimSpace(tok)) {
	case "APPROVED":
		return TemplateApproved
	case "REJECTED":
		return TemplateRejected
	case "PENDING":
		return TemplatePending
	case "SUBMITTED", "IN_REVIEW":
		return TemplateSubmitted
	}
	return ""
}

// MapConsentAction maps a provider consent token to the normalized form.
// Unrecognized tokens map to "".
func MapConsentAction(tok string) ConsentAction {
	switch strings.ToUpper(strings.TrimSpace(tok)) {
	case "OPT_IN", "OPTED_IN", "OPTED-IN", "SUBSCRIBE", "CONSENT_GRANTED":
		return ConsentOptIn
	case "OPT_OUT", "OPTED_OUT", "OPTED-OUT", "UNSUBSCRIBE", "CONSENT_REVOKED":
		return ConsentOptOut
	case "BLOCKED", "BLOCK", "USER_BLOCKED":
		return ConsentBlocked
	}
	return ""
}
