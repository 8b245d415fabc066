// Package normalize extracts a typed event variant from the
// heterogeneous JSON payloads Gupshup posts to the webhook endpoint.
// Extraction is schema-tolerant: a prioritized path probe runs first,
// then a breadth-first case-insensitive key search as fallback.
package normalize

import (
	"strings"
	"time"
)

// Kind tags the event variant.
type Kind string

const (
	KindMessage  Kind = "MESSAGE"
	KindTemplate Kind = "TEMPLATE"
	KindUser     Kind = "USER"
	KindUnknown  Kind = "UNKNOWN"
)

// Event is the tagged union produced by Normalize. Exactly one of
// Message, Template, User is non-nil unless Kind is UNKNOWN.
type Event struct {
	Kind            Kind
	ProviderEventID string
	EventAt         *time.Time
	Message         *MessageEvent
	Template        *TemplateEvent
	User            *UserEvent
}

// MessageEvent carries a delivery-receipt update for a campaign recipient.
type MessageEvent struct {
	MessageID         string
	WhatsAppMessageID string
	Status            MessageStatus // "" when the status token was not recognized
	Destination       string
	ErrorCode         string
	ErrorReason       string
	ErrorPayload      any
}

// TemplateEvent carries a template lifecycle update.
type TemplateEvent struct {
	Name            string
	ProviderID      string
	Status          TemplateStatus // "" when the status token was not recognized
	Language        string
	Reason          string
	CorrectCategory string
}

// UserEvent carries a consent change for a user identified by phone.
type UserEvent struct {
	Phone   string
	Consent ConsentAction
}

// Path and key tables. Paths are tried in order; keys are the BFS
// fallback allowlist.
var (
	eventTypePaths = []string{"event", "eventType", "type", "topic", "payload.type"}
	eventTypeKeys  = []string{"event", "eventType", "topic"}

	providerEventIDPaths = []string{"eventId", "event_id", "payload.eventId"}
	providerEventIDKeys  = []string{"eventId", "event_id"}

	timestampPaths = []string{"statuses[0].timestamp", "payload.timestamp", "timestamp", "ts"}
	timestampKeys  = []string{"timestamp", "eventAt", "event_at", "ts"}

	messageIDPaths = []string{"statuses[0].id", "payload.gsId", "payload.id", "messageId", "message_id"}
	messageIDKeys  = []string{"messageId", "message_id", "gsId"}

	waMessageIDPaths = []string{"statuses[0].whatsappMessageId", "payload.whatsappMessageId", "whatsappMessageId"}
	waMessageIDKeys  = []string{"whatsappMessageId", "wamid", "meta_msg_id"}

	// payload.type doubles as the status token in message-event payloads;
	// MapMessageStatus discards non-status tokens found there.
	messageStatusPaths = []string{"statuses[0].status", "payload.status", "status", "payload.type"}
	messageStatusKeys  = []string{"status"}

	destinationPaths = []string{"statuses[0].destination", "payload.destination", "destination"}

	errorCodePaths   = []string{"statuses[0].errors[0].code", "payload.errors[0].code", "errors[0].code", "payload.payload.code"}
	errorReasonPaths = []string{"statuses[0].errors[0].message", "statuses[0].errors[0].title", "payload.errors[0].message", "errors[0].message", "errors[0].title", "payload.payload.reason"}
	errorsPaths      = []string{"statuses[0].errors", "payload.errors", "errors"}

	templateNamePaths = []string{"template.name", "payload.elementName", "templateName", "template_name"}
	templateNameKeys  = []string{"templateName", "elementName", "template_name", "message_template_name"}

	templateIDPaths = []string{"template.id", "payload.templateId", "templateId", "template_id"}
	templateIDKeys  = []string{"templateId", "template_id", "message_template_id"}

	templateStatusPaths = []string{"template.status", "payload.status", "status"}
	templateStatusKeys  = []string{"status"}

	templateReasonPaths = []string{"template.reason", "payload.rejectedReason", "reason", "rejectedReason"}
	templateReasonKeys  = []string{"reason", "rejectedReason", "rejectionReason"}

	templateCategoryPaths = []string{"template.correctCategory", "payload.correctCategory", "correctCategory"}

	templateLanguagePaths = []string{"template.language", "payload.languageCode", "language", "languageCode"}

	phonePaths = []string{"phone", "payload.phone", "payload.sender.phone", "sender.phone", "waNumber", "destination"}
	phoneKeys  = []string{"phone", "msisdn", "waNumber", "wa_id"}

	consentPaths = []string{"event", "eventType", "payload.type", "action", "type"}
	consentKeys  = []string{"event", "action", "consent"}
)

// Normalize classifies an arbitrary decoded JSON payload into a typed
// event. Detection order is TEMPLATE, MESSAGE, USER, UNKNOWN; the first
// match wins.
func Normalize(payload any) Event {
	ev := Event{Kind: KindUnknown}
	if payload == nil {
		return ev
	}

	ev.ProviderEventID = extractString(payload, providerEventIDPaths, providerEventIDKeys)
	ev.EventAt = ParseEventTime(firstValue(payload, timestampPaths, timestampKeys))

	hint := strings.ToLower(extractString(payload, eventTypePaths, eventTypeKeys))

	// TEMPLATE: any template signal, plus either a recognized status or an
	// explicit template hint in the event type.
	tplName := extractString(payload, templateNamePaths, templateNameKeys)
	tplID := extractString(payload, templateIDPaths, templateIDKeys)
	tplStatusTok := extractString(payload, templateStatusPaths, templateStatusKeys)
	tplStatus := MapTemplateStatus(tplStatusTok)
	if (tplName != "" || tplID != "" || tplStatusTok != "") &&
		(tplStatus != "" || strings.Contains(hint, "template")) {
		ev.Kind = KindTemplate
		ev.Template = &TemplateEvent{
			Name:            tplName,
			ProviderID:      tplID,
			Status:          tplStatus,
			Language:        extractString(payload, templateLanguagePaths, nil),
			Reason:          extractString(payload, templateReasonPaths, templateReasonKeys),
			CorrectCategory: extractString(payload, templateCategoryPaths, nil),
		}
		return ev
	}

	// MESSAGE: a message id or recognized status token, unless a pure
	// template signal (template name without message id) dominates.
	msgID := extractString(payload, messageIDPaths, messageIDKeys)
	waID := extractString(payload, waMessageIDPaths, waMessageIDKeys)
	msgStatus := MapMessageStatus(extractString(payload, messageStatusPaths, messageStatusKeys))
	pureTemplate := tplName != "" && msgID == ""
	if (msgID != "" || waID != "" || msgStatus != "") && !pureTemplate {
		ev.Kind = KindMessage
		ev.Message = &MessageEvent{
			MessageID:         msgID,
			WhatsAppMessageID: waID,
			Status:            msgStatus,
			Destination:       CleanPhone(extractString(payload, destinationPaths, nil)),
			ErrorCode:         extractString(payload, errorCodePaths, nil),
			ErrorReason:       extractString(payload, errorReasonPaths, nil),
			ErrorPayload:      probe(payload, errorsPaths...),
		}
		return ev
	}

	// USER: a recognized consent token or a phone-like field.
	consent := MapConsentAction(extractString(payload, consentPaths, consentKeys))
	phone := CleanPhone(extractString(payload, phonePaths, phoneKeys))
	if consent != "" || phone != "" {
		ev.Kind = KindUser
		ev.User = &UserEvent{Phone: phone, Consent: consent}
		return ev
	}

	return ev
}

// CleanPhone strips whitespace from a phone value. Full E.164 validation
// is deliberately not done here; projection-time lookup handles identity.
func CleanPhone(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// extractString runs the path probe then the BFS key search and renders
// the winner as a trimmed string.
func extractString(payload any, paths, keys []string) string {
	if v := firstValue(payload, paths, keys); v != nil {
		return asString(v)
	}
	return ""
}

func firstValue(payload any, paths, keys []string) any {
	if v := probe(payload, paths...); !isEmpty(v) {
		return v
	}
	if len(keys) > 0 {
		if v := searchKey(payload, keys...); !isEmpty(v) {
			return v
		}
	}
	return nil
}
