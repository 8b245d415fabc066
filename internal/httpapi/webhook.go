package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/awerhq/wpp-webhooks/internal/logx"
	"github.com/awerhq/wpp-webhooks/internal/metrics"
	"github.com/awerhq/wpp-webhooks/internal/normalize"
	"github.com/awerhq/wpp-webhooks/internal/rawstore"
)

// HandleWebhook handles POST /webhooks/gupshup/{appID}/events.
//
// The endpoint is idempotent from the producer's perspective: identical
// payloads hash to the same dedupe key and the second insert is a no-op
// that still acknowledges 200. The raw body bytes are captured exactly as
// sent; the dedupe fallback hashes them.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "appID")

	secret := r.Header.Get(SecretHeader)
	if subtle.ConstantTimeCompare([]byte(secret), s.Secret) != 1 {
		log.Ctx(ctx).Warn().
			Str("app_id", appID).
			Str("content_type", r.Header.Get("Content-Type")).
			Msg("webhook_auth_rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("app_id", appID).Msg("failed to read webhook body")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}
	raw := string(body)

	payload := parseBody(raw)
	ev := normalize.Normalize(payload)

	key := rawstore.DedupeKey(appID, ev.Kind, rawstore.KeyHints{
		ProviderEventID: ev.ProviderEventID,
		MessageID:       messageID(ev),
		EventStatus:     eventStatus(ev),
		EventAt:         ev.EventAt,
	}, raw)

	inserted, err := s.Store.Insert(ctx, insertParams(appID, ev, payload, key))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("app_id", appID).
			Str("kind", string(ev.Kind)).
			Msg("failed to persist webhook event")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}

	if inserted {
		metrics.EventsReceived.WithLabelValues(string(ev.Kind)).Inc()
		evt := log.Ctx(ctx).Info().
			Str("app_id", appID).
			Str("kind", string(ev.Kind)).
			Int("content_length", len(body))
		if s.VerboseLogs {
			evt = evt.Str("payload_preview", logx.Preview(raw, s.PreviewChars))
		}
		evt.Msg("webhook_event_ingested")
	} else {
		metrics.EventsDuplicate.Inc()
		log.Ctx(ctx).Info().
			Str("app_id", appID).
			Str("kind", string(ev.Kind)).
			Str("dedupe_key", key).
			Msg("webhook_duplicate_ignored")
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// parseBody wraps unparseable bodies instead of rejecting them: an empty
// body becomes {_raw, _empty:true}, invalid JSON becomes
// {_raw, _format:"text/plain"}.
func parseBody(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{"_raw": raw, "_empty": true}
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return map[string]any{"_raw": raw, "_format": "text/plain"}
	}
	return payload
}

func insertParams(appID string, ev normalize.Event, payload any, key string) rawstore.InsertParams {
	p := rawstore.InsertParams{
		AppID:           appID,
		Kind:            ev.Kind,
		ProviderEventID: ev.ProviderEventID,
		EventStatus:     eventStatus(ev),
		Payload:         payload,
		DedupeKey:       key,
	}
	if ev.Message != nil {
		p.MessageID = ev.Message.MessageID
		p.WhatsAppMessageID = ev.Message.WhatsAppMessageID
	}
	if ev.Template != nil {
		p.TemplateName = ev.Template.Name
		p.TemplateProviderID = ev.Template.ProviderID
	}
	return p
}

func messageID(ev normalize.Event) string {
	if ev.Message == nil {
		return ""
	}
	return ev.Message.MessageID
}

// eventStatus is the denormalized status hint column: whichever status
// token the variant carries.
func eventStatus(ev normalize.Event) string {
	switch {
	case ev.Message != nil:
		return string(ev.Message.Status)
	case ev.Template != nil:
		return string(ev.Template.Status)
	case ev.User != nil:
		return string(ev.User.Consent)
	}
	return ""
}
