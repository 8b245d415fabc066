package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/awerhq/wpp-webhooks/internal/normalize"
	"github.com/awerhq/wpp-webhooks/internal/rawstore"
)

type fakeInserter struct {
	inserted bool
	err      error
	calls    []rawstore.InsertParams
}

func (f *fakeInserter) Insert(_ context.Context, p rawstore.InsertParams) (bool, error) {
	f.calls = append(f.calls, p)
	return f.inserted, f.err
}

func newTestServer(store RawInserter) *Server {
	return &Server{
		Secret:       []byte("shh"),
		Store:        store,
		VerboseLogs:  true,
		PreviewChars: 2500,
	}
}

func postWebhook(t *testing.T, s *Server, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gupshup/app-1/events", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHandleWebhookRejectsBadSecret(t *testing.T) {
	store := &fakeInserter{}
	s := newTestServer(store)

	for _, secret := range []string{"", "wrong"} {
		rec := postWebhook(t, s, secret, `{}`)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("secret %q: status = %d, want 401", secret, rec.Code)
		}
	}
	if len(store.calls) != 0 {
		t.Errorf("store called %d times on rejected requests", len(store.calls))
	}
}

func TestHandleWebhookIngestsMessageEvent(t *testing.T) {
	store := &fakeInserter{inserted: true}
	s := newTestServer(store)

	body := `{"type":"message-event","payload":{"type":"delivered","gsId":"gs-1","destination":"5511912345678","ts":1739112000}}`
	rec := postWebhook(t, s, "shh", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if out := decodeBody(t, rec); out["ok"] != true {
		t.Errorf("body = %v, want ok=true", out)
	}

	if len(store.calls) != 1 {
		t.Fatalf("store called %d times, want 1", len(store.calls))
	}
	p := store.calls[0]
	if p.AppID != "app-1" {
		t.Errorf("AppID = %q", p.AppID)
	}
	if p.Kind != normalize.KindMessage {
		t.Errorf("Kind = %v, want MESSAGE", p.Kind)
	}
	if p.MessageID != "gs-1" {
		t.Errorf("MessageID = %q, want gs-1", p.MessageID)
	}
	if p.EventStatus != "delivered" {
		t.Errorf("EventStatus = %q, want delivered", p.EventStatus)
	}
	if len(p.DedupeKey) != 64 {
		t.Errorf("DedupeKey length = %d, want 64", len(p.DedupeKey))
	}
}

func TestHandleWebhookDuplicateStillAcks(t *testing.T) {
	store := &fakeInserter{inserted: false}
	s := newTestServer(store)

	rec := postWebhook(t, s, "shh", `{"type":"message-event","payload":{"type":"sent","gsId":"gs-1"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate: status = %d, want 200", rec.Code)
	}
	if out := decodeBody(t, rec); out["ok"] != true {
		t.Errorf("duplicate body = %v, want ok=true", out)
	}
}

func TestHandleWebhookStoreError(t *testing.T) {
	store := &fakeInserter{err: errors.New("connection refused")}
	s := newTestServer(store)

	rec := postWebhook(t, s, "shh", `{}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHandleWebhookWrapsNonJSONBody(t *testing.T) {
	store := &fakeInserter{inserted: true}
	s := newTestServer(store)

	rec := postWebhook(t, s, "shh", "just some text")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	p := store.calls[0]
	if p.Kind != normalize.KindUnknown {
		t.Errorf("Kind = %v, want UNKNOWN", p.Kind)
	}
	wrapped, ok := p.Payload.(map[string]any)
	if !ok {
		t.Fatalf("Payload = %T, want wrapper map", p.Payload)
	}
	if wrapped["_raw"] != "just some text" || wrapped["_format"] != "text/plain" {
		t.Errorf("wrapper = %v", wrapped)
	}
}

func TestHandleWebhookWrapsEmptyBody(t *testing.T) {
	store := &fakeInserter{inserted: true}
	s := newTestServer(store)

	rec := postWebhook(t, s, "shh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	wrapped, ok := store.calls[0].Payload.(map[string]any)
	if !ok {
		t.Fatalf("Payload = %T, want wrapper map", store.calls[0].Payload)
	}
	if wrapped["_empty"] != true {
		t.Errorf("wrapper = %v, want _empty=true", wrapped)
	}
}

func TestParseBody(t *testing.T) {
	if got := parseBody(`{"a":1}`); got.(map[string]any)["a"] != float64(1) {
		t.Errorf("parseBody(json) = %v", got)
	}
	if got := parseBody("  "); got.(map[string]any)["_empty"] != true {
		t.Errorf("parseBody(blank) = %v", got)
	}
	if got := parseBody("<xml/>"); got.(map[string]any)["_format"] != "text/plain" {
		t.Errorf("parseBody(text) = %v", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeInserter{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}
