package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/awerhq/wpp-webhooks/internal/normalize"
	"github.com/awerhq/wpp-webhooks/internal/projection"
	"github.com/awerhq/wpp-webhooks/internal/rawstore"
)

// fakeTx satisfies pgx.Tx for the handful of calls the worker makes.
// Everything else panics through the embedded nil interface, which is
// exactly what we want from a unit test.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	children   []*fakeTx
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	child := &fakeTx{}
	t.children = append(t.children, child)
	return child, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeDB struct {
	tx *fakeTx
}

func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	d.tx = &fakeTx{}
	return d.tx, nil
}

type processedCall struct {
	id   int64
	note string
}

type failedCall struct {
	id       int64
	attempts int
	errMsg   string
	finalize bool
}

type fakeStore struct {
	batch     []rawstore.RawEvent
	processed []processedCall
	failed    []failedCall
}

func (s *fakeStore) LockNextBatch(ctx context.Context, tx pgx.Tx, batchSize int) ([]rawstore.RawEvent, error) {
	return s.batch, nil
}

func (s *fakeStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id int64, note string) error {
	s.processed = append(s.processed, processedCall{id, note})
	return nil
}

func (s *fakeStore) MarkFailedAttempt(ctx context.Context, tx pgx.Tx, id int64, attempts int, errMsg string, finalize bool) error {
	s.failed = append(s.failed, failedCall{id, attempts, errMsg, finalize})
	return nil
}

type fakeRecipients struct {
	outcome projection.Outcome
	err     error
}

func (f *fakeRecipients) ApplyMessageEvent(ctx context.Context, tx pgx.Tx, ev normalize.Event) (projection.Outcome, error) {
	return f.outcome, f.err
}

type fakeTemplates struct{ err error }

func (f *fakeTemplates) ApplyTemplateEvent(ctx context.Context, tx pgx.Tx, integ projection.Integration, ev normalize.Event) error {
	return f.err
}

type fakeConsents struct{ err error }

func (f *fakeConsents) ApplyConsentEvent(ctx context.Context, tx pgx.Tx, companyID int64, ev normalize.Event) error {
	return f.err
}

type fakeIntegrations struct {
	integ projection.Integration
	err   error
}

func (f *fakeIntegrations) FindActiveByAppID(ctx context.Context, tx pgx.Tx, appID string) (projection.Integration, error) {
	return f.integ, f.err
}

func newTestWorker(store *fakeStore) (*Worker, *fakeDB) {
	db := &fakeDB{}
	return &Worker{
		DB:           db,
		Store:        store,
		Recipients:   &fakeRecipients{outcome: projection.OutcomeUpdated},
		Templates:    &fakeTemplates{},
		Consents:     &fakeConsents{},
		Integrations: &fakeIntegrations{integ: projection.Integration{ID: 1, CompanyID: 7}},
		BatchSize:    50,
		MaxAttempts:  10,
	}, db
}

func rawRow(id int64, payload string) rawstore.RawEvent {
	return rawstore.RawEvent{ID: id, AppID: "app-1", Payload: []byte(payload)}
}

const messagePayload = `{"type":"message-event","payload":{"type":"delivered","gsId":"gs-1"}}`

func TestTickProcessesMessageEvent(t *testing.T) {
	store := &fakeStore{batch: []rawstore.RawEvent{rawRow(1, messagePayload)}}
	w, db := newTestWorker(store)

	w.tick(context.Background())

	if len(store.processed) != 1 || store.processed[0] != (processedCall{1, ""}) {
		t.Fatalf("processed = %+v, want id 1 with empty note", store.processed)
	}
	if len(store.failed) != 0 {
		t.Errorf("unexpected failed marks: %+v", store.failed)
	}
	if !db.tx.committed {
		t.Error("batch transaction was not committed")
	}
	if len(db.tx.children) != 1 || !db.tx.children[0].committed {
		t.Error("row savepoint was not committed")
	}
}

func TestTickEmptyBatchCommits(t *testing.T) {
	store := &fakeStore{}
	w, db := newTestWorker(store)

	w.tick(context.Background())

	if !db.tx.committed {
		t.Error("empty batch should still commit the claim transaction")
	}
	if len(store.processed)+len(store.failed) != 0 {
		t.Error("empty batch should mark nothing")
	}
}

func TestProcessRowTerminalNotes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		setup   func(w *Worker)
		want    string
	}{
		{
			name:    "unrecognized payload",
			payload: `{"hello":"world"}`,
			setup:   func(w *Worker) {},
			want:    noteUnrecognized,
		},
		{
			name:    "message without status",
			payload: `{"type":"message-event","payload":{"gsId":"gs-1"}}`,
			setup:   func(w *Worker) {},
			want:    noteUnrecognized,
		},
		{
			name:    "recipient not found",
			payload: messagePayload,
			setup: func(w *Worker) {
				w.Recipients = &fakeRecipients{outcome: projection.OutcomeNotFound}
			},
			want: noteRecipientNotFound,
		},
		{
			name:    "integration not found",
			payload: `{"type":"template-event","payload":{"elementName":"promo","status":"APPROVED"}}`,
			setup: func(w *Worker) {
				w.Integrations = &fakeIntegrations{err: projection.ErrIntegrationNotFound}
			},
			want: noteIntegrationNotFound,
		},
		{
			name:    "template not found",
			payload: `{"type":"template-event","payload":{"elementName":"promo","status":"APPROVED"}}`,
			setup: func(w *Worker) {
				w.Templates = &fakeTemplates{err: projection.ErrTemplateNotFound}
			},
			want: noteTemplateNotFound,
		},
		{
			name:    "user not found",
			payload: `{"type":"user-event","payload":{"phone":"5511912345678","type":"opted_out"}}`,
			setup: func(w *Worker) {
				w.Consents = &fakeConsents{err: projection.ErrUserNotFound}
			},
			want: noteUserNotFound,
		},
		{
			name:    "blocked ignored by configuration",
			payload: `{"type":"user-event","payload":{"phone":"5511912345678","type":"blocked"}}`,
			setup: func(w *Worker) {
				w.Consents = &fakeConsents{err: projection.ErrBlockedIgnored}
			},
			want: noteBlockedIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			w, _ := newTestWorker(store)
			tt.setup(w)

			tx := &fakeTx{}
			if err := w.processRow(context.Background(), tx, rawRow(9, tt.payload)); err != nil {
				t.Fatalf("processRow: %v", err)
			}

			if len(store.processed) != 1 || store.processed[0].note != tt.want {
				t.Errorf("processed = %+v, want note %q", store.processed, tt.want)
			}
			if len(store.failed) != 0 {
				t.Errorf("terminal note must not count as a failed attempt: %+v", store.failed)
			}
		})
	}
}

func TestProcessRowTransientFailureRetries(t *testing.T) {
	store := &fakeStore{}
	w, _ := newTestWorker(store)
	w.Recipients = &fakeRecipients{err: errors.New("deadlock detected")}

	tx := &fakeTx{}
	row := rawRow(3, messagePayload)
	row.Attempts = 2
	if err := w.processRow(context.Background(), tx, row); err != nil {
		t.Fatalf("processRow: %v", err)
	}

	if len(store.failed) != 1 {
		t.Fatalf("failed marks = %+v, want one", store.failed)
	}
	got := store.failed[0]
	if got.attempts != 3 {
		t.Errorf("attempts = %d, want 3", got.attempts)
	}
	if got.finalize {
		t.Error("attempt 3 of 10 must not finalize")
	}
	if got.errMsg != "deadlock detected" {
		t.Errorf("errMsg = %q", got.errMsg)
	}
	if len(store.processed) != 0 {
		t.Errorf("failed row must not be marked processed: %+v", store.processed)
	}
	if len(tx.children) != 1 || !tx.children[0].rolledBack {
		t.Error("savepoint must be rolled back on projection failure")
	}
}

func TestProcessRowFinalizesAfterMaxAttempts(t *testing.T) {
	store := &fakeStore{}
	w, _ := newTestWorker(store)
	w.Recipients = &fakeRecipients{err: errors.New("still broken")}

	// Tenth recorded attempt stays retryable, the eleventh finalizes.
	row := rawRow(4, messagePayload)
	row.Attempts = 9
	if err := w.processRow(context.Background(), &fakeTx{}, row); err != nil {
		t.Fatalf("processRow: %v", err)
	}
	if store.failed[0].attempts != 10 || store.failed[0].finalize {
		t.Errorf("attempt 10 = %+v, want retryable", store.failed[0])
	}

	row.Attempts = 10
	if err := w.processRow(context.Background(), &fakeTx{}, row); err != nil {
		t.Fatalf("processRow: %v", err)
	}
	if store.failed[1].attempts != 11 || !store.failed[1].finalize {
		t.Errorf("attempt 11 = %+v, want finalized", store.failed[1])
	}
}
