// Package worker drains the raw event buffer: one serial tick loop per
// process, batches claimed with FOR UPDATE SKIP LOCKED so replicas never
// overlap, per-row projection under a savepoint so one bad row cannot
// poison the batch.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/awerhq/wpp-webhooks/internal/metrics"
	"github.com/awerhq/wpp-webhooks/internal/normalize"
	"github.com/awerhq/wpp-webhooks/internal/projection"
	"github.com/awerhq/wpp-webhooks/internal/rawstore"
)

// DB begins transactions; satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the raw buffer surface the worker drives.
type Store interface {
	LockNextBatch(ctx context.Context, tx pgx.Tx, batchSize int) ([]rawstore.RawEvent, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id int64, note string) error
	MarkFailedAttempt(ctx context.Context, tx pgx.Tx, id int64, attempts int, errMsg string, finalize bool) error
}

// Projection interfaces, one per event kind.
type (
	RecipientProjector interface {
		ApplyMessageEvent(ctx context.Context, tx pgx.Tx, ev normalize.Event) (projection.Outcome, error)
	}
	TemplateProjector interface {
		ApplyTemplateEvent(ctx context.Context, tx pgx.Tx, integ projection.Integration, ev normalize.Event) error
	}
	ConsentProjector interface {
		ApplyConsentEvent(ctx context.Context, tx pgx.Tx, companyID int64, ev normalize.Event) error
	}
	IntegrationResolver interface {
		FindActiveByAppID(ctx context.Context, tx pgx.Tx, appID string) (projection.Integration, error)
	}
)

// Worker is the asynchronous batch processor.
type Worker struct {
	DB           DB
	Store        Store
	Recipients   RecipientProjector
	Templates    TemplateProjector
	Consents     ConsentProjector
	Integrations IntegrationResolver

	BatchSize   int
	Interval    time.Duration
	MaxAttempts int

	// tickMu suppresses overlapping ticks when one runs long.
	tickMu sync.Mutex
}

// Run ticks until ctx is cancelled. The in-flight tick finishes (commit
// or rollback) before Run returns.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", w.Interval).
		Int("batch_size", w.BatchSize).
		Msg("webhook worker started")

	for {
		select {
		case <-ctx.Done():
			// Wait for an in-flight tick before reporting stopped.
			w.tickMu.Lock()
			log.Info().Msg("webhook worker stopped")
			w.tickMu.Unlock()
			return
		case <-ticker.C:
			if !w.tickMu.TryLock() {
				log.Debug().Msg("previous tick still running, skipping")
				continue
			}
			w.tick(ctx)
			w.tickMu.Unlock()
		}
	}
}

// tick claims one batch and processes it inside a single transaction.
func (w *Worker) tick(ctx context.Context) {
	tx, err := w.DB.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("tick: begin failed")
		return
	}
	defer tx.Rollback(ctx)

	batch, err := w.Store.LockNextBatch(ctx, tx, w.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("tick: batch claim failed")
		return
	}
	metrics.BatchSize.Observe(float64(len(batch)))
	if len(batch) == 0 {
		if err := tx.Commit(ctx); err != nil {
			log.Error().Err(err).Msg("tick: commit failed")
		}
		return
	}

	for _, row := range batch {
		if err := w.processRow(ctx, tx, row); err != nil {
			// Transaction-scope failure: rollback the whole tick and
			// let the next one retry the batch.
			log.Error().Err(err).Int64("raw_event_id", row.ID).Msg("tick: transaction failure")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("tick: commit failed")
		return
	}
	log.Debug().Int("rows", len(batch)).Msg("tick committed")
}
