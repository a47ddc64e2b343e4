package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/types"
)

// WithTx runs fn inside a transaction, committing on success and
// rolling back on any error (including a panic, which is re-raised
// after rollback). This is the "single transaction" half of the
// shared-resource policy in spec.md §5: any write that spans multiple
// rows (validation + raw2valid edges, task + status row) must go
// through WithTx.
func (p *Pool) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, beginErr := p.Begin(ctx)
	if beginErr != nil {
		return errors.Wrap(beginErr, "could not begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "could not commit transaction")
	}
	return nil
}

// NotifyPayload issues pg_notify(channel, payload) using q, the JSON
// text of the row that was just inserted, per spec.md §6. Call this in
// the same transaction (or the same autocommit statement sequence) as
// the insert it announces, so that a reader who sees the notification
// is guaranteed to see the row.
func NotifyPayload(ctx context.Context, q types.Querier, channel, payload string) error {
	_, err := q.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	return err
}

// RowTemplate describes one row of a batch insert: the positional
// arguments for a single VALUES tuple of a fixed INSERT statement.
type RowTemplate struct {
	Args []any
}

// BatchInsert executes sqlStmt once per row using pgx's pipelined batch
// protocol, which amortizes round trips across many rows while keeping
// each row's own success/failure independent. Rows that fail with a
// unique-constraint violation are treated as "already done" (spec.md
// §7, Conflict) and counted in skipped rather than aborting the whole
// batch; any other error aborts and is returned.
func (p *Pool) BatchInsert(ctx context.Context, table, sqlStmt string, rows []RowTemplate) (inserted, skipped int, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	timer := prometheus.NewTimer(batchInsertDuration.WithLabelValues(table))
	defer timer.ObserveDuration()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(sqlStmt, row.Args...)
	}

	br := p.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		_, execErr := br.Exec()
		switch {
		case execErr == nil:
			inserted++
		case errs.IsUniqueViolation(execErr):
			skipped++
			batchInsertSkipped.WithLabelValues(table).Inc()
		default:
			return inserted, skipped, errors.Wrap(execErr, "batch insert failed")
		}
	}
	return inserted, skipped, nil
}
