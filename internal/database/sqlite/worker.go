package sqlite

import (
	"context"
	"database/sql"
)

// TxFn runs inside a write transaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker serializes all write transactions through one goroutine.
type Worker struct {
	db   *sql.DB
	jobs chan job
	done chan struct{}
}

// NewWorker starts the write loop.
func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close drains queued jobs and stops the loop.
func (w *Worker) Close() {
	close(w.jobs)
	<-w.done
}

// Do runs fn in a transaction on the worker goroutine. Once a job is queued Do
// waits for its outcome, so the caller never reports failure for a committed
// write. A canceled ctx still makes the queued transaction roll back.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-ch
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		tx, err := w.db.BeginTx(j.ctx, nil)
		if err != nil {
			j.ch <- err
			continue
		}

		if err := j.fn(j.ctx, tx); err != nil {
			_ = tx.Rollback()
			j.ch <- err
			continue
		}

		j.ch <- tx.Commit()
	}
}
