// Package ledger records the start and outcome of every pipeline run.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswatch/internal/model"
)

// Store is the subset of store.Store the ledger needs.
type Store interface {
	CreateRunRecord(ctx context.Context, r model.RunRecord) error
	FinishRunRecord(ctx context.Context, id string, status model.RunStatus, message string, endedAt time.Time) error
	GetRunRecord(ctx context.Context, id string) (*model.RunRecord, error)
	ListRunRecords(ctx context.Context, limit int) ([]model.RunRecord, error)
}

// Ledger writes RunRecords. Writes never fail the caller: a failed update
// is replaced by a standalone error record so the outcome is not lost.
type Ledger struct {
	store Store
	now   func() time.Time
	log   *zap.Logger

	mu        sync.Mutex
	processes map[string]string // run id -> process name
}

// New creates a Ledger. A nil now uses time.Now.
func New(s Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		store:     s,
		now:       now,
		log:       zap.L().With(zap.String("component", "ledger")),
		processes: make(map[string]string),
	}
}

// Start inserts a running record and returns its id. The id is returned
// even when the insert fails so later Finish calls can fall back.
func (l *Ledger) Start(ctx context.Context, process, message string) string {
	id := uuid.NewString()
	l.mu.Lock()
	l.processes[id] = process
	l.mu.Unlock()

	err := l.store.CreateRunRecord(ctx, model.RunRecord{
		ID:        id,
		Process:   process,
		Status:    model.RunStatusRunning,
		Message:   message,
		StartedAt: l.now(),
	})
	if err != nil {
		l.log.Error("failed to record run start",
			zap.String("run_id", id), zap.String("process", process), zap.Error(err))
	}
	return id
}

// Finish sets the final status and message. An earlier error status wins.
// Finish is terminal: the run is forgotten afterwards.
func (l *Ledger) Finish(ctx context.Context, id string, status model.RunStatus, message string) {
	l.update(ctx, id, status, message)

	l.mu.Lock()
	delete(l.processes, id)
	l.mu.Unlock()
}

// tracked reports how many runs are between Start and Finish.
func (l *Ledger) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processes)
}

// MarkError records err against the run.
func (l *Ledger) MarkError(ctx context.Context, id string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	l.update(ctx, id, model.RunStatusError, msg)
}

// update outlives ctx: a run interrupted by a signal must still be closed.
func (l *Ledger) update(ctx context.Context, id string, status model.RunStatus, message string) {
	ctx = context.WithoutCancel(ctx)
	err := l.store.FinishRunRecord(ctx, id, status, message, l.now())
	if err == nil {
		return
	}
	l.log.Warn("run update failed, writing standalone error record",
		zap.String("run_id", id), zap.String("status", string(status)), zap.Error(err))

	l.mu.Lock()
	process := l.processes[id]
	l.mu.Unlock()
	if process == "" {
		process = "unknown"
	}
	l.recordStandalone(ctx, process, fmt.Sprintf("run %s (%s): %s", id, status, message))
}

// RecordError creates a standalone error record for process and returns its id.
func (l *Ledger) RecordError(ctx context.Context, process string, err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return l.recordStandalone(ctx, process, msg)
}

func (l *Ledger) recordStandalone(ctx context.Context, process, message string) string {
	ctx = context.WithoutCancel(ctx)
	now := l.now()
	id := uuid.NewString()
	err := l.store.CreateRunRecord(ctx, model.RunRecord{
		ID:        id,
		Process:   process,
		Status:    model.RunStatusError,
		Message:   message,
		StartedAt: now,
		EndedAt:   &now,
	})
	if err != nil {
		l.log.Error("failed to record standalone error",
			zap.String("process", process), zap.String("message", message), zap.Error(err))
	}
	return id
}

// Get returns one run record.
func (l *Ledger) Get(ctx context.Context, id string) (*model.RunRecord, error) {
	r, err := l.store.GetRunRecord(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: get run %s", id)
	}
	return r, nil
}

// List returns the most recent runs first.
func (l *Ledger) List(ctx context.Context, limit int) ([]model.RunRecord, error) {
	runs, err := l.store.ListRunRecords(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list runs")
	}
	return runs, nil
}
