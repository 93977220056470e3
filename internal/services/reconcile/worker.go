// Package reconcile settles cash transactions whose connector outcome was
// unknown when the request returned. It asks the rail what happened and
// hands the answer to the orchestrator, which owns every balance change.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paysa/internal/metrics"
	"paysa/internal/models"
	"paysa/internal/services/settlement"
)

// Outcomes reported per record.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomePending   = "pending"
	OutcomeError     = "error"
)

// Lister finds records stuck before a terminal state. wallet.Store satisfies it.
type Lister interface {
	ListByStatus(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]models.Transaction, error)
}

// Resolver applies a connector result. *transaction.Service satisfies it.
type Resolver interface {
	ResolveSettlement(ctx context.Context, id string, res settlement.Result) (*models.Transaction, error)
}

type Config struct {
	Interval time.Duration
	// Grace skips records touched more recently than this, leaving them to the request still in flight.
	Grace     time.Duration
	BatchSize int
	// Timeout bounds each connector call.
	Timeout time.Duration
}

// Report summarizes one pass.
type Report struct {
	Scanned   int
	Completed int
	Failed    int
	Pending   int
	Errors    int
}

func (r *Report) add(outcome string) {
	switch outcome {
	case OutcomeCompleted:
		r.Completed++
	case OutcomeFailed:
		r.Failed++
	case OutcomePending:
		r.Pending++
	default:
		r.Errors++
	}
}

type Worker struct {
	store    Lister
	router   settlement.Router
	resolver Resolver
	cfg      Config
	metrics  metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

func NewWorker(store Lister, router settlement.Router, resolver Resolver, cfg Config, m metrics.Collector, logger *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if m == nil {
		m = metrics.NoopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:    store,
		router:   router,
		resolver: resolver,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("component", "reconcile"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run reconciles every Interval until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := w.RunOnce(ctx)
			if err != nil {
				w.logger.ErrorContext(ctx, "reconciliation pass failed", "error", err)
				continue
			}
			if report.Scanned > 0 {
				w.logger.InfoContext(ctx, "reconciliation pass finished",
					"scanned", report.Scanned,
					"completed", report.Completed,
					"failed", report.Failed,
					"pending", report.Pending,
					"errors", report.Errors,
				)
			}
		}
	}
}

// RunOnce processes one batch of stuck records.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	stuck, err := w.store.ListByStatus(ctx,
		[]string{models.StatusReserved, models.StatusSettling},
		w.now().Add(-w.cfg.Grace),
		w.cfg.BatchSize,
	)
	if err != nil {
		return report, fmt.Errorf("list unsettled transactions: %w", err)
	}
	for i := range stuck {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		tx := &stuck[i]
		if !tx.IsCash() {
			continue
		}
		report.Scanned++
		outcome := w.reconcile(ctx, tx)
		report.add(outcome)
		w.metrics.RecordReconciled(outcome)
	}
	return report, nil
}

func (w *Worker) reconcile(ctx context.Context, tx *models.Transaction) string {
	log := w.logger.With("transaction_id", tx.ID, "method", tx.Method, "status", tx.Status)

	conn, err := w.router.For(tx.Method)
	if err != nil {
		log.WarnContext(ctx, "no connector for unsettled transaction", "error", err)
		return OutcomeError
	}

	res, err := w.ask(ctx, conn, tx)
	if err != nil {
		log.WarnContext(ctx, "settlement still unknown", "error", err)
		return OutcomeError
	}
	if res.Status == settlement.StatusPending && tx.Status == models.StatusSettling &&
		(res.ExternalRef == "" || (tx.ExternalReference != nil && *tx.ExternalReference == res.ExternalRef)) {
		return OutcomePending
	}

	resolved, err := w.resolver.ResolveSettlement(ctx, tx.ID, res)
	if resolved == nil {
		log.ErrorContext(ctx, "could not apply settlement result", "error", err)
		return OutcomeError
	}
	switch resolved.Status {
	case models.StatusCompleted:
		return OutcomeCompleted
	case models.StatusFailed, models.StatusCancelled:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// ask queries a known reference and otherwise resubmits, which the connector deduplicates.
func (w *Worker) ask(ctx context.Context, conn settlement.Connector, tx *models.Transaction) (settlement.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	if tx.ExternalReference != nil && *tx.ExternalReference != "" {
		res, err := conn.QueryStatus(ctx, *tx.ExternalReference)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, settlement.ErrUnknownReference) {
			return settlement.Result{}, err
		}
	}

	res, err := conn.Submit(ctx, tx)
	if err != nil {
		if errors.Is(err, settlement.ErrRejected) {
			detail := res.Detail
			if detail == "" {
				detail = err.Error()
			}
			return settlement.Result{ExternalRef: res.ExternalRef, Status: settlement.StatusFailed, Detail: detail}, nil
		}
		return settlement.Result{}, err
	}
	return res, nil
}
