// Package reconciler provides high-level orchestration for invoice
// reconciliation.
//
// The Service owns every operation that reads or changes an invoice:
//   - Ingest validates an extraction record and stores a PROCESSING invoice
//   - Evaluate runs duplicate detection, the validator rules and the
//     three-way match, then persists status, reason and audit trail
//   - Post, Park, Release and Reject apply human lifecycle actions
//   - Train records a learning example and optionally an auto_approve rule
//
// Each evaluation reads one snapshot of purchase order data, rules and
// vendor history. A read failure aborts the evaluation before anything is
// written, so the invoice keeps its previous status and the call can be
// retried.
//
// The Orchestrator evaluates many invoices with bounded concurrency.
// Evaluations of distinct invoices run in parallel; the per-invoice lock
// rejects a second evaluation of the same invoice while one is in flight.
//
// Example usage:
//
//	service, err := reconciler.NewService(reconciler.Dependencies{Store: st}, nil)
//	if err != nil {
//		return err
//	}
//
//	orchestrator, err := reconciler.NewOrchestrator(service)
//	if err != nil {
//		return err
//	}
//	orchestrator.AddProgressCallback(func(p *reconciler.BatchProgress) {
//		fmt.Printf("Progress: %.1f%%\n", p.PercentComplete)
//	})
//
//	result, err := orchestrator.EvaluatePending(ctx, reconciler.BatchOptions{})
package reconciler

import (
	"context"
	"sort"
	"sync"
	"time"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/store"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

// Orchestrator evaluates batches of invoices
type Orchestrator struct {
	service *Service
	logger  logger.Logger

	progressCallbacks []ProgressCallback
	callbackMutex     sync.RWMutex
}

// BatchOptions selects the invoices of a batch
type BatchOptions struct {
	// InvoiceIDs evaluates exactly these invoices; empty means every
	// invoice still in PROCESSING.
	InvoiceIDs []string
	// Concurrency overrides the service's batch concurrency when positive
	Concurrency int
}

// InvoiceOutcome is the result of one invoice in a batch
type InvoiceOutcome struct {
	InvoiceID     string               `json:"invoice_id"`
	InvoiceNumber string               `json:"invoice_number,omitempty"`
	VendorName    string               `json:"vendor_name,omitempty"`
	Status        models.InvoiceStatus `json:"status,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Error         string               `json:"error,omitempty"`
	ErrorCode     errors.ErrorCode     `json:"error_code,omitempty"`
	Retryable     bool                 `json:"retryable,omitempty"`
	Duration      time.Duration        `json:"duration"`
}

// Failed reports whether the invoice could not be evaluated
func (o *InvoiceOutcome) Failed() bool {
	return o.Error != ""
}

// BatchResult summarizes one batch
type BatchResult struct {
	StartedAt    time.Time                    `json:"started_at"`
	FinishedAt   time.Time                    `json:"finished_at"`
	Duration     time.Duration                `json:"duration"`
	Total        int                          `json:"total"`
	Evaluated    int                          `json:"evaluated"`
	Failed       int                          `json:"failed"`
	StatusCounts map[models.InvoiceStatus]int `json:"status_counts"`
	Outcomes     []*InvoiceOutcome            `json:"outcomes"`
}

// Statuses returns the statuses present in the breakdown in a stable order
func (r *BatchResult) Statuses() []models.InvoiceStatus {
	statuses := make([]models.InvoiceStatus, 0, len(r.StatusCounts))
	for status := range r.StatusCounts {
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	return statuses
}

// NeedsAttention counts outcomes that landed in a blocked or awaiting state
func (r *BatchResult) NeedsAttention() int {
	n := 0
	for status, count := range r.StatusCounts {
		if status.NeedsAttention() {
			n += count
		}
	}
	return n
}

// BatchProgress is reported after every finished invoice
type BatchProgress struct {
	Total           int           `json:"total"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	PercentComplete float64       `json:"percent_complete"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
	LastInvoiceID   string        `json:"last_invoice_id"`
}

// ProgressCallback is called to report batch progress
type ProgressCallback func(*BatchProgress)

// NewOrchestrator creates a batch orchestrator on top of a service
func NewOrchestrator(service *Service) (*Orchestrator, error) {
	if service == nil {
		return nil, errors.ValidationError(
			errors.CodeMissingField,
			"reconciliation_service",
			nil,
			nil,
		).WithSuggestion("Provide a valid Service instance")
	}

	return &Orchestrator{
		service: service,
		logger:  service.logger.WithComponent("batch_orchestrator"),
	}, nil
}

// AddProgressCallback adds a callback to receive progress updates
func (o *Orchestrator) AddProgressCallback(callback ProgressCallback) {
	o.callbackMutex.Lock()
	defer o.callbackMutex.Unlock()
	o.progressCallbacks = append(o.progressCallbacks, callback)
}

// EvaluatePending evaluates a batch of invoices. Per-invoice failures are
// recorded in the result; the returned error is reserved for failures to
// select the batch itself. Cancelling ctx stops dispatching new invoices.
func (o *Orchestrator) EvaluatePending(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	ids, err := o.selectInvoices(ctx, opts)
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = o.service.config.BatchConcurrency
	}

	result := &BatchResult{
		StartedAt:    time.Now(),
		Total:        len(ids),
		StatusCounts: make(map[models.InvoiceStatus]int),
		Outcomes:     make([]*InvoiceOutcome, len(ids)),
	}

	o.logger.WithFields(logger.Fields{
		"invoices":    len(ids),
		"concurrency": concurrency,
	}).Info("Starting batch evaluation")

	var tracker *logger.ProgressTracker
	if o.service.config.ProgressReporting && len(ids) > 0 {
		tracker = logger.NewProgressTracker(logger.ProgressConfig{
			Operation:   "evaluate_pending",
			Total:       int64(len(ids)),
			LogInterval: o.service.config.ProgressInterval,
			Logger:      o.logger,
		})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		failed    int
		sem       = make(chan struct{}, concurrency)
	)

dispatch:
	for i, id := range ids {
		select {
		case <-ctx.Done():
			for j := i; j < len(ids); j++ {
				result.Outcomes[j] = &InvoiceOutcome{InvoiceID: ids[j], Error: ctx.Err().Error()}
			}
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := o.evaluateOne(ctx, id)

			mu.Lock()
			result.Outcomes[i] = outcome
			completed++
			if outcome.Failed() {
				failed++
			}
			progress := &BatchProgress{
				Total:           len(ids),
				Completed:       completed,
				Failed:          failed,
				PercentComplete: float64(completed) / float64(len(ids)) * 100,
				ElapsedTime:     time.Since(result.StartedAt),
				LastInvoiceID:   id,
			}
			mu.Unlock()

			if tracker != nil {
				tracker.Increment(outcome.Failed())
			}
			o.notifyProgress(progress)
		}(i, id)
	}
	wg.Wait()

	if tracker != nil {
		tracker.Complete()
	}

	for _, outcome := range result.Outcomes {
		if outcome.Failed() {
			result.Failed++
			continue
		}
		result.Evaluated++
		result.StatusCounts[outcome.Status]++
	}
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	o.logger.WithFields(logger.Fields{
		"total":           result.Total,
		"evaluated":       result.Evaluated,
		"failed":          result.Failed,
		"needs_attention": result.NeedsAttention(),
		"duration":        result.Duration.String(),
	}).Info("Batch evaluation completed")

	return result, nil
}

func (o *Orchestrator) selectInvoices(ctx context.Context, opts BatchOptions) ([]string, error) {
	if len(opts.InvoiceIDs) > 0 {
		seen := make(map[string]bool, len(opts.InvoiceIDs))
		ids := make([]string, 0, len(opts.InvoiceIDs))
		for _, id := range opts.InvoiceIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		return ids, nil
	}

	pending, err := o.service.ListInvoices(ctx, store.InvoiceFilter{
		Statuses: []models.InvoiceStatus{models.StatusProcessing},
		Limit:    o.service.config.BatchLimit,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pending))
	for _, inv := range pending {
		ids = append(ids, inv.ID)
	}
	return ids, nil
}

func (o *Orchestrator) evaluateOne(ctx context.Context, id string) *InvoiceOutcome {
	start := time.Now()
	outcome := &InvoiceOutcome{InvoiceID: id}

	res, err := o.service.Evaluate(ctx, id)
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.Error = err.Error()
		if rerr, ok := errors.AsReconcilerError(err); ok {
			outcome.ErrorCode = rerr.Code
			outcome.Retryable = rerr.IsRetryable()
		}
		log := o.logger.WithError(err).WithField("invoice_id", id)
		if errors.HasCode(err, errors.CodeEvaluationInFlight) {
			log.Info("Invoice already being evaluated, skipped")
			return outcome
		}
		log.Warn("Invoice evaluation failed")
		return outcome
	}

	outcome.InvoiceNumber = res.InvoiceNumber
	outcome.VendorName = res.VendorName
	outcome.Status = res.Status
	outcome.Reason = res.Reason
	return outcome
}

func (o *Orchestrator) notifyProgress(progress *BatchProgress) {
	o.callbackMutex.RLock()
	defer o.callbackMutex.RUnlock()
	for _, callback := range o.progressCallbacks {
		callback(progress)
	}
}
