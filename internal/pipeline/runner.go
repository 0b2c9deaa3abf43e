package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/marchuk/docdeck/internal/extract"
	"github.com/marchuk/docdeck/internal/metrics"
	"github.com/marchuk/docdeck/internal/storage"
)

// JobType is the queue entry processed by the Runner.
const JobType = "process_document"

// DocumentStore abstracts the queue and document operations the Runner
// needs.
type DocumentStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	UpdateDocumentState(id, state, statusJSON string) error
}

// RunnerConfig tunes the local pipeline execution.
type RunnerConfig struct {
	// PollInterval between queue checks; <= 0 defaults to 500ms.
	PollInterval time.Duration
	// StepDelay is the simulated work per step (and per OCR page).
	StepDelay time.Duration
	// FailureRate in [0,1) injects a recoverable step failure with the
	// given probability, driven by Seed so tests are deterministic.
	FailureRate float64
	Seed        int64
}

// Runner executes process_document jobs from the local queue. This is
// the mock-mode stand-in for the backend's real ingestion service: it
// advances the same step sequence with simulated latency, so status
// polling behaves identically in both modes.
type Runner struct {
	store       DocumentStore
	poll        time.Duration
	stepDelay   time.Duration
	failureRate float64
	rng         *rand.Rand
	logger      *slog.Logger
}

// NewRunner creates a Runner with the given dependencies.
func NewRunner(store DocumentStore, cfg RunnerConfig) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Runner{
		store:       store,
		poll:        cfg.PollInterval,
		stepDelay:   cfg.StepDelay,
		failureRate: cfg.FailureRate,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		logger:      slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("runner iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed, regardless of success.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := r.processJob(ctx, job); err != nil {
		r.logger.Warn("processing failed", "job_id", job.ID, "error", err)
		if failErr := r.store.FailJob(job.ID, err.Error()); failErr != nil {
			r.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := r.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type jobPayload struct {
	DocumentID string `json:"document_id"`
}

func (r *Runner) processJob(ctx context.Context, job *storage.Job) error {
	var payload jobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := r.store.GetDocument(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	status, err := r.loadOrPlan(doc)
	if err != nil {
		return err
	}

	// A retried job resumes from the errored step, not from the start.
	if status.Failure != nil {
		if !status.Failure.Recoverable {
			return fmt.Errorf("document %s failed at step %s: %s", doc.ID, status.Failure.Step, status.Failure.Message)
		}
		if err := status.Retry(); err != nil {
			return err
		}
		if err := r.persist(doc.ID, storage.DocProcessing, status); err != nil {
			return err
		}
	}

	for {
		current := status.CurrentStep()
		if current == "" {
			break
		}
		if err := r.runStep(ctx, &doc, status, current); err != nil {
			return err
		}
	}

	return r.persist(doc.ID, storage.DocProcessed, status)
}

func (r *Runner) loadOrPlan(doc storage.Document) (*Status, error) {
	if doc.StatusJSON != "" {
		var status Status
		if err := json.Unmarshal([]byte(doc.StatusJSON), &status); err != nil {
			return nil, fmt.Errorf("parsing status snapshot for %s: %w", doc.ID, err)
		}
		return &status, nil
	}
	return Plan(doc.ID, doc.Name, doc.MimeType), nil
}

func (r *Runner) runStep(ctx context.Context, doc *storage.Document, status *Status, id StepID) error {
	step, err := status.step(id)
	if err != nil {
		return err
	}
	if step.State != StateProcessing {
		if err := status.Start(id); err != nil {
			return err
		}
	}
	if err := r.persist(doc.ID, storage.DocProcessing, status); err != nil {
		return err
	}

	started := time.Now()
	if err := r.executeStep(ctx, doc, status, id); err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-step is not a document failure: leave the
			// snapshot untouched so the requeued job resumes this step
			// after restart.
			return fmt.Errorf("step %s: %w", id, err)
		}
		_ = status.Fail(id, err.Error(), true)
		if perr := r.persist(doc.ID, storage.DocFailed, status); perr != nil {
			r.logger.Error("persisting failed status", "document_id", doc.ID, "error", perr)
		}
		return fmt.Errorf("step %s: %w", id, err)
	}
	metrics.PipelineStepSeconds.WithLabelValues(string(id)).Observe(time.Since(started).Seconds())

	if err := status.Complete(id); err != nil {
		return err
	}
	return r.persist(doc.ID, storage.DocProcessing, status)
}

func (r *Runner) executeStep(ctx context.Context, doc *storage.Document, status *Status, id StepID) error {
	if r.failureRate > 0 && r.rng.Float64() < r.failureRate {
		return fmt.Errorf("injected failure")
	}

	switch id {
	case StepExtract:
		res, err := extract.Text(doc.Name, doc.Content)
		if err != nil {
			return err
		}
		if extract.IsImage(doc.Name, doc.MimeType) {
			status.SetOCRProgress(0, res.Pages)
		}
		return r.wait(ctx)

	case StepOCR:
		step, err := status.step(StepOCR)
		if err != nil {
			return err
		}
		total := step.TotalPages
		if total <= 0 {
			total = 1
			status.SetOCRProgress(0, total)
		}
		for page := step.PagesProcessed + 1; page <= total; page++ {
			if err := r.wait(ctx); err != nil {
				return err
			}
			status.SetOCRProgress(page, total)
			if err := r.persist(doc.ID, storage.DocProcessing, status); err != nil {
				return err
			}
		}
		return nil

	default:
		return r.wait(ctx)
	}
}

func (r *Runner) wait(ctx context.Context) error {
	if r.stepDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.stepDelay):
		return nil
	}
}

func (r *Runner) persist(docID, state string, status *Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encoding status snapshot: %w", err)
	}
	if err := r.store.UpdateDocumentState(docID, state, string(data)); err != nil {
		return fmt.Errorf("persisting status for %s: %w", docID, err)
	}
	return nil
}
