// Package pipeline models a document's multi-step ingestion as an
// ordered list of step states, independent of who executes the steps.
// The backend drives it in normal operation; the local Runner drives
// it in mock mode.
package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/marchuk/docdeck/internal/extract"
)

// StepID names one discrete stage of document ingestion.
type StepID string

const (
	StepUpload       StepID = "upload"
	StepSecurityScan StepID = "security_scan"
	StepExtract      StepID = "extract"
	StepOCR          StepID = "ocr"
	StepChunk        StepID = "chunk"
	StepEmbed        StepID = "embed"
	StepIndex        StepID = "index"
)

// StepState is the per-step state machine:
// pending -> processing -> {completed | error}; error may go back to
// processing when the step is retried.
type StepState string

const (
	StatePending    StepState = "pending"
	StateProcessing StepState = "processing"
	StateCompleted  StepState = "completed"
	StateError      StepState = "error"
)

// Step is one stage of the pipeline with its own state and timing.
type Step struct {
	ID    StepID    `json:"id"`
	Label string    `json:"label"`
	State StepState `json:"state"`

	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`

	// OCR progress; zero for every other step.
	PagesProcessed int `json:"pagesProcessed,omitempty"`
	TotalPages     int `json:"totalPages,omitempty"`

	Err string `json:"error,omitempty"`
}

func (s Step) terminal() bool {
	return s.State == StateCompleted
}

// Failure is the pipeline's terminal error. When Recoverable is true
// the consumer may retry, which restarts execution from the failed
// step rather than from the beginning.
type Failure struct {
	Step        StepID `json:"step"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Status is the whole-pipeline state for one document.
type Status struct {
	DocumentID string   `json:"documentId"`
	Steps      []Step   `json:"steps"`
	Failure    *Failure `json:"failure,omitempty"`
}

var stepLabels = map[StepID]string{
	StepUpload:       "Uploading",
	StepSecurityScan: "Security scan",
	StepExtract:      "Extracting text",
	StepOCR:          "Running OCR",
	StepChunk:        "Chunking",
	StepEmbed:        "Generating embeddings",
	StepIndex:        "Indexing",
}

// Plan builds the step list for a file. OCR is included only for image
// formats; every other file type skips it.
func Plan(documentID, fileName, mimeType string) *Status {
	ids := []StepID{StepUpload, StepSecurityScan, StepExtract}
	if extract.IsImage(fileName, mimeType) {
		ids = append(ids, StepOCR)
	}
	ids = append(ids, StepChunk, StepEmbed, StepIndex)

	steps := make([]Step, len(ids))
	for i, id := range ids {
		steps[i] = Step{ID: id, Label: stepLabels[id], State: StatePending}
	}
	return &Status{DocumentID: documentID, Steps: steps}
}

// CurrentStep returns the ID of the first step that has not completed,
// or "" once every step is completed.
func (s *Status) CurrentStep() StepID {
	for _, step := range s.Steps {
		if !step.terminal() {
			return step.ID
		}
	}
	return ""
}

// Progress is round(100 × completed / total). It reaches exactly 100
// only when every step has completed.
func (s *Status) Progress() int {
	if len(s.Steps) == 0 {
		return 0
	}
	completed := 0
	for _, step := range s.Steps {
		if step.State == StateCompleted {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(s.Steps))))
}

// Done reports whether every step has completed.
func (s *Status) Done() bool {
	return s.CurrentStep() == ""
}

func (s *Status) step(id StepID) (*Step, error) {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i], nil
		}
	}
	return nil, fmt.Errorf("unknown step %q", id)
}

// Start moves a step to processing. At most one step may be processing
// at a time; starting a second one is an error.
func (s *Status) Start(id StepID) error {
	for _, step := range s.Steps {
		if step.State == StateProcessing && step.ID != id {
			return fmt.Errorf("step %q already processing", step.ID)
		}
	}
	step, err := s.step(id)
	if err != nil {
		return err
	}
	if step.State == StateCompleted {
		return fmt.Errorf("step %q already completed", id)
	}
	step.State = StateProcessing
	step.StartedAt = time.Now().UTC()
	step.CompletedAt = time.Time{}
	step.Err = ""
	return nil
}

// Complete marks a processing step completed.
func (s *Status) Complete(id StepID) error {
	step, err := s.step(id)
	if err != nil {
		return err
	}
	if step.State != StateProcessing {
		return fmt.Errorf("step %q is %s, not processing", id, step.State)
	}
	step.State = StateCompleted
	step.CompletedAt = time.Now().UTC()
	if step.CompletedAt.Before(step.StartedAt) {
		step.CompletedAt = step.StartedAt
	}
	return nil
}

// Fail marks a step errored and records the pipeline's terminal
// failure.
func (s *Status) Fail(id StepID, message string, recoverable bool) error {
	step, err := s.step(id)
	if err != nil {
		return err
	}
	step.State = StateError
	step.Err = message
	s.Failure = &Failure{Step: id, Message: message, Recoverable: recoverable}
	return nil
}

// Retry clears a recoverable failure and moves the errored step back
// to processing. Execution resumes from that step, not from the start.
func (s *Status) Retry() error {
	if s.Failure == nil {
		return fmt.Errorf("no failure to retry")
	}
	if !s.Failure.Recoverable {
		return fmt.Errorf("failure at step %q is not recoverable", s.Failure.Step)
	}
	step, err := s.step(s.Failure.Step)
	if err != nil {
		return err
	}
	step.State = StateProcessing
	step.StartedAt = time.Now().UTC()
	step.CompletedAt = time.Time{}
	step.Err = ""
	s.Failure = nil
	return nil
}

// SetOCRProgress updates page progress on the OCR step.
func (s *Status) SetOCRProgress(processed, total int) {
	step, err := s.step(StepOCR)
	if err != nil {
		return
	}
	step.PagesProcessed = processed
	step.TotalPages = total
}
