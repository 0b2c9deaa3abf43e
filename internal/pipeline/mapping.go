package pipeline

// TaskState is the status payload the backend's task tracker emits
// while it processes a document.
type TaskState struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	PagesProcessed int `json:"pages_processed,omitempty"`
	TotalPages     int `json:"total_pages,omitempty"`
}

// stepForTaskStatus maps every backend status onto the step it puts in
// flight. Statuses absent here ("queued", "pending", anything unknown)
// report no step progress yet; the poller keeps the previous snapshot
// rather than guessing.
var stepForTaskStatus = map[string]StepID{
	"uploading":  StepUpload,
	"scanning":   StepSecurityScan,
	"extracting": StepExtract,
	"ocr":        StepOCR,
	"chunking":   StepChunk,
	"embedding":  StepEmbed,
	"indexing":   StepIndex,
}

// Apply folds one external task snapshot into the status. It returns
// false when the snapshot carries no step progress (queued or unknown
// statuses), in which case nothing changed.
func (s *Status) Apply(task TaskState) bool {
	switch task.Status {
	case "completed":
		for i := range s.Steps {
			step := &s.Steps[i]
			if step.State == StateCompleted {
				continue
			}
			if step.State == StatePending {
				_ = s.Start(step.ID)
			}
			_ = s.Complete(step.ID)
		}
		s.Failure = nil
		return true

	case "failed":
		current := s.CurrentStep()
		if current == "" && len(s.Steps) > 0 {
			current = s.Steps[len(s.Steps)-1].ID
		}
		msg := task.Error
		if msg == "" {
			msg = "processing failed"
		}
		_ = s.Fail(current, msg, true)
		return true
	}

	target, ok := stepForTaskStatus[task.Status]
	if !ok {
		return false
	}

	// Everything before the in-flight step is complete; the target
	// itself is processing.
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.ID == target {
			if step.State != StateProcessing {
				_ = s.Start(step.ID)
			}
			break
		}
		if step.State != StateCompleted {
			if step.State == StatePending || step.State == StateError {
				_ = s.Start(step.ID)
			}
			_ = s.Complete(step.ID)
		}
	}

	if target == StepOCR && task.TotalPages > 0 {
		s.SetOCRProgress(task.PagesProcessed, task.TotalPages)
	}
	return true
}
