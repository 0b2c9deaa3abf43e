package pipeline

import "testing"

func TestApply_InFlightStatusCompletesEarlierSteps(t *testing.T) {
	s := Plan("doc-1", "report.pdf", "application/pdf")

	if !s.Apply(TaskState{Status: "chunking"}) {
		t.Fatal("Apply returned false for a mapped status")
	}

	for _, id := range []StepID{StepUpload, StepSecurityScan, StepExtract} {
		step, _ := s.step(id)
		if step.State != StateCompleted {
			t.Errorf("step %s = %s, want completed", id, step.State)
		}
	}
	chunk, _ := s.step(StepChunk)
	if chunk.State != StateProcessing {
		t.Errorf("chunk step = %s, want processing", chunk.State)
	}
	for _, id := range []StepID{StepEmbed, StepIndex} {
		step, _ := s.step(id)
		if step.State != StatePending {
			t.Errorf("step %s = %s, want pending", id, step.State)
		}
	}
}

func TestApply_UnknownStatusChangesNothing(t *testing.T) {
	s := Plan("doc-1", "report.pdf", "application/pdf")
	s.Apply(TaskState{Status: "extracting"})
	before := s.Progress()

	for _, status := range []string{"queued", "pending", "warming_up", ""} {
		if s.Apply(TaskState{Status: status}) {
			t.Errorf("Apply(%q) = true, want false", status)
		}
	}
	if s.Progress() != before {
		t.Errorf("Progress changed to %d on unknown status, want %d", s.Progress(), before)
	}
	extracting, _ := s.step(StepExtract)
	if extracting.State != StateProcessing {
		t.Errorf("extract step = %s after unknown statuses, want processing", extracting.State)
	}
}

func TestApply_Completed(t *testing.T) {
	s := Plan("doc-1", "scan.png", "image/png")
	s.Apply(TaskState{Status: "ocr", PagesProcessed: 2, TotalPages: 5})

	if !s.Apply(TaskState{Status: "completed"}) {
		t.Fatal("Apply(completed) = false")
	}
	if !s.Done() {
		t.Error("Done = false after completed status")
	}
	if got := s.Progress(); got != 100 {
		t.Errorf("Progress = %d, want 100", got)
	}
}

func TestApply_FailedMarksCurrentStepRecoverable(t *testing.T) {
	s := Plan("doc-1", "report.pdf", "application/pdf")
	s.Apply(TaskState{Status: "embedding"})

	if !s.Apply(TaskState{Status: "failed", Error: "embedder overloaded"}) {
		t.Fatal("Apply(failed) = false")
	}
	if s.Failure == nil {
		t.Fatal("Failure not set")
	}
	if s.Failure.Step != StepEmbed {
		t.Errorf("Failure.Step = %s, want embed", s.Failure.Step)
	}
	if s.Failure.Message != "embedder overloaded" {
		t.Errorf("Failure.Message = %q", s.Failure.Message)
	}
	if !s.Failure.Recoverable {
		t.Error("backend failures should be recoverable")
	}
}

func TestApply_FailedWithoutMessage(t *testing.T) {
	s := Plan("doc-1", "report.pdf", "application/pdf")
	s.Apply(TaskState{Status: "failed"})
	if s.Failure == nil || s.Failure.Message != "processing failed" {
		t.Errorf("Failure = %+v, want default message", s.Failure)
	}
}

func TestApply_OCRPageProgress(t *testing.T) {
	s := Plan("doc-1", "scan.png", "image/png")

	s.Apply(TaskState{Status: "ocr", PagesProcessed: 3, TotalPages: 8})

	step, _ := s.step(StepOCR)
	if step.State != StateProcessing {
		t.Errorf("ocr step = %s, want processing", step.State)
	}
	if step.PagesProcessed != 3 || step.TotalPages != 8 {
		t.Errorf("pages = %d/%d, want 3/8", step.PagesProcessed, step.TotalPages)
	}
}

func TestApply_SkipAheadCompletesIntermediateSteps(t *testing.T) {
	// Polling can miss intermediate snapshots; jumping straight to a
	// later step completes everything in between.
	s := Plan("doc-1", "report.pdf", "application/pdf")
	s.Apply(TaskState{Status: "chunking"})
	s.Apply(TaskState{Status: "indexing"})

	idx, _ := s.step(StepIndex)
	if idx.State != StateProcessing {
		t.Errorf("index step = %s, want processing", idx.State)
	}
	embed, _ := s.step(StepEmbed)
	if embed.State != StateCompleted {
		t.Errorf("embed step = %s, want completed", embed.State)
	}
}
