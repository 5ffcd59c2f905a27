package tasks

import (
	"fmt"

	"github.com/desertthunder/agx/internal/shared"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	ExtractCandidates Phase = iota
	AddCredential
	RefreshQuotas
	SweepQuota
)

func (p Phase) String() string {
	switch p {
	case ExtractCandidates:
		return "extract_tokens"
	case AddCredential:
		return "add_credential"
	case RefreshQuotas:
		return "refresh_quotas"
	case SweepQuota:
		return "sweep_quota"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func extractedUpdate(source string, n int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExtractCandidates,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d credential(s) in %s", n, source),
	}
}

func addingUpdate(step, total int, c Candidate) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AddCredential,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Adding credential %d/%d...", step, total),
		Data:    c.Masked(),
	}
}

func addFailedUpdate(step, total int, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AddCredential,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %v", step, total, err),
	}
}

func refreshingUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   RefreshQuotas,
		Step:    1,
		Total:   1,
		Message: "Refreshing quotas...",
	}
}

func sweepUpdate(step, total int, id string, err error) ProgressUpdate {
	if err != nil {
		return ProgressUpdate{
			Phase:   SweepQuota,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, shared.Truncate(id, 12), err),
		}
	}
	return ProgressUpdate{
		Phase:   SweepQuota,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s", step, total, shared.Truncate(id, 12)),
	}
}
