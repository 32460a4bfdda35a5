package procurement

import "github.com/odyssey-erp/odyssey-scm/internal/shared"

// ApprovalStep names one of the fixed purchase order approval steps. The step
// name is also the role required to perform it.
type ApprovalStep string

const (
	StepFinance  ApprovalStep = "finance"
	StepGM       ApprovalStep = "gm"
	StepDirector ApprovalStep = "director"
)

// POApprovalSteps is the required order.
var POApprovalSteps = []ApprovalStep{StepFinance, StepGM, StepDirector}

// stepMetaKey is the history meta key naming the approved step.
const stepMetaKey = "step"

// CompletedApprovalSteps projects the set of steps approved since the most
// recent submit. Entries must be in insertion order.
func CompletedApprovalSteps(history []shared.StatusHistory) map[ApprovalStep]bool {
	done := map[ApprovalStep]bool{}
	for _, h := range history {
		switch h.Action {
		case shared.ActionSubmit:
			done = map[ApprovalStep]bool{}
		case shared.ActionApprove:
			if step, ok := h.Meta[stepMetaKey].(string); ok {
				done[ApprovalStep(step)] = true
			}
		}
	}
	return done
}

// NextApprovalStep returns the first step missing from completed.
func NextApprovalStep(completed map[ApprovalStep]bool) (ApprovalStep, bool) {
	for _, step := range POApprovalSteps {
		if !completed[step] {
			return step, true
		}
	}
	return "", false
}

// statusAfterStep is the stored status once step is approved. Only finance
// and director move the enum; gm appends history alone.
func statusAfterStep(step ApprovalStep, current POStatus) POStatus {
	switch step {
	case StepFinance:
		return POStatusInApproval
	case StepDirector:
		return POStatusApproved
	default:
		return current
	}
}

func stepAfter(step ApprovalStep) (ApprovalStep, bool) {
	for i, st := range POApprovalSteps {
		if st == step && i+1 < len(POApprovalSteps) {
			return POApprovalSteps[i+1], true
		}
	}
	return "", false
}
