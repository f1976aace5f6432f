package draft

// Step is one stage of the schedule-creation workflow.
type Step string

const (
	StepUpload         Step = "upload"
	StepTimepoints     Step = "timepoints"
	StepBlocks         Step = "blocks"
	StepSummary        Step = "summary"
	StepReadyToPublish Step = "ready-to-publish"
)

// Steps is the canonical workflow order.
var Steps = []Step{StepUpload, StepTimepoints, StepBlocks, StepSummary, StepReadyToPublish}

// Index returns the step's position in the canonical order, or -1 for an
// unknown step.
func (s Step) Index() int {
	for i, step := range Steps {
		if s == step {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known workflow steps.
func (s Step) Valid() bool { return s.Index() >= 0 }

// Next returns the step following s, or s itself if s is the last step or
// unknown.
func (s Step) Next() Step {
	i := s.Index()
	if i < 0 || i >= len(Steps)-1 {
		return s
	}
	return Steps[i+1]
}

// Later returns whichever of a and b is further along the workflow. A merge
// must never regress the current step, so unknown steps lose to known ones.
func Later(a, b Step) Step {
	if b.Index() > a.Index() {
		return b
	}
	return a
}
