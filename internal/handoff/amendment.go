package handoff

import "ralphd/internal/plan"

// toAmendment converts the loosely-typed wire form into a plan.Amendment.
func (a amendmentEnvelope) toAmendment() plan.Amendment {
	return plan.Amendment{
		Action:             plan.AmendmentAction(a.Action),
		TaskID:             a.TaskID,
		Title:              a.Title,
		Description:        a.Description,
		Status:             plan.TaskStatus(a.Status),
		DependsOn:          a.DependsOn,
		MaxRetries:         a.MaxRetries,
		AcceptanceCriteria: a.AcceptanceCriteria,
	}
}
