package decisionmaker

import "context"

// DecisionRequest asks whether any of Roles may perform Action on Resource.
type DecisionRequest struct {
	Roles    []string
	Resource string
	Action   string
}

type DecisionMaker interface {
	MakeDecision(ctx context.Context, req *DecisionRequest) (bool, error)
}
