package policyretriever

// PolicyRetriever returns the source of the policy a decision maker evaluates.
type PolicyRetriever interface {
	GetPolicy() (string, error)
}
