package opa

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/CameronXie/payment-lifecycle/internal/decisionmaker"
	"github.com/CameronXie/payment-lifecycle/internal/policyretriever"
)

const (
	moduleName = "decisionmaker"

	// Query is the rule evaluated by the default order policy.
	Query = "data.paylife.authz.allow"
)

type decisionMaker struct {
	policyRetriever policyretriever.PolicyRetriever
	query           string
}

// MakeDecision evaluates a policy against the given decision request and returns whether the action is allowed or not.
func (d *decisionMaker) MakeDecision(ctx context.Context, req *decisionmaker.DecisionRequest) (bool, error) {
	policy, err := d.policyRetriever.GetPolicy()
	if err != nil {
		return false, fmt.Errorf("failed to get policy: %w", err)
	}

	query, err := rego.New(rego.Module(moduleName, policy), rego.Query(d.query)).PrepareForEval(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to prepare query: %w", err)
	}

	roles := req.Roles
	if roles == nil {
		roles = []string{}
	}

	result, err := query.Eval(ctx, rego.EvalInput(map[string]any{
		"roles":    roles,
		"action":   req.Action,
		"resource": req.Resource,
	}))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate query: %w", err)
	}
	if len(result) == 0 || len(result[0].Expressions) == 0 {
		return false, fmt.Errorf("failed to evaluate query: no result for %s", d.query)
	}

	allowed, ok := result[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("failed to evaluate query: %s is not a boolean", d.query)
	}
	return allowed, nil
}

// NewDecisionMaker initializes a DecisionMaker with the provided PolicyRetriever and Rego query.
func NewDecisionMaker(policyRetriever policyretriever.PolicyRetriever, query string) decisionmaker.DecisionMaker {
	return &decisionMaker{
		policyRetriever: policyRetriever,
		query:           query,
	}
}
