package opa

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/CameronXie/payment-lifecycle/internal/policyretriever"
)

// DefaultPolicy grants owners access to their orders and admins access to every order.
//
//go:embed policy.rego
var DefaultPolicy string

type hardcodedPolicyRetriever struct {
	policy string
}

// GetPolicy retrieves the hardcoded policy as a string and returns it along with any potential error.
func (p *hardcodedPolicyRetriever) GetPolicy() (string, error) {
	return p.policy, nil
}

// NewHardcodedPolicyRetriever creates a PolicyRetriever with a provided hardcoded policy string.
func NewHardcodedPolicyRetriever(policy string) policyretriever.PolicyRetriever {
	return &hardcodedPolicyRetriever{
		policy: policy,
	}
}

type filePolicyRetriever struct {
	path string
}

// GetPolicy reads the policy file on every call so edits apply without a restart.
func (p *filePolicyRetriever) GetPolicy() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("read policy %s: %w", p.path, err)
	}
	return string(data), nil
}

// NewFilePolicyRetriever creates a PolicyRetriever reading the Rego module at path.
func NewFilePolicyRetriever(path string) policyretriever.PolicyRetriever {
	return &filePolicyRetriever{path: path}
}
