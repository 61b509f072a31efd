package casbin

import (
	"context"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"

	"github.com/CameronXie/payment-lifecycle/internal/decisionmaker"
)

// Model is the RBAC model shared by every policy source.
const Model = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// Rule is one policy or grouping line.
type Rule struct {
	PType  string
	Values []string
}

// DefaultRules lets owners act on their order and admins do everything owners can plus list orders.
var DefaultRules = []Rule{
	{PType: "p", Values: []string{"owner", "order", "read"}},
	{PType: "p", Values: []string{"owner", "order", "cancel"}},
	{PType: "p", Values: []string{"owner", "order", "pay"}},
	{PType: "p", Values: []string{"admin", "orders", "list"}},
	{PType: "g", Values: []string{"admin", "owner"}},
}

type decisionMaker struct {
	enforcer   casbin.IEnforcer
	reloadEach bool
}

// MakeDecision allows the request when any role is granted the action on the resource.
// Adapters that may change underneath, such as a database, are reloaded first.
func (d *decisionMaker) MakeDecision(_ context.Context, req *decisionmaker.DecisionRequest) (bool, error) {
	if d.reloadEach {
		if err := d.enforcer.LoadPolicy(); err != nil {
			return false, err
		}
	}

	for _, role := range req.Roles {
		ok, err := d.enforcer.Enforce(role, req.Resource, req.Action)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

// NewDecisionMaker creates a DecisionMaker from a Casbin model and a policy adapter.
// The policy is loaded again before every decision.
func NewDecisionMaker(config string, policyRepo persist.Adapter) (decisionmaker.DecisionMaker, error) {
	enforcer, err := newEnforcer(config, policyRepo)
	if err != nil {
		return nil, err
	}

	return &decisionMaker{enforcer: enforcer, reloadEach: true}, nil
}

// NewDefaultDecisionMaker creates a DecisionMaker serving DefaultRules from memory.
func NewDefaultDecisionMaker() (decisionmaker.DecisionMaker, error) {
	enforcer, err := newEnforcer(Model, stringadapter.NewAdapter(PolicyText(DefaultRules)))
	if err != nil {
		return nil, err
	}

	return &decisionMaker{enforcer: enforcer}, nil
}

func newEnforcer(config string, policyRepo persist.Adapter) (casbin.IEnforcer, error) {
	m, err := model.NewModelFromString(config)
	if err != nil {
		return nil, err
	}

	return casbin.NewEnforcer(m, policyRepo)
}
