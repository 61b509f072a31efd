package enforcer

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/CameronXie/payment-lifecycle/internal/decisionmaker"
	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/infoprovider"
)

// Actions a caller may request.
const (
	ActionRead   = "read"
	ActionCancel = "cancel"
	ActionPay    = "pay"
	ActionList   = "list"
)

// Resources that policies name.
const (
	ResourceOrder  = "order"
	ResourceOrders = "orders"
)

// Roles derived for a request.
const (
	RoleAdmin     = infoprovider.RoleAdmin
	RoleOwner     = "owner"
	RoleAnonymous = "anonymous"
)

type Enforcer interface {
	Enforce(ctx context.Context, req *AccessRequest) (bool, error)
}

// Actor identifies the caller. Both fields may be empty for guests.
type Actor struct {
	Subject    string
	GuestToken string
}

// AccessRequest asks whether Actor may perform Action. Order is nil for
// collection actions.
type AccessRequest struct {
	Actor  Actor
	Action string
	Order  *domain.Order
}

type enforcer struct {
	decisionMaker decisionmaker.DecisionMaker
	infoProvider  infoprovider.InfoProvider
}

func (e *enforcer) Enforce(ctx context.Context, req *AccessRequest) (bool, error) {
	roles, err := e.roles(req)
	if err != nil {
		return false, err
	}

	resource := ResourceOrders
	if req.Order != nil {
		resource = ResourceOrder
	}

	return e.decisionMaker.MakeDecision(
		ctx,
		&decisionmaker.DecisionRequest{
			Roles:    roles,
			Resource: resource,
			Action:   strings.ToLower(req.Action),
		},
	)
}

func (e *enforcer) roles(req *AccessRequest) ([]string, error) {
	granted, err := e.infoProvider.GetRoles(req.Actor.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to get roles: %w", err)
	}

	roles := make([]string, 0, len(granted)+1)
	for _, r := range granted {
		roles = append(roles, strings.ToLower(r))
	}
	if req.Order != nil && Owns(req.Actor, req.Order) {
		roles = append(roles, RoleOwner)
	}
	if len(roles) == 0 {
		roles = append(roles, RoleAnonymous)
	}
	return roles, nil
}

// Owns reports whether actor owns order. Orders without an owner belong to anyone
// holding their id.
func Owns(actor Actor, order *domain.Order) bool {
	if !order.Owned() {
		return true
	}
	if order.UserID != "" && actor.Subject == order.UserID {
		return true
	}
	return order.GuestToken != "" &&
		subtle.ConstantTimeCompare([]byte(actor.GuestToken), []byte(order.GuestToken)) == 1
}

// Authorize returns domain.ErrForbidden unless e allows req.
func Authorize(ctx context.Context, e Enforcer, req *AccessRequest) error {
	ok, err := e.Enforce(ctx, req)
	if err != nil {
		return fmt.Errorf("enforce %s: %w", req.Action, err)
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

func NewEnforcer(decisionMaker decisionmaker.DecisionMaker, infoProvider infoprovider.InfoProvider) Enforcer {
	return &enforcer{decisionMaker: decisionMaker, infoProvider: infoProvider}
}
