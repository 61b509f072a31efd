package main

import (
	"log/slog"

	"github.com/CameronXie/payment-lifecycle/internal/config"
	"github.com/CameronXie/payment-lifecycle/internal/decisionmaker"
	"github.com/CameronXie/payment-lifecycle/internal/decisionmaker/casbin"
	"github.com/CameronXie/payment-lifecycle/internal/enforcer"
	"github.com/CameronXie/payment-lifecycle/internal/infoprovider"
	"github.com/CameronXie/payment-lifecycle/internal/policyretriever"

	pdp "github.com/CameronXie/payment-lifecycle/internal/decisionmaker/opa"
	prp "github.com/CameronXie/payment-lifecycle/internal/policyretriever/opa"
)

// newEnforcer builds the enforcer for the configured decision engine.
func newEnforcer(cfg config.AuthzConfig, logger *slog.Logger) (enforcer.Enforcer, error) {
	var (
		decisionMaker decisionmaker.DecisionMaker
		err           error
	)

	switch cfg.Engine {
	case config.EngineOPA:
		logger.Info("enforcer_initializing", "engine", "opa", "policy_file", cfg.PolicyFile)
		decisionMaker = pdp.NewDecisionMaker(newPolicyRetriever(cfg.PolicyFile), pdp.Query)
	default:
		logger.Info("enforcer_initializing", "engine", "casbin", "persisted", cfg.MySQLDSN != "")
		decisionMaker, err = newCasbinDecisionMaker(cfg.MySQLDSN)
	}
	if err != nil {
		return nil, err
	}

	return enforcer.NewEnforcer(decisionMaker, infoprovider.NewAdminInfoProvider(cfg.Admins)), nil
}

// newCasbinDecisionMaker loads policy from MySQL when dsn is set, otherwise
// from the built in rules.
func newCasbinDecisionMaker(dsn string) (decisionmaker.DecisionMaker, error) {
	if dsn == "" {
		return casbin.NewDefaultDecisionMaker()
	}

	adapter, err := casbin.NewMySQLAdapter(dsn)
	if err != nil {
		return nil, err
	}
	return casbin.NewDecisionMaker(casbin.Model, adapter)
}

func newPolicyRetriever(path string) policyretriever.PolicyRetriever {
	if path != "" {
		return prp.NewFilePolicyRetriever(path)
	}
	return prp.NewHardcodedPolicyRetriever(prp.DefaultPolicy)
}
