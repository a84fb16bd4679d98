package authz

import (
	"fmt"

	"ticketing-settlement/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("authz", fx.Provide(NewEnforcer))

// Wildcard in a role's actions grants every action.
const Wildcard = "*"

const rbacModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.act == p.act || p.act == "*")
`

// defaultRoles apply when the config names none.
var defaultRoles = []config.RolePolicy{
	{Role: "settlement_admin", Actions: []string{Wildcard}},
	{Role: "payout_officer", Actions: []string{"event_payout", "promoter_payout"}},
	{Role: "advance_officer", Actions: []string{"advance"}},
	{Role: "trust_officer", Actions: []string{"set_trust"}},
}

// Enforcer answers whether an operator's roles allow a settlement action.
// Operators with no role are denied everything.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
	disabled bool
}

func NewEnforcer(cfg *config.Config) (*Enforcer, error) {
	return New(cfg.Authz)
}

func New(cfg config.Authz) (*Enforcer, error) {
	if !cfg.Enabled {
		zap.L().Warn("operator role checks are disabled")
		return &Enforcer{disabled: true}, nil
	}

	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}

	roles := cfg.Roles
	if len(roles) == 0 {
		roles = defaultRoles
	}
	for _, r := range roles {
		for _, act := range r.Actions {
			if _, err := e.AddPolicy(r.Role, act); err != nil {
				return nil, fmt.Errorf("authz policy %s/%s: %w", r.Role, act, err)
			}
		}
	}
	for _, op := range cfg.Operators {
		for _, role := range op.Roles {
			if _, err := e.AddGroupingPolicy(op.OperatorID, role); err != nil {
				return nil, fmt.Errorf("authz grouping %s/%s: %w", op.OperatorID, role, err)
			}
		}
	}

	zap.L().Info("operator roles loaded", zap.Int("roles", len(roles)), zap.Int("operators", len(cfg.Operators)))
	return &Enforcer{enforcer: e}, nil
}

// Permits reports whether operatorID holds a role granting action.
func (e *Enforcer) Permits(operatorID, action string) (bool, error) {
	if e == nil || e.disabled {
		return true, nil
	}
	if operatorID == "" {
		return false, nil
	}
	return e.enforcer.Enforce(operatorID, action)
}

// Grant assigns role to operatorID at runtime.
func (e *Enforcer) Grant(operatorID, role string) error {
	if e.disabled {
		return nil
	}
	_, err := e.enforcer.AddGroupingPolicy(operatorID, role)
	return err
}
