package settlement

import (
	"context"
	"fmt"
	"time"

	"ticketing-settlement/pkg/currency"
	"ticketing-settlement/pkg/errutil"
	"ticketing-settlement/pkg/featureflags"
	"ticketing-settlement/services/reauth"
)

type Action string

const (
	ActionEventPayout    Action = "event_payout"
	ActionPromoterPayout Action = "promoter_payout"
	ActionAdvance        Action = "advance"
	ActionSetTrust       Action = "set_trust"
)

// Elevation consumes single-use re-authentication tokens.
type Elevation interface {
	Consume(ctx context.Context, token, operatorID string, scope reauth.Scope) (*reauth.Grant, error)
}

// Permissions answers whether an operator's roles allow an action.
type Permissions interface {
	Permits(operatorID, action string) (bool, error)
}

// Request carries everything the gate needs; the gate does no loading.
type Request struct {
	Action     Action
	OperatorID string

	// ElevationToken is consumed against Scope. Grant, when set instead, is
	// an elevation already consumed earlier in the same operation.
	ElevationToken string
	Grant          *reauth.Grant
	Scope          reauth.Scope

	// Event is the settled event for event and promoter payouts.
	Event       *Event
	Organizer   *Organizer
	Amount      int64
	Currency    string
	Available   int64
	BankAccount *BankAccount
	AlreadyPaid bool
}

type Decision struct {
	Allowed bool          `json:"allowed"`
	Reason  Reason        `json:"reason,omitempty"`
	Message string        `json:"message,omitempty"`
	Grant   *reauth.Grant `json:"-"`

	// cause is set when the decision could not be made at all.
	cause error
}

func allow(grant *reauth.Grant) Decision {
	return Decision{Allowed: true, Grant: grant}
}

func deny(reason Reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Err converts a denial into the matching typed error. A failure of the
// elevation backend is returned as is.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.cause != nil {
		return d.cause
	}
	return d.Reason.Error(d.Message)
}

type GateConfig struct {
	Elevation         Elevation
	Permissions       Permissions
	Flags             featureflags.FeatureFlag
	Thresholds        currency.Thresholds
	TrustReviewPeriod time.Duration
	AdvancesFlag      string
	Now               func() time.Time
}

// Gate is the single place where settlement preconditions are enforced.
type Gate struct {
	elevation    Elevation
	permissions  Permissions
	flags        featureflags.FeatureFlag
	thresholds   currency.Thresholds
	trustReview  time.Duration
	advancesFlag string
	now          func() time.Time
}

func NewGate(c GateConfig) *Gate {
	g := &Gate{
		elevation:    c.Elevation,
		permissions:  c.Permissions,
		flags:        c.Flags,
		thresholds:   c.Thresholds,
		trustReview:  c.TrustReviewPeriod,
		advancesFlag: c.AdvancesFlag,
		now:          c.Now,
	}
	if g.flags == nil {
		g.flags = featureflags.Static{}
	}
	if g.thresholds == nil {
		g.thresholds = currency.New(0)
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Authorize evaluates every rule in order; the first failure wins. The
// elevation token is consumed even when a later rule denies.
func (g *Gate) Authorize(ctx context.Context, req Request) Decision {
	grant, d := g.elevate(ctx, req)
	if !d.Allowed {
		return d
	}
	if d := g.evaluate(ctx, req); !d.Allowed {
		return d
	}
	return allow(grant)
}

// Precheck evaluates every rule except re-authentication, for previews.
func (g *Gate) Precheck(ctx context.Context, req Request) Decision {
	return g.evaluate(ctx, req)
}

// Elevate checks only re-authentication.
func (g *Gate) Elevate(ctx context.Context, req Request) Decision {
	grant, d := g.elevate(ctx, req)
	if !d.Allowed {
		return d
	}
	return allow(grant)
}

// elevate checks re-authentication, then the operator's roles.
func (g *Gate) elevate(ctx context.Context, req Request) (*reauth.Grant, Decision) {
	grant, d := g.consume(ctx, req)
	if !d.Allowed {
		return nil, d
	}
	if d := g.permit(req); !d.Allowed {
		return nil, d
	}
	return grant, d
}

func (g *Gate) permit(req Request) Decision {
	if g.permissions == nil {
		return allow(nil)
	}
	ok, err := g.permissions.Permits(req.OperatorID, string(req.Action))
	if err != nil {
		return Decision{Reason: ReasonOperatorForbidden, Message: err.Error(),
			cause: errutil.Internal("operator role check failed", err, errutil.WithReason(string(ReasonOperatorForbidden)))}
	}
	if !ok {
		return deny(ReasonOperatorForbidden, "operator %s may not perform %s", req.OperatorID, req.Action)
	}
	return allow(nil)
}

func (g *Gate) consume(ctx context.Context, req Request) (*reauth.Grant, Decision) {
	if req.Grant != nil {
		if req.Grant.Covers(req.OperatorID, req.Scope, g.now()) {
			return req.Grant, allow(req.Grant)
		}
		return nil, deny(ReasonReauthRequired, "elevation does not cover %s", req.Scope)
	}

	if req.ElevationToken == "" || g.elevation == nil {
		return nil, deny(ReasonReauthRequired, "re-authentication required for %s", req.Action)
	}

	grant, err := g.elevation.Consume(ctx, req.ElevationToken, req.OperatorID, req.Scope)
	if err != nil {
		switch errutil.StatusOf(err) {
		case errutil.StatusUnauthorized, errutil.StatusBadRequest:
			return nil, deny(ReasonReauthRequired, "re-authentication required for %s", req.Action)
		}
		return nil, Decision{Reason: ReasonElevationUnavailable, Message: err.Error(), cause: err}
	}
	return grant, allow(grant)
}

func (g *Gate) evaluate(ctx context.Context, req Request) Decision {
	org := req.Organizer

	if req.Action == ActionAdvance {
		if !g.flags.Enabled(ctx, org.ID, g.advancesFlag) {
			return deny(ReasonAdvancesDisabled, "advance payments are currently disabled")
		}
		if !g.trusted(org) {
			return deny(ReasonNotTrusted, "organizer %s is not trusted for advances", org.ID)
		}
	}

	if req.Action == ActionEventPayout || req.Action == ActionPromoterPayout {
		if req.Event == nil || !req.Event.Ended(g.now()) {
			return deny(ReasonEventNotEnded, "event has not ended yet")
		}
	}

	if req.Amount <= 0 {
		return deny(ReasonInvalidAmount, "amount must be positive")
	}

	if req.Action == ActionAdvance && req.Amount > req.Available {
		return deny(ReasonExceedsAvailable, "amount %d exceeds available %d %s", req.Amount, req.Available, req.Currency)
	}

	if req.Action == ActionEventPayout {
		if min := g.thresholds.MinimumPayout(req.Currency); req.Amount < min {
			return deny(ReasonBelowThreshold, "amount %d is below the minimum payout of %d %s", req.Amount, min, req.Currency)
		}
	}

	if req.BankAccount == nil {
		return deny(ReasonNoBankAccount, "recipient has no bank account on file")
	}

	if req.Action != ActionPromoterPayout && !org.KYCVerified() {
		return deny(ReasonKYCNotVerified, "organizer %s has not passed KYC verification", org.ID)
	}

	if req.AlreadyPaid {
		return deny(ReasonAlreadyPaid, "already paid")
	}

	return allow(nil)
}

// trusted applies the optional review period: trust older than the period
// must be re-confirmed before it counts again.
func (g *Gate) trusted(org *Organizer) bool {
	if !org.IsTrusted {
		return false
	}
	if g.trustReview <= 0 {
		return true
	}
	if org.TrustedAt == nil {
		return false
	}
	return g.now().Sub(*org.TrustedAt) <= g.trustReview
}
