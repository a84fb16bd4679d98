package reauth

import (
	"fmt"
	"time"
)

const (
	ActionSettlePayout      = "payout.settle"
	ActionSettleAll         = "payout.settle_all"
	ActionSettleAdvance     = "advance.settle"
	ActionSetTrust          = "organizer.trust"
	ReasonRequired          = "REAUTH_REQUIRED"
	ReasonInvalidCredential = "INVALID_CREDENTIAL"
)

// Scope binds an elevation to one action on one subject.
type Scope struct {
	Action    string `json:"action"`
	SubjectID string `json:"subject_id"`
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%s", s.Action, s.SubjectID)
}

// Grant is a single-use capability. It is consumed by the operation it was
// issued for and never cached beyond it.
type Grant struct {
	Token      string    `json:"-"`
	OperatorID string    `json:"operator_id"`
	Scope      Scope     `json:"scope"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Covers reports whether g authorizes operatorID for scope.
func (g *Grant) Covers(operatorID string, scope Scope, now time.Time) bool {
	if g == nil {
		return false
	}
	return g.OperatorID == operatorID && g.Scope == scope && now.Before(g.ExpiresAt)
}

type OperatorCredential struct {
	OperatorID   string    `gorm:"column:operator_id;primaryKey"`
	PasswordHash string    `gorm:"column:password_hash"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (OperatorCredential) TableName() string { return "operator_credentials" }
