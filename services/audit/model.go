package audit

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ActionPayoutSettled         = "payout.settled"
	ActionPayoutDenied          = "payout.denied"
	ActionPayoutRolledBack      = "payout.rolled_back"
	ActionPayoutRollbackFailed  = "payout.rollback_failed"
	ActionPayoutStalled         = "payout.stalled"
	ActionPromoterPayoutSettled = "promoter_payout.settled"
	ActionPromoterPayoutFailed  = "promoter_payout.failed"
	ActionAdvanceSettled        = "advance.settled"
	ActionAdvanceDenied         = "advance.denied"
	ActionOrganizerTrustChanged = "organizer.trust_changed"
	ActionReauthElevated        = "reauth.elevated"
	ActionReauthRejected        = "reauth.rejected"
)

const (
	SubjectEvent     = "event"
	SubjectOrganizer = "organizer"
	SubjectPayout    = "payout"
	SubjectAdvance   = "advance_payment"
	SubjectOperator  = "operator"
)

// AuditLog is append-only; nothing in this module updates or deletes rows.
type AuditLog struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	ActorID     string         `gorm:"column:actor_id;index" json:"actor_id"`
	ActionType  string         `gorm:"column:action_type;index" json:"action_type"`
	SubjectType string         `gorm:"column:subject_type" json:"subject_type"`
	SubjectID   string         `gorm:"column:subject_id;index" json:"subject_id"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	OccurredAt  time.Time      `gorm:"column:occurred_at" json:"occurred_at"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type Entry struct {
	ActorID     string         `json:"actor_id"`
	ActionType  string         `json:"action_type"`
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}
