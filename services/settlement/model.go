package settlement

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	EventPayoutPending = "pending"
	EventPayoutPaid    = "paid"

	OrderPending   = "pending"
	OrderCompleted = "completed"
	OrderFailed    = "failed"
	OrderRefunded  = "refunded"

	PromoterSalePending = "pending"
	PromoterSalePaid    = "paid"

	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"

	AdvancePending = "pending"
	AdvancePaid    = "paid"

	RecipientOrganizer = "organizer"
	RecipientPromoter  = "promoter"
)

type Event struct {
	ID           string     `gorm:"column:id;primaryKey" json:"id"`
	OrganizerID  string     `gorm:"column:organizer_id;index" json:"organizer_id"`
	Title        string     `gorm:"column:title" json:"title"`
	Currency     string     `gorm:"column:currency" json:"currency"`
	StartDate    time.Time  `gorm:"column:start_date" json:"start_date"`
	EndDate      time.Time  `gorm:"column:end_date" json:"end_date"`
	PayoutStatus string     `gorm:"column:payout_status;default:pending;index" json:"payout_status"`
	PaidAt       *time.Time `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// Ended reports whether the event finished at or before now.
func (e *Event) Ended(now time.Time) bool {
	return !e.EndDate.After(now)
}

func (e *Event) Paid() bool {
	return e.PayoutStatus == EventPayoutPaid
}

type Order struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	EventID     string    `gorm:"column:event_id;index" json:"event_id"`
	TotalAmount int64     `gorm:"column:total_amount" json:"total_amount"`
	PlatformFee int64     `gorm:"column:platform_fee" json:"platform_fee"`
	Status      string    `gorm:"column:status;index" json:"status"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

type PromoterSale struct {
	ID               string     `gorm:"column:id;primaryKey" json:"id"`
	EventID          string     `gorm:"column:event_id;index" json:"event_id"`
	PromoterID       string     `gorm:"column:promoter_id;index" json:"promoter_id"`
	OrderID          string     `gorm:"column:order_id" json:"order_id"`
	CommissionAmount int64      `gorm:"column:commission_amount" json:"commission_amount"`
	Status           string     `gorm:"column:status;default:pending" json:"status"`
	PaidAt           *time.Time `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt        time.Time  `gorm:"column:created_at" json:"created_at"`
}

type Organizer struct {
	ID               string     `gorm:"column:id;primaryKey" json:"id"`
	Name             string     `gorm:"column:name" json:"name"`
	IsTrusted        bool       `gorm:"column:is_trusted" json:"is_trusted"`
	TrustedAt        *time.Time `gorm:"column:trusted_at" json:"trusted_at,omitempty"`
	TrustedBy        string     `gorm:"column:trusted_by" json:"trusted_by,omitempty"`
	KYCStatus        string     `gorm:"column:kyc_status" json:"kyc_status"`
	AvailableBalance *int64     `gorm:"column:available_balance" json:"available_balance,omitempty"`
	CreatedAt        time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (o *Organizer) KYCVerified() bool {
	switch strings.ToLower(o.KYCStatus) {
	case "verified", "approved":
		return true
	}
	return false
}

type BankAccount struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	OwnerID       string    `gorm:"column:owner_id;index" json:"owner_id"`
	OwnerType     string    `gorm:"column:owner_type" json:"owner_type"`
	BankName      string    `gorm:"column:bank_name" json:"bank_name"`
	AccountNumber string    `gorm:"column:account_number" json:"account_number"`
	AccountName   string    `gorm:"column:account_name" json:"account_name"`
	IsDefault     bool      `gorm:"column:is_default" json:"is_default"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
}

// Payout is one recipient settlement attempt. CompletedKey is set only on
// completion and is unique, so a settlement key can complete at most once.
type Payout struct {
	ID                  string         `gorm:"column:id;primaryKey" json:"id"`
	PayoutNumber        string         `gorm:"column:payout_number;uniqueIndex" json:"payout_number"`
	RecipientType       string         `gorm:"column:recipient_type" json:"recipient_type"`
	RecipientID         string         `gorm:"column:recipient_id;index" json:"recipient_id"`
	EventID             string         `gorm:"column:event_id;index" json:"event_id"`
	Amount              int64          `gorm:"column:amount" json:"amount"`
	PlatformFeeDeducted int64          `gorm:"column:platform_fee_deducted" json:"platform_fee_deducted"`
	CommissionDeducted  int64          `gorm:"column:commission_deducted" json:"commission_deducted"`
	NetAmount           int64          `gorm:"column:net_amount" json:"net_amount"`
	Currency            string         `gorm:"column:currency" json:"currency"`
	Status              string         `gorm:"column:status;index" json:"status"`
	BankAccountID       string         `gorm:"column:bank_account_id" json:"bank_account_id"`
	Note                string         `gorm:"column:note" json:"note"`
	Reference           *string        `gorm:"column:reference;uniqueIndex" json:"reference,omitempty"`
	CompletedKey        *string        `gorm:"column:completed_key;uniqueIndex" json:"-"`
	ProcessedBy         string         `gorm:"column:processed_by" json:"processed_by"`
	Metadata            datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CompletedAt         *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt           time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

type AdvancePayment struct {
	ID               string    `gorm:"column:id;primaryKey" json:"id"`
	AdvanceNumber    string    `gorm:"column:advance_number;uniqueIndex" json:"advance_number"`
	OrganizerID      string    `gorm:"column:organizer_id;index" json:"organizer_id"`
	AvailableBalance int64     `gorm:"column:available_balance" json:"available_balance"`
	AdvanceAmount    int64     `gorm:"column:advance_amount" json:"advance_amount"`
	Currency         string    `gorm:"column:currency" json:"currency"`
	Status           string    `gorm:"column:status" json:"status"`
	BankAccountID    string    `gorm:"column:bank_account_id" json:"bank_account_id"`
	Reference        *string   `gorm:"column:reference;uniqueIndex" json:"reference,omitempty"`
	Note             string    `gorm:"column:note" json:"note,omitempty"`
	ApprovedBy       string    `gorm:"column:approved_by" json:"approved_by"`
	ApprovedAt       time.Time `gorm:"column:approved_at" json:"approved_at"`
	PaidBy           string    `gorm:"column:paid_by" json:"paid_by"`
	PaidAt           time.Time `gorm:"column:paid_at" json:"paid_at"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
}

// OrganizerPayoutKey is the settlement key for an organizer's event payout.
func OrganizerPayoutKey(eventID string) string {
	return fmt.Sprintf("%s:%s", RecipientOrganizer, eventID)
}

// PromoterPayoutKey is the settlement key for one promoter on one event.
func PromoterPayoutKey(eventID, promoterID string) string {
	return fmt.Sprintf("%s:%s:%s", RecipientPromoter, eventID, promoterID)
}

func payoutNote(eventID, title string) string {
	if title == "" {
		return fmt.Sprintf("Payout for event %s", eventID)
	}
	return fmt.Sprintf("Payout for event %s (%s)", eventID, title)
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Models lists every table owned by settlement, in migration order.
func Models() []any {
	return []any{
		&Organizer{},
		&BankAccount{},
		&Event{},
		&Order{},
		&PromoterSale{},
		&Payout{},
		&AdvancePayment{},
	}
}
