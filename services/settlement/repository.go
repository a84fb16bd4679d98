package settlement

import (
	"context"
	"fmt"
	"time"

	"ticketing-settlement/pkg/db"
	"ticketing-settlement/pkg/db/option"
	"ticketing-settlement/pkg/db/pagination"
	"ticketing-settlement/pkg/repository"

	"gorm.io/gorm"
)

// Store is the persistence boundary of the settlement engine. Writes that
// move money are conditional and report a typed conflict when the expected
// prior state no longer holds.
type Store interface {
	// Transaction runs fn against a store bound to one database transaction.
	Transaction(ctx context.Context, fn func(Store) error) error
	SupportsTransactions() bool

	GetEvent(ctx context.Context, id string) (*Event, error)
	ListEventsByOrganizer(ctx context.Context, organizerID string) ([]*Event, error)
	ListPendingEvents(ctx context.Context) ([]*Event, error)
	ListCompletedOrders(ctx context.Context, eventIDs ...string) ([]*Order, error)
	ListPromoterSales(ctx context.Context, eventIDs ...string) ([]*PromoterSale, error)
	GetOrganizer(ctx context.Context, id string) (*Organizer, error)
	// LockOrganizer reads the organizer row FOR UPDATE. Inside a transaction
	// it serializes writers that move the organizer's money.
	LockOrganizer(ctx context.Context, id string) (*Organizer, error)
	ListBankAccounts(ctx context.Context, ownerType, ownerID string) ([]*BankAccount, error)
	ListAdvances(ctx context.Context, organizerID string) ([]*AdvancePayment, error)
	FindPayoutByReference(ctx context.Context, reference string) (*Payout, error)
	FindCompletedPayout(ctx context.Context, key string) (*Payout, error)
	FindAdvanceByReference(ctx context.Context, reference string) (*AdvancePayment, error)
	ListPayouts(ctx context.Context, filter PayoutFilter) ([]*Payout, error)
	ListProcessingPayouts(ctx context.Context) ([]*Payout, error)

	CreatePayout(ctx context.Context, payout *Payout) error
	DeletePayout(ctx context.Context, id string) error
	CompletePayout(ctx context.Context, id, key string, at time.Time) error
	MarkEventPaid(ctx context.Context, eventID string, at time.Time) error
	ResetEventPending(ctx context.Context, eventID string) error
	MarkPromoterSalesPaid(ctx context.Context, saleIDs []string, at time.Time) error
	ResetPromoterSales(ctx context.Context, saleIDs []string) error
	DecrementAvailableBalance(ctx context.Context, organizerID string, amount int64) (int64, error)
	IncrementAvailableBalance(ctx context.Context, organizerID string, amount int64) error
	CreateAdvance(ctx context.Context, advance *AdvancePayment) error
	DeleteAdvance(ctx context.Context, id string) error
	SetOrganizerTrust(ctx context.Context, organizerID string, from, to bool, by string, at time.Time) error
}

type PayoutFilter struct {
	EventID       string
	RecipientType string
	RecipientID   string
	Status        string
	Pagination    pagination.Pagination
}

type GormStore struct {
	db *gorm.DB

	events     repository.Repository[Event]
	orders     repository.Repository[Order]
	sales      repository.Repository[PromoterSale]
	organizers repository.Repository[Organizer]
	banks      repository.Repository[BankAccount]
	payouts    repository.Repository[Payout]
	advances   repository.Repository[AdvancePayment]
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:         db,
		events:     repository.ProvideStore[Event](db),
		orders:     repository.ProvideStore[Order](db),
		sales:      repository.ProvideStore[PromoterSale](db),
		organizers: repository.ProvideStore[Organizer](db),
		banks:      repository.ProvideStore[BankAccount](db),
		payouts:    repository.ProvideStore[Payout](db),
		advances:   repository.ProvideStore[AdvancePayment](db),
	}
}

func (s *GormStore) withTx(tx *gorm.DB) *GormStore {
	return &GormStore{
		db:         tx,
		events:     s.events.WithTrx(tx),
		orders:     s.orders.WithTrx(tx),
		sales:      s.sales.WithTrx(tx),
		organizers: s.organizers.WithTrx(tx),
		banks:      s.banks.WithTrx(tx),
		payouts:    s.payouts.WithTrx(tx),
		advances:   s.advances.WithTrx(tx),
	}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.withTx(tx))
	})
}

func (s *GormStore) SupportsTransactions() bool { return true }

func (s *GormStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	return s.events.FindOne(ctx, &Event{ID: id})
}

func (s *GormStore) ListEventsByOrganizer(ctx context.Context, organizerID string) ([]*Event, error) {
	return s.events.Find(ctx, &Event{OrganizerID: organizerID}, option.WithSortBy(option.QuerySortBy{SortBy: "end_date"}))
}

// ListPendingEvents returns every event not yet paid out. Filtering on end
// date is left to the caller so the comparison does not depend on how the
// dialect stores timestamps.
func (s *GormStore) ListPendingEvents(ctx context.Context) ([]*Event, error) {
	return s.events.Find(ctx, &Event{PayoutStatus: EventPayoutPending}, option.WithSortBy(option.QuerySortBy{SortBy: "end_date"}))
}

func (s *GormStore) ListCompletedOrders(ctx context.Context, eventIDs ...string) ([]*Order, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	return s.orders.Find(ctx, &Order{Status: OrderCompleted}, option.ApplyOperator(option.Condition{
		Field:    "event_id",
		Operator: option.IN,
		Value:    eventIDs,
	}))
}

func (s *GormStore) ListPromoterSales(ctx context.Context, eventIDs ...string) ([]*PromoterSale, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	return s.sales.Find(ctx, &PromoterSale{}, option.ApplyOperator(option.Condition{
		Field:    "event_id",
		Operator: option.IN,
		Value:    eventIDs,
	}))
}

func (s *GormStore) GetOrganizer(ctx context.Context, id string) (*Organizer, error) {
	return s.organizers.FindOne(ctx, &Organizer{ID: id})
}

func (s *GormStore) LockOrganizer(ctx context.Context, id string) (*Organizer, error) {
	return s.organizers.FindOne(ctx, &Organizer{ID: id}, option.WithLockingUpdate())
}

func (s *GormStore) ListBankAccounts(ctx context.Context, ownerType, ownerID string) ([]*BankAccount, error) {
	return s.banks.Find(ctx, &BankAccount{OwnerType: ownerType, OwnerID: ownerID}, option.WithSortBy(option.QuerySortBy{}))
}

func (s *GormStore) ListAdvances(ctx context.Context, organizerID string) ([]*AdvancePayment, error) {
	return s.advances.Find(ctx, &AdvancePayment{OrganizerID: organizerID}, option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}))
}

func (s *GormStore) FindPayoutByReference(ctx context.Context, reference string) (*Payout, error) {
	return s.payouts.FindOne(ctx, &Payout{}, option.ApplyOperator(option.Condition{
		Field:    "reference",
		Operator: option.EQ,
		Value:    reference,
	}))
}

func (s *GormStore) FindCompletedPayout(ctx context.Context, key string) (*Payout, error) {
	return s.payouts.FindOne(ctx, &Payout{}, option.ApplyOperator(option.Condition{
		Field:    "completed_key",
		Operator: option.EQ,
		Value:    key,
	}))
}

func (s *GormStore) FindAdvanceByReference(ctx context.Context, reference string) (*AdvancePayment, error) {
	return s.advances.FindOne(ctx, &AdvancePayment{}, option.ApplyOperator(option.Condition{
		Field:    "reference",
		Operator: option.EQ,
		Value:    reference,
	}))
}

func (s *GormStore) ListPayouts(ctx context.Context, filter PayoutFilter) ([]*Payout, error) {
	query := &Payout{
		EventID:       filter.EventID,
		RecipientType: filter.RecipientType,
		RecipientID:   filter.RecipientID,
		Status:        filter.Status,
	}
	return s.payouts.Find(ctx, query, option.ApplyPagination(filter.Pagination))
}

func (s *GormStore) ListProcessingPayouts(ctx context.Context) ([]*Payout, error) {
	return s.payouts.Find(ctx, &Payout{Status: PayoutProcessing}, option.WithSortBy(option.QuerySortBy{}))
}

func (s *GormStore) CreatePayout(ctx context.Context, payout *Payout) error {
	if err := s.payouts.Create(ctx, payout); err != nil {
		if db.IsUniqueViolation(err) {
			return ReasonReferenceConflict.Error("payout reference or number already used")
		}
		return err
	}
	return nil
}

func (s *GormStore) DeletePayout(ctx context.Context, id string) error {
	return s.payouts.Delete(ctx, id)
}

// CompletePayout moves a processing payout to completed and claims its
// settlement key. A second completion for the same key violates the unique
// index and is reported as already paid.
func (s *GormStore) CompletePayout(ctx context.Context, id, key string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&Payout{}).
		Where("id = ? AND status = ?", id, PayoutProcessing).
		Updates(map[string]any{
			"status":        PayoutCompleted,
			"completed_key": key,
			"completed_at":  at,
			"updated_at":    at,
		})
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error) {
			return ReasonAlreadyPaid.Error(fmt.Sprintf("settlement %s already completed", key))
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ReasonStateChanged.Error(fmt.Sprintf("payout %s is no longer processing", id))
	}
	return nil
}

func (s *GormStore) MarkEventPaid(ctx context.Context, eventID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&Event{}).
		Where("id = ? AND payout_status = ?", eventID, EventPayoutPending).
		Updates(map[string]any{
			"payout_status": EventPayoutPaid,
			"paid_at":       at,
			"updated_at":    at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ReasonAlreadyPaid.Error(fmt.Sprintf("event %s is already paid", eventID))
	}
	return nil
}

func (s *GormStore) ResetEventPending(ctx context.Context, eventID string) error {
	res := s.db.WithContext(ctx).Model(&Event{}).
		Where("id = ? AND payout_status = ?", eventID, EventPayoutPaid).
		Updates(map[string]any{
			"payout_status": EventPayoutPending,
			"paid_at":       nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("event %s was not paid", eventID)
	}
	return nil
}

// MarkPromoterSalesPaid flips every listed sale from pending to paid, or
// none of them.
func (s *GormStore) MarkPromoterSalesPaid(ctx context.Context, saleIDs []string, at time.Time) error {
	if len(saleIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&PromoterSale{}).
			Where("id IN ? AND status = ?", saleIDs, PromoterSalePending).
			Updates(map[string]any{
				"status":  PromoterSalePaid,
				"paid_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(saleIDs)) {
			return ReasonAlreadyPaid.Error("promoter commission already paid")
		}
		return nil
	})
}

func (s *GormStore) ResetPromoterSales(ctx context.Context, saleIDs []string) error {
	if len(saleIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&PromoterSale{}).
		Where("id IN ? AND status = ?", saleIDs, PromoterSalePaid).
		Updates(map[string]any{
			"status":  PromoterSalePending,
			"paid_at": nil,
		}).Error
}

// DecrementAvailableBalance lowers the cached balance by amount, floored at
// zero, and returns how much was actually taken. Untracked balances are
// left alone.
func (s *GormStore) DecrementAvailableBalance(ctx context.Context, organizerID string, amount int64) (int64, error) {
	org, err := s.organizers.FindOne(ctx, &Organizer{ID: organizerID})
	if err != nil {
		return 0, err
	}
	if org == nil {
		return 0, ReasonOrganizerNotFound.Error(fmt.Sprintf("organizer %s not found", organizerID))
	}
	if org.AvailableBalance == nil {
		return 0, nil
	}

	current := *org.AvailableBalance
	applied := min(current, amount)
	if applied <= 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Model(&Organizer{}).
		Where("id = ? AND available_balance = ?", organizerID, current).
		Update("available_balance", current-applied)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ReasonStateChanged.Error(fmt.Sprintf("balance of organizer %s changed concurrently", organizerID))
	}
	return applied, nil
}

func (s *GormStore) IncrementAvailableBalance(ctx context.Context, organizerID string, amount int64) error {
	if amount == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&Organizer{}).
		Where("id = ? AND available_balance IS NOT NULL", organizerID).
		Update("available_balance", gorm.Expr("available_balance + ?", amount)).Error
}

func (s *GormStore) CreateAdvance(ctx context.Context, advance *AdvancePayment) error {
	if err := s.advances.Create(ctx, advance); err != nil {
		if db.IsUniqueViolation(err) {
			return ReasonReferenceConflict.Error("advance reference or number already used")
		}
		return err
	}
	return nil
}

func (s *GormStore) DeleteAdvance(ctx context.Context, id string) error {
	return s.advances.Delete(ctx, id)
}

// SetOrganizerTrust writes the trust flag only when it still equals from.
// Granting trust stamps trusted_at, which also re-confirms existing trust.
func (s *GormStore) SetOrganizerTrust(ctx context.Context, organizerID string, from, to bool, by string, at time.Time) error {
	updates := map[string]any{
		"is_trusted": to,
		"updated_at": at,
	}
	if to {
		updates["trusted_at"] = at
		updates["trusted_by"] = by
	} else {
		updates["trusted_at"] = nil
		updates["trusted_by"] = ""
	}

	res := s.db.WithContext(ctx).Model(&Organizer{}).
		Where("id = ? AND is_trusted = ?", organizerID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ReasonStateChanged.Error(fmt.Sprintf("trust of organizer %s changed concurrently", organizerID))
	}
	return nil
}
