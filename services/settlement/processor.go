package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	"ticketing-settlement/pkg/currency"
	"ticketing-settlement/pkg/errutil"
	"ticketing-settlement/pkg/gen"
	"ticketing-settlement/pkg/lock"
	"ticketing-settlement/pkg/saga"
	"ticketing-settlement/services/audit"
	"ticketing-settlement/services/reauth"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type SettleEventPayoutInput struct {
	EventID        string `json:"-"`
	OperatorID     string `json:"-"`
	ElevationToken string `json:"elevation_token"`
	BankAccountID  string `json:"bank_account_id"`
	Reference      string `json:"reference"`
	Note           string `json:"note"`
}

type SettleAdvanceInput struct {
	OrganizerID    string `json:"-"`
	OperatorID     string `json:"-"`
	ElevationToken string `json:"elevation_token"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	BankAccountID  string `json:"bank_account_id"`
	Reference      string `json:"reference"`
	Note           string `json:"note"`
}

type SetTrustInput struct {
	OrganizerID    string `json:"-"`
	OperatorID     string `json:"-"`
	ElevationToken string `json:"elevation_token"`
	Trusted        bool   `json:"trusted"`
}

type PromoterPayoutResult struct {
	PromoterID string  `json:"promoter_id"`
	Amount     int64   `json:"amount"`
	Payout     *Payout `json:"payout,omitempty"`
	Reason     Reason  `json:"reason,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// BulkSettlement reports an organizer payout and the promoter payouts that
// followed it. OrganizerReason is set when the organizer was already paid.
type BulkSettlement struct {
	EventID         string                 `json:"event_id"`
	Organizer       *Payout                `json:"organizer,omitempty"`
	OrganizerReason Reason                 `json:"organizer_reason,omitempty"`
	Promoters       []PromoterPayoutResult `json:"promoters"`
}

const (
	lockScopeEvent     = "event"
	lockScopeOrganizer = "organizer"
)

func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.OperationTimeout)
}

// acquire takes the locks in the given order and returns one release for
// all of them. Callers always lock the event before its organizer.
func (s *Service) acquire(ctx context.Context, keys ...string) (lock.Release, error) {
	held := make([]lock.Release, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for _, key := range keys {
		r, err := s.locker.Acquire(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, r)
	}
	return release, nil
}

// execute runs steps atomically inside one transaction when possible, and
// as a compensating saga otherwise.
func (s *Service) execute(ctx context.Context, name string, build func(Store) []saga.Step) error {
	if s.opts.AtomicTransactions && s.store.SupportsTransactions() {
		return s.store.Transaction(ctx, func(tx Store) error {
			return saga.New(name, saga.WithoutCompensation()).Add(build(tx)...).Run(ctx)
		})
	}
	return saga.New(name).Add(build(s.store)...).Run(ctx)
}

type failure struct {
	actor       string
	subjectType string
	subjectID   string
	eventID     string
	amount      int64
	currency    string
}

func (f failure) fields() []zap.Field {
	return []zap.Field{
		zap.String("subject_type", f.subjectType),
		zap.String("subject_id", f.subjectID),
		zap.String("event_id", f.eventID),
		zap.Int64("amount", f.amount),
		zap.String("currency", f.currency),
	}
}

// writeFailure maps a failed write. Conflicts and limits re-checked inside
// the write pass through unchanged; anything else is a rolled back write, or
// a fatal error when a compensation failed too.
func (s *Service) writeFailure(ctx context.Context, err error, f failure) error {
	var stage string
	cause := err
	serr, isSaga := saga.AsError(err)
	if isSaga {
		stage = serr.Stage
		cause = serr.Cause
	}

	details := []errutil.Detail{
		{Field: "subject_id", Message: f.subjectID},
		{Field: "amount", Message: fmt.Sprintf("%d", f.amount)},
		{Field: "stage", Message: stage},
	}
	if f.eventID != "" {
		details = append(details, errutil.Detail{Field: "event_id", Message: f.eventID})
	}

	meta := map[string]any{
		"stage":    stage,
		"event_id": f.eventID,
		"amount":   f.amount,
		"currency": f.currency,
		"error":    cause.Error(),
	}

	if isSaga && serr.Fatal() {
		zap.L().With(logFields(ctx, f.fields()...)...).Error("settlement rollback failed, manual reconciliation required",
			zap.String("stage", stage),
			zap.Strings("compensated", serr.Compensated),
			zap.Error(err),
		)
		meta["compensated"] = serr.Compensated
		s.audit(ctx, f.actor, audit.ActionPayoutRollbackFailed, f.subjectType, f.subjectID, meta)
		return ReasonRollbackFailed.Error("settlement failed and could not be fully rolled back",
			errutil.WithErr(err), errutil.WithDetails(details...))
	}

	meta["reason"] = string(ReasonOf(cause))
	s.audit(ctx, f.actor, audit.ActionPayoutRolledBack, f.subjectType, f.subjectID, meta)

	if r := ReasonOf(cause); r != "" {
		switch r.Kind() {
		case KindConflict, KindValidation, KindNotFound:
			zap.L().With(logFields(ctx, f.fields()...)...).Warn("settlement lost a race", zap.String("reason", string(r)), zap.String("stage", stage))
			return cause
		}
	}

	zap.L().With(logFields(ctx, f.fields()...)...).Warn("settlement write rolled back", zap.String("stage", stage), zap.Error(cause))
	return ReasonWriteFailed.Error("settlement write failed and was rolled back",
		errutil.WithErr(cause), errutil.WithDetails(details...))
}

func (s *Service) audit(ctx context.Context, actor, action, subjectType, subjectID string, meta map[string]any) {
	s.recorder.Record(ctx, audit.Entry{
		ActorID:     actor,
		ActionType:  action,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Metadata:    meta,
		OccurredAt:  s.now(),
	})
}

func (s *Service) auditDenied(ctx context.Context, actor, action, subjectType, subjectID string, d Decision, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["reason"] = string(d.Reason)
	meta["message"] = d.Message
	s.audit(ctx, actor, action, subjectType, subjectID, meta)
}

func requireOperator(operatorID string) error {
	if operatorID == "" {
		return errutil.Unauthorized("operator id is required", nil, errutil.WithReason(string(ReasonReauthRequired)))
	}
	return nil
}

// replayPayout returns the payout stored under reference when it was made
// for the same recipient and event.
func (s *Service) replayPayout(ctx context.Context, reference, recipientType, recipientID, eventID string) (*Payout, error) {
	if reference == "" {
		return nil, nil
	}
	existing, err := s.store.FindPayoutByReference(ctx, reference)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.RecipientType != recipientType || existing.RecipientID != recipientID || existing.EventID != eventID {
		return nil, ReasonReferenceConflict.Error(fmt.Sprintf("reference %s belongs to another payout", reference))
	}
	return existing, nil
}

// sameAdvance reports whether a replayed request matches the stored advance.
// Amount and currency are compared only when the retry supplies them.
func sameAdvance(existing *AdvancePayment, in SettleAdvanceInput) bool {
	if existing.OrganizerID != in.OrganizerID {
		return false
	}
	if in.Amount != 0 && in.Amount != existing.AdvanceAmount {
		return false
	}
	if code := currency.Normalize(in.Currency); code != "" && code != currency.Normalize(existing.Currency) {
		return false
	}
	return true
}

func marshalMeta(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("failed to encode payout metadata", zap.Error(err))
		return nil
	}
	return datatypes.JSON(b)
}

// =========================================================
// SettleEventPayout
// =========================================================

// SettleEventPayout pays an ended event's organizer net exactly once.
func (s *Service) SettleEventPayout(ctx context.Context, in SettleEventPayoutInput) (*Payout, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if err := requireOperator(in.OperatorID); err != nil {
		return nil, err
	}

	event, err := s.lookupEvent(ctx, s.store, in.EventID)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, lock.Key(lockScopeEvent, event.ID), lock.Key(lockScopeOrganizer, event.OrganizerID))
	if err != nil {
		return nil, err
	}
	defer release()

	if p, err := s.replayPayout(ctx, in.Reference, RecipientOrganizer, event.OrganizerID, event.ID); p != nil || err != nil {
		return p, err
	}

	st, err := s.loadEventState(ctx, s.store, event.ID)
	if err != nil {
		return nil, err
	}

	req := st.organizerRequest(selectBank(st.banks, in.BankAccountID))
	req.OperatorID = in.OperatorID
	req.ElevationToken = in.ElevationToken
	req.Scope = reauth.Scope{Action: reauth.ActionSettlePayout, SubjectID: event.ID}

	if d := s.gate.Authorize(ctx, req); !d.Allowed {
		s.auditDenied(ctx, in.OperatorID, audit.ActionPayoutDenied, audit.SubjectEvent, event.ID, d, map[string]any{
			"amount":   req.Amount,
			"currency": req.Currency,
		})
		return nil, d.Err()
	}

	return s.payOrganizer(ctx, st, req.BankAccount, in)
}

// payOrganizer writes the organizer payout of an authorized event.
func (s *Service) payOrganizer(ctx context.Context, st *eventState, bank *BankAccount, in SettleEventPayoutInput) (*Payout, error) {
	number, err := s.seq.NextPayoutNumber(ctx)
	if err != nil {
		return nil, err
	}

	event, stl := st.event, st.settlement
	now := s.now()
	key := OrganizerPayoutKey(event.ID)

	note := in.Note
	if note == "" {
		note = payoutNote(event.ID, event.Title)
	}

	payout := &Payout{
		ID:                  gen.NewID(s.node),
		PayoutNumber:        number,
		RecipientType:       RecipientOrganizer,
		RecipientID:         event.OrganizerID,
		EventID:             event.ID,
		Amount:              stl.TotalSales,
		PlatformFeeDeducted: stl.PlatformFees,
		CommissionDeducted:  stl.CommissionTotal,
		NetAmount:           stl.OrganizerNet,
		Currency:            stl.Currency,
		Status:              PayoutProcessing,
		BankAccountID:       bank.ID,
		Note:                note,
		Reference:           stringPtr(in.Reference),
		ProcessedBy:         in.OperatorID,
		Metadata: marshalMeta(map[string]any{
			"completed_orders": stl.CompletedOrders,
			"promoters":        len(stl.PromoterCommissions),
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}

	var applied int64
	err = s.execute(ctx, "event_payout", func(store Store) []saga.Step {
		return []saga.Step{
			{
				Name:       "insert_payout",
				Action:     func(ctx context.Context) error { return store.CreatePayout(ctx, payout) },
				Compensate: func(ctx context.Context) error { return store.DeletePayout(ctx, payout.ID) },
			},
			{
				Name:       "mark_event_paid",
				Action:     func(ctx context.Context) error { return store.MarkEventPaid(ctx, event.ID, now) },
				Compensate: func(ctx context.Context) error { return store.ResetEventPending(ctx, event.ID) },
			},
			{
				Name: "decrement_balance",
				Action: func(ctx context.Context) (err error) {
					applied, err = store.DecrementAvailableBalance(ctx, event.OrganizerID, stl.OrganizerNet)
					return err
				},
				Compensate: func(ctx context.Context) error {
					return store.IncrementAvailableBalance(ctx, event.OrganizerID, applied)
				},
			},
			{
				Name:   "complete_payout",
				Action: func(ctx context.Context) error { return store.CompletePayout(ctx, payout.ID, key, now) },
			},
		}
	})
	if err != nil {
		return nil, s.writeFailure(ctx, err, failure{
			actor:       in.OperatorID,
			subjectType: audit.SubjectEvent,
			subjectID:   event.ID,
			eventID:     event.ID,
			amount:      stl.OrganizerNet,
			currency:    stl.Currency,
		})
	}

	payout.Status = PayoutCompleted
	payout.CompletedKey = &key
	payout.CompletedAt = &now

	s.audit(ctx, in.OperatorID, audit.ActionPayoutSettled, audit.SubjectPayout, payout.ID, map[string]any{
		"event_id":      event.ID,
		"payout_number": payout.PayoutNumber,
		"net_amount":    payout.NetAmount,
		"currency":      payout.Currency,
		"balance_taken": applied,
	})

	zap.L().With(logFields(ctx,
		zap.String("event_id", event.ID),
		zap.String("payout_id", payout.ID),
		zap.Int64("net_amount", payout.NetAmount),
	)...).Info("event payout settled")

	return payout, nil
}

// =========================================================
// SettleAllForEvent
// =========================================================

// SettleAllForEvent pays the organizer and then every unpaid promoter of an
// event under one elevation. An organizer that was already paid does not
// stop the promoter payouts; any other organizer denial aborts the run.
// Promoter failures are reported per promoter and never undo the organizer
// payout.
func (s *Service) SettleAllForEvent(ctx context.Context, in SettleEventPayoutInput) (*BulkSettlement, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if err := requireOperator(in.OperatorID); err != nil {
		return nil, err
	}

	event, err := s.lookupEvent(ctx, s.store, in.EventID)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, lock.Key(lockScopeEvent, event.ID), lock.Key(lockScopeOrganizer, event.OrganizerID))
	if err != nil {
		return nil, err
	}
	defer release()

	scope := reauth.Scope{Action: reauth.ActionSettleAll, SubjectID: event.ID}
	elevation := s.gate.Elevate(ctx, Request{
		Action:         ActionEventPayout,
		OperatorID:     in.OperatorID,
		ElevationToken: in.ElevationToken,
		Scope:          scope,
	})
	if !elevation.Allowed {
		s.auditDenied(ctx, in.OperatorID, audit.ActionPayoutDenied, audit.SubjectEvent, event.ID, elevation, nil)
		return nil, elevation.Err()
	}
	grant := elevation.Grant

	st, err := s.loadEventState(ctx, s.store, event.ID)
	if err != nil {
		return nil, err
	}

	result := &BulkSettlement{EventID: event.ID, Promoters: []PromoterPayoutResult{}}

	replayed, err := s.replayPayout(ctx, in.Reference, RecipientOrganizer, event.OrganizerID, event.ID)
	if err != nil {
		return nil, err
	}

	if replayed != nil {
		result.Organizer = replayed
	} else {
		req := st.organizerRequest(selectBank(st.banks, in.BankAccountID))
		req.OperatorID = in.OperatorID
		req.Grant = grant
		req.Scope = scope

		d := s.gate.Authorize(ctx, req)
		switch {
		case d.Allowed:
			payout, err := s.payOrganizer(ctx, st, req.BankAccount, in)
			if err != nil {
				if ReasonOf(err) != ReasonAlreadyPaid {
					return nil, err
				}
				result.OrganizerReason = ReasonAlreadyPaid
			}
			result.Organizer = payout
		case d.Reason == ReasonAlreadyPaid:
			result.OrganizerReason = ReasonAlreadyPaid
			result.Organizer = st.completed
		default:
			s.auditDenied(ctx, in.OperatorID, audit.ActionPayoutDenied, audit.SubjectEvent, event.ID, d, map[string]any{
				"amount":   req.Amount,
				"currency": req.Currency,
			})
			return nil, d.Err()
		}
	}

	for _, group := range st.settlement.PromoterCommissions {
		result.Promoters = append(result.Promoters, s.payPromoter(ctx, st, group, grant, scope, in))
	}

	return result, nil
}

func (s *Service) payPromoter(ctx context.Context, st *eventState, group PromoterCommission, grant *reauth.Grant, scope reauth.Scope, in SettleEventPayoutInput) PromoterPayoutResult {
	event := st.event
	res := PromoterPayoutResult{PromoterID: group.PromoterID, Amount: group.Amount}

	fail := func(err error) PromoterPayoutResult {
		res.Reason = ReasonOf(err)
		if res.Reason == "" {
			res.Reason = ReasonWriteFailed
		}
		res.Message = err.Error()
		s.audit(ctx, in.OperatorID, audit.ActionPromoterPayoutFailed, audit.SubjectEvent, event.ID, map[string]any{
			"promoter_id": group.PromoterID,
			"amount":      group.Amount,
			"reason":      string(res.Reason),
		})
		return res
	}

	var reference string
	if in.Reference != "" {
		reference = in.Reference + ":" + group.PromoterID
	}
	replayed, err := s.replayPayout(ctx, reference, RecipientPromoter, group.PromoterID, event.ID)
	if err != nil {
		return fail(err)
	}
	if replayed != nil {
		res.Payout = replayed
		return res
	}

	key := PromoterPayoutKey(event.ID, group.PromoterID)
	banks, err := s.store.ListBankAccounts(ctx, RecipientPromoter, group.PromoterID)
	if err != nil {
		return fail(err)
	}
	completed, err := s.store.FindCompletedPayout(ctx, key)
	if err != nil {
		return fail(err)
	}

	bank := selectBank(banks, "")
	d := s.gate.Authorize(ctx, Request{
		Action:      ActionPromoterPayout,
		OperatorID:  in.OperatorID,
		Grant:       grant,
		Scope:       scope,
		Event:       event,
		Organizer:   st.organizer,
		Amount:      group.Amount,
		Currency:    st.settlement.Currency,
		BankAccount: bank,
		AlreadyPaid: group.Paid || completed != nil,
	})
	if !d.Allowed {
		res.Reason = d.Reason
		res.Message = d.Message
		if d.Reason == ReasonAlreadyPaid {
			res.Payout = completed
			return res
		}
		s.auditDenied(ctx, in.OperatorID, audit.ActionPromoterPayoutFailed, audit.SubjectEvent, event.ID, d, map[string]any{
			"promoter_id": group.PromoterID,
			"amount":      group.Amount,
		})
		return res
	}

	number, err := s.seq.NextPayoutNumber(ctx)
	if err != nil {
		return fail(err)
	}

	now := s.now()
	payout := &Payout{
		ID:            gen.NewID(s.node),
		PayoutNumber:  number,
		RecipientType: RecipientPromoter,
		RecipientID:   group.PromoterID,
		EventID:       event.ID,
		Amount:        group.Amount,
		NetAmount:     group.Amount,
		Currency:      st.settlement.Currency,
		Status:        PayoutProcessing,
		BankAccountID: bank.ID,
		Note:          fmt.Sprintf("Promoter commission for event %s", event.ID),
		Reference:     stringPtr(reference),
		ProcessedBy:   in.OperatorID,
		Metadata:      marshalMeta(map[string]any{"sales": len(group.SaleIDs)}),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.execute(ctx, "promoter_payout", func(store Store) []saga.Step {
		return []saga.Step{
			{
				Name:       "insert_payout",
				Action:     func(ctx context.Context) error { return store.CreatePayout(ctx, payout) },
				Compensate: func(ctx context.Context) error { return store.DeletePayout(ctx, payout.ID) },
			},
			{
				Name:       "mark_sales_paid",
				Action:     func(ctx context.Context) error { return store.MarkPromoterSalesPaid(ctx, group.SaleIDs, now) },
				Compensate: func(ctx context.Context) error { return store.ResetPromoterSales(ctx, group.SaleIDs) },
			},
			{
				Name:   "complete_payout",
				Action: func(ctx context.Context) error { return store.CompletePayout(ctx, payout.ID, key, now) },
			},
		}
	})
	if err != nil {
		return fail(s.writeFailure(ctx, err, failure{
			actor:       in.OperatorID,
			subjectType: audit.SubjectEvent,
			subjectID:   event.ID,
			eventID:     event.ID,
			amount:      group.Amount,
			currency:    st.settlement.Currency,
		}))
	}

	payout.Status = PayoutCompleted
	payout.CompletedKey = &key
	payout.CompletedAt = &now
	res.Payout = payout

	s.audit(ctx, in.OperatorID, audit.ActionPromoterPayoutSettled, audit.SubjectPayout, payout.ID, map[string]any{
		"event_id":    event.ID,
		"promoter_id": group.PromoterID,
		"amount":      group.Amount,
		"currency":    payout.Currency,
	})

	return res
}

// =========================================================
// SettleAdvance
// =========================================================

// SettleAdvance pays part of an organizer's future entitlement now. The
// advance is recorded directly as paid.
func (s *Service) SettleAdvance(ctx context.Context, in SettleAdvanceInput) (*AdvancePayment, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if err := requireOperator(in.OperatorID); err != nil {
		return nil, err
	}
	if in.OrganizerID == "" {
		return nil, errutil.BadRequest("organizer id is required", nil)
	}

	release, err := s.acquire(ctx, lock.Key(lockScopeOrganizer, in.OrganizerID))
	if err != nil {
		return nil, err
	}
	defer release()

	if in.Reference != "" {
		existing, err := s.store.FindAdvanceByReference(ctx, in.Reference)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if !sameAdvance(existing, in) {
				return nil, ReasonReferenceConflict.Error(fmt.Sprintf("reference %s belongs to another advance", in.Reference))
			}
			return existing, nil
		}
	}

	st, err := s.loadOrganizerState(ctx, s.store, in.OrganizerID)
	if err != nil {
		return nil, err
	}

	code := currency.Normalize(in.Currency)
	if code == "" {
		codes := st.balance.Currencies()
		if len(codes) != 1 {
			return nil, ReasonInvalidCurrency.Error("currency is required when the balance spans several currencies")
		}
		code = codes[0]
	}
	available := st.balance.Available(code)

	req := Request{
		Action:         ActionAdvance,
		OperatorID:     in.OperatorID,
		ElevationToken: in.ElevationToken,
		Scope:          reauth.Scope{Action: reauth.ActionSettleAdvance, SubjectID: in.OrganizerID},
		Organizer:      st.organizer,
		Amount:         in.Amount,
		Currency:       code,
		Available:      available,
		BankAccount:    selectBank(st.banks, in.BankAccountID),
	}

	if d := s.gate.Authorize(ctx, req); !d.Allowed {
		s.auditDenied(ctx, in.OperatorID, audit.ActionAdvanceDenied, audit.SubjectOrganizer, in.OrganizerID, d, map[string]any{
			"amount":    in.Amount,
			"currency":  code,
			"available": available,
		})
		return nil, d.Err()
	}

	number, err := s.seq.NextAdvanceNumber(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	advance := &AdvancePayment{
		ID:               gen.NewID(s.node),
		AdvanceNumber:    number,
		OrganizerID:      in.OrganizerID,
		AvailableBalance: available,
		AdvanceAmount:    in.Amount,
		Currency:         code,
		Status:           AdvancePaid,
		BankAccountID:    req.BankAccount.ID,
		Reference:        stringPtr(in.Reference),
		Note:             in.Note,
		ApprovedBy:       in.OperatorID,
		ApprovedAt:       now,
		PaidBy:           in.OperatorID,
		PaidAt:           now,
		CreatedAt:        now,
	}

	var applied int64
	err = s.execute(ctx, "advance", func(store Store) []saga.Step {
		return []saga.Step{
			{
				Name: "lock_organizer",
				Action: func(ctx context.Context) error {
					org, err := store.LockOrganizer(ctx, in.OrganizerID)
					if err != nil {
						return err
					}
					if org == nil {
						return ReasonOrganizerNotFound.Error(fmt.Sprintf("organizer %s not found", in.OrganizerID))
					}
					return nil
				},
			},
			{
				Name:       "insert_advance",
				Action:     func(ctx context.Context) error { return store.CreateAdvance(ctx, advance) },
				Compensate: func(ctx context.Context) error { return store.DeleteAdvance(ctx, advance.ID) },
			},
			{
				// Every other paid advance is visible here, including one
				// inserted concurrently, so two racing advances cannot both
				// pass.
				Name: "verify_available",
				Action: func(ctx context.Context) error {
					left, err := s.availableExcluding(ctx, store, in.OrganizerID, code, advance.ID)
					if err != nil {
						return err
					}
					if in.Amount > left {
						return ReasonExceedsAvailable.Error(fmt.Sprintf("advance of %d exceeds the %d %s now available", in.Amount, left, code),
							errutil.WithDetails(errutil.Detail{Field: "available", Message: fmt.Sprintf("%d", left)}))
					}
					return nil
				},
			},
			{
				Name: "decrement_balance",
				Action: func(ctx context.Context) (err error) {
					applied, err = store.DecrementAvailableBalance(ctx, in.OrganizerID, in.Amount)
					return err
				},
			},
		}
	})
	if err != nil {
		return nil, s.writeFailure(ctx, err, failure{
			actor:       in.OperatorID,
			subjectType: audit.SubjectOrganizer,
			subjectID:   in.OrganizerID,
			amount:      in.Amount,
			currency:    code,
		})
	}

	s.audit(ctx, in.OperatorID, audit.ActionAdvanceSettled, audit.SubjectAdvance, advance.ID, map[string]any{
		"organizer_id":   in.OrganizerID,
		"advance_number": advance.AdvanceNumber,
		"amount":         in.Amount,
		"currency":       code,
		"available":      available,
		"balance_taken":  applied,
	})

	zap.L().With(logFields(ctx,
		zap.String("organizer_id", in.OrganizerID),
		zap.String("advance_id", advance.ID),
		zap.Int64("amount", in.Amount),
	)...).Info("advance settled")

	return advance, nil
}

// =========================================================
// SetOrganizerTrust
// =========================================================

// SetOrganizerTrust grants or revokes advance eligibility. Revoking an
// untrusted organizer is a no-op. Granting trust again re-confirms it and
// restarts the review period.
func (s *Service) SetOrganizerTrust(ctx context.Context, in SetTrustInput) (*Organizer, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if err := requireOperator(in.OperatorID); err != nil {
		return nil, err
	}

	org, err := s.lookupOrganizer(ctx, s.store, in.OrganizerID)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, lock.Key(lockScopeOrganizer, org.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	d := s.gate.Elevate(ctx, Request{
		Action:         ActionSetTrust,
		OperatorID:     in.OperatorID,
		ElevationToken: in.ElevationToken,
		Scope:          reauth.Scope{Action: reauth.ActionSetTrust, SubjectID: org.ID},
	})
	if !d.Allowed {
		return nil, d.Err()
	}

	// re-read under the lock
	org, err = s.lookupOrganizer(ctx, s.store, org.ID)
	if err != nil {
		return nil, err
	}
	if !in.Trusted && !org.IsTrusted {
		return org, nil
	}

	now := s.now()
	if err := s.store.SetOrganizerTrust(ctx, org.ID, org.IsTrusted, in.Trusted, in.OperatorID, now); err != nil {
		if ReasonOf(err) == "" {
			zap.L().With(logFields(ctx, zap.String("organizer_id", org.ID))...).Error("failed to set organizer trust", zap.Error(err))
		}
		return nil, err
	}

	s.audit(ctx, in.OperatorID, audit.ActionOrganizerTrustChanged, audit.SubjectOrganizer, org.ID, map[string]any{
		"from": org.IsTrusted,
		"to":   in.Trusted,
	})

	return s.lookupOrganizer(ctx, s.store, org.ID)
}
