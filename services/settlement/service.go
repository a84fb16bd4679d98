package settlement

import (
	"context"
	"fmt"
	"time"

	"ticketing-settlement/pkg/authz"
	"ticketing-settlement/pkg/config"
	"ticketing-settlement/pkg/currency"
	"ticketing-settlement/pkg/db/pagination"
	"ticketing-settlement/pkg/errutil"
	"ticketing-settlement/pkg/featureflags"
	"ticketing-settlement/pkg/lock"
	"ticketing-settlement/pkg/sequence"
	"ticketing-settlement/services/audit"
	"ticketing-settlement/services/reauth"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Options struct {
	// AtomicTransactions runs each settlement inside one database
	// transaction. When false, or when the store cannot open one, writes
	// run as compensating steps.
	AtomicTransactions bool
	OperationTimeout   time.Duration
	StalledAfter       time.Duration
}

type Service struct {
	store    Store
	gate     *Gate
	locker   lock.Locker
	seq      sequence.Generator
	recorder audit.Recorder
	node     *snowflake.Node
	opts     Options
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	Config     *config.Config
	DB         *gorm.DB
	Node       *snowflake.Node
	Seq        sequence.Generator
	Locker     lock.Locker
	Recorder   audit.Recorder
	Thresholds *currency.Registry
	Elevation  *reauth.Service
	Authz      *authz.Enforcer
	Flags      featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	cfg := p.Config.Settlement

	gate := NewGate(GateConfig{
		Elevation:         p.Elevation,
		Permissions:       p.Authz,
		Flags:             p.Flags,
		Thresholds:        p.Thresholds,
		TrustReviewPeriod: cfg.TrustReviewPeriod,
		AdvancesFlag:      cfg.AdvancesFlag,
	})

	return New(Deps{
		Store:    NewGormStore(p.DB),
		Gate:     gate,
		Locker:   p.Locker,
		Sequence: p.Seq,
		Recorder: p.Recorder,
		Node:     p.Node,
		Options: Options{
			AtomicTransactions: cfg.AtomicTransactions,
			OperationTimeout:   cfg.OperationTimeout,
			StalledAfter:       cfg.StalledAfter,
		},
	})
}

type Deps struct {
	Store    Store
	Gate     *Gate
	Locker   lock.Locker
	Sequence sequence.Generator
	Recorder audit.Recorder
	Node     *snowflake.Node
	Options  Options
	Now      func() time.Time
}

func New(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		gate:     d.Gate,
		locker:   d.Locker,
		seq:      d.Sequence,
		recorder: d.Recorder,
		node:     d.Node,
		opts:     d.Options,
		now:      d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.gate == nil {
		s.gate = NewGate(GateConfig{Now: s.now})
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker(lock.Options{})
	}
	if s.recorder == nil {
		s.recorder = audit.NopRecorder{}
	}
	if s.seq == nil {
		s.seq = sequence.NewLocalGenerator(s.node)
	}
	return s
}

func logFields(ctx context.Context, fields ...zap.Field) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return append([]zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}, fields...)
}

// EventSettlement is the computed entitlement of one event.
type EventSettlement struct {
	Event      *Event      `json:"event"`
	Phase      Phase       `json:"phase"`
	Settlement *Settlement `json:"settlement"`
}

type PayoutPage struct {
	Payouts  []*Payout            `json:"payouts"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type Preview struct {
	Settlement *Settlement  `json:"settlement"`
	Decision   Decision     `json:"decision"`
	Bank       *BankAccount `json:"bank_account,omitempty"`
}

// =========================================================
// GetEventSettlement
// =========================================================
func (s *Service) GetEventSettlement(ctx context.Context, eventID string) (*EventSettlement, error) {
	event, err := s.lookupEvent(ctx, s.store, eventID)
	if err != nil {
		return nil, err
	}

	stl, err := s.computeSettlement(ctx, s.store, event)
	if err != nil {
		return nil, err
	}

	return &EventSettlement{Event: event, Phase: Classify(s.now(), event), Settlement: stl}, nil
}

// =========================================================
// ListPayableEvents
// =========================================================

// ListPayableEvents returns ended, unpaid events with a positive organizer
// net, oldest end date first.
func (s *Service) ListPayableEvents(ctx context.Context) ([]*EventSettlement, error) {
	pending, err := s.store.ListPendingEvents(ctx)
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to list pending events", zap.Error(err))
		return nil, err
	}

	now := s.now()
	ended := make([]*Event, 0, len(pending))
	for _, e := range pending {
		if Classify(now, e) == PhaseEndedUnpaid {
			ended = append(ended, e)
		}
	}

	entitlements, err := s.entitlements(ctx, s.store, ended)
	if err != nil {
		return nil, err
	}

	out := make([]*EventSettlement, 0, len(entitlements))
	for _, en := range entitlements {
		if !en.Settlement.Payable() {
			continue
		}
		out = append(out, &EventSettlement{Event: en.Event, Phase: PhaseEndedUnpaid, Settlement: en.Settlement})
	}
	return out, nil
}

// =========================================================
// GetAdvanceBalance
// =========================================================
func (s *Service) GetAdvanceBalance(ctx context.Context, organizerID string) (*AdvanceBalance, error) {
	st, err := s.loadOrganizerState(ctx, s.store, organizerID)
	if err != nil {
		return nil, err
	}
	return st.balance, nil
}

// =========================================================
// ListPayouts
// =========================================================
func (s *Service) ListPayouts(ctx context.Context, filter PayoutFilter) (*PayoutPage, error) {
	rows, err := s.store.ListPayouts(ctx, filter)
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to list payouts", zap.Error(err))
		return nil, err
	}

	page, info := pagination.Paginate(rows, filter.Pagination, func(p *Payout) string { return p.ID })
	return &PayoutPage{Payouts: page, PageInfo: info}, nil
}

// =========================================================
// ListAdvances
// =========================================================
func (s *Service) ListAdvances(ctx context.Context, organizerID string) ([]*AdvancePayment, error) {
	if _, err := s.lookupOrganizer(ctx, s.store, organizerID); err != nil {
		return nil, err
	}
	return s.store.ListAdvances(ctx, organizerID)
}

// =========================================================
// PreviewEventPayout
// =========================================================

// PreviewEventPayout runs every gate rule except re-authentication, so the
// caller can see why a payout would be denied before asking for elevation.
func (s *Service) PreviewEventPayout(ctx context.Context, eventID, bankAccountID string) (*Preview, error) {
	st, err := s.loadEventState(ctx, s.store, eventID)
	if err != nil {
		return nil, err
	}

	bank := selectBank(st.banks, bankAccountID)
	decision := s.gate.Precheck(ctx, st.organizerRequest(bank))

	return &Preview{Settlement: st.settlement, Decision: decision, Bank: bank}, nil
}

// =========================================================
// loaders
// =========================================================

type eventState struct {
	event      *Event
	organizer  *Organizer
	settlement *Settlement
	banks      []*BankAccount
	completed  *Payout
}

func (st *eventState) organizerRequest(bank *BankAccount) Request {
	return Request{
		Action:      ActionEventPayout,
		Event:       st.event,
		Organizer:   st.organizer,
		Amount:      st.settlement.OrganizerNet,
		Currency:    st.settlement.Currency,
		BankAccount: bank,
		AlreadyPaid: st.event.Paid() || st.completed != nil,
	}
}

type organizerState struct {
	organizer *Organizer
	banks     []*BankAccount
	balance   *AdvanceBalance
}

func (s *Service) lookupEvent(ctx context.Context, store Store, eventID string) (*Event, error) {
	if eventID == "" {
		return nil, errutil.BadRequest("event id is required", nil)
	}
	event, err := store.GetEvent(ctx, eventID)
	if err != nil {
		zap.L().With(logFields(ctx, zap.String("event_id", eventID))...).Error("failed to load event", zap.Error(err))
		return nil, err
	}
	if event == nil {
		return nil, ReasonEventNotFound.Error(fmt.Sprintf("event %s not found", eventID))
	}
	return event, nil
}

func (s *Service) lookupOrganizer(ctx context.Context, store Store, organizerID string) (*Organizer, error) {
	if organizerID == "" {
		return nil, errutil.BadRequest("organizer id is required", nil)
	}
	org, err := store.GetOrganizer(ctx, organizerID)
	if err != nil {
		zap.L().With(logFields(ctx, zap.String("organizer_id", organizerID))...).Error("failed to load organizer", zap.Error(err))
		return nil, err
	}
	if org == nil {
		return nil, ReasonOrganizerNotFound.Error(fmt.Sprintf("organizer %s not found", organizerID))
	}
	return org, nil
}

func (s *Service) computeSettlement(ctx context.Context, store Store, event *Event) (*Settlement, error) {
	var (
		orders []*Order
		sales  []*PromoterSale
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		orders, err = store.ListCompletedOrders(gctx, event.ID)
		return err
	})
	g.Go(func() (err error) {
		sales, err = store.ListPromoterSales(gctx, event.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		zap.L().With(logFields(ctx, zap.String("event_id", event.ID))...).Error("failed to load event sales", zap.Error(err))
		return nil, err
	}

	return ComputeEventSettlement(event, orders, sales)
}

// entitlements computes settlements for many events with one query per
// table.
func (s *Service) entitlements(ctx context.Context, store Store, events []*Event) ([]Entitlement, error) {
	if len(events) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}

	var (
		orders []*Order
		sales  []*PromoterSale
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		orders, err = store.ListCompletedOrders(gctx, ids...)
		return err
	})
	g.Go(func() (err error) {
		sales, err = store.ListPromoterSales(gctx, ids...)
		return err
	})
	if err := g.Wait(); err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to load sales", zap.Error(err))
		return nil, err
	}

	return buildEntitlements(events, orders, sales)
}

func buildEntitlements(events []*Event, orders []*Order, sales []*PromoterSale) ([]Entitlement, error) {
	ordersBy := make(map[string][]*Order, len(events))
	for _, o := range orders {
		ordersBy[o.EventID] = append(ordersBy[o.EventID], o)
	}
	salesBy := make(map[string][]*PromoterSale, len(events))
	for _, sale := range sales {
		salesBy[sale.EventID] = append(salesBy[sale.EventID], sale)
	}

	out := make([]Entitlement, 0, len(events))
	for _, e := range events {
		stl, err := ComputeEventSettlement(e, ordersBy[e.ID], salesBy[e.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, Entitlement{Event: e, Settlement: stl})
	}
	return out, nil
}

// availableExcluding recomputes the advanceable amount in one currency,
// ignoring the advance with id exclude. Reads run one after another so the
// store may be bound to a transaction.
func (s *Service) availableExcluding(ctx context.Context, store Store, organizerID, code, exclude string) (int64, error) {
	events, err := store.ListEventsByOrganizer(ctx, organizerID)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	orders, err := store.ListCompletedOrders(ctx, ids...)
	if err != nil {
		return 0, err
	}
	sales, err := store.ListPromoterSales(ctx, ids...)
	if err != nil {
		return 0, err
	}
	entitlements, err := buildEntitlements(events, orders, sales)
	if err != nil {
		return 0, err
	}

	all, err := store.ListAdvances(ctx, organizerID)
	if err != nil {
		return 0, err
	}
	advances := all[:0]
	for _, adv := range all {
		if adv.ID != exclude {
			advances = append(advances, adv)
		}
	}

	return ComputeAvailableForAdvance(s.now(), organizerID, entitlements, advances).Available(code), nil
}

func (s *Service) loadEventState(ctx context.Context, store Store, eventID string) (*eventState, error) {
	event, err := s.lookupEvent(ctx, store, eventID)
	if err != nil {
		return nil, err
	}

	st := &eventState{event: event}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		st.organizer, err = s.lookupOrganizer(gctx, store, event.OrganizerID)
		return err
	})
	g.Go(func() (err error) {
		st.settlement, err = s.computeSettlement(gctx, store, event)
		return err
	})
	g.Go(func() (err error) {
		st.banks, err = store.ListBankAccounts(gctx, RecipientOrganizer, event.OrganizerID)
		return err
	})
	g.Go(func() (err error) {
		st.completed, err = store.FindCompletedPayout(gctx, OrganizerPayoutKey(event.ID))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return st, nil
}

func (s *Service) loadOrganizerState(ctx context.Context, store Store, organizerID string) (*organizerState, error) {
	org, err := s.lookupOrganizer(ctx, store, organizerID)
	if err != nil {
		return nil, err
	}

	st := &organizerState{organizer: org}

	var (
		entitlements []Entitlement
		advances     []*AdvancePayment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := store.ListEventsByOrganizer(gctx, organizerID)
		if err != nil {
			return err
		}
		entitlements, err = s.entitlements(gctx, store, events)
		return err
	})
	g.Go(func() (err error) {
		advances, err = store.ListAdvances(gctx, organizerID)
		return err
	})
	g.Go(func() (err error) {
		st.banks, err = store.ListBankAccounts(gctx, RecipientOrganizer, organizerID)
		return err
	})
	if err := g.Wait(); err != nil {
		zap.L().With(logFields(ctx, zap.String("organizer_id", organizerID))...).Error("failed to load organizer state", zap.Error(err))
		return nil, err
	}

	st.balance = ComputeAvailableForAdvance(s.now(), organizerID, entitlements, advances)
	return st, nil
}

// selectBank picks the explicit account when it belongs to the owner,
// otherwise the default account, otherwise the first one on file.
func selectBank(accounts []*BankAccount, explicitID string) *BankAccount {
	if explicitID != "" {
		for _, a := range accounts {
			if a.ID == explicitID {
				return a
			}
		}
		return nil
	}
	for _, a := range accounts {
		if a.IsDefault {
			return a
		}
	}
	if len(accounts) > 0 {
		return accounts[0]
	}
	return nil
}
