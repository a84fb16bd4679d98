package reauth

import (
	"context"
	"time"

	"ticketing-settlement/pkg/config"
	"ticketing-settlement/pkg/errutil"
	"ticketing-settlement/pkg/util"
	"ticketing-settlement/services/audit"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	verifier Verifier
	store    TokenStore
	recorder audit.Recorder
	ttl      time.Duration
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	Config   *config.Config
	Verifier Verifier
	Store    TokenStore
	Recorder audit.Recorder
}

func NewService(p ServiceParams) *Service {
	return New(p.Verifier, p.Store, p.Recorder, p.Config.Reauth.TokenTTL)
}

func New(verifier Verifier, store TokenStore, recorder audit.Recorder, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{verifier: verifier, store: store, recorder: recorder, ttl: ttl, now: time.Now}
}

func Required(msg string) error {
	return errutil.Unauthorized(msg, nil, errutil.WithReason(ReasonRequired))
}

// Elevate verifies the operator's credential and issues a token valid for
// exactly one use of scope.
func (s *Service) Elevate(ctx context.Context, operatorID, credential string, scope Scope) (*Grant, error) {
	span := trace.SpanFromContext(ctx)
	log := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("operator_id", operatorID),
		zap.String("scope", scope.String()),
	)

	if scope.Action == "" || scope.SubjectID == "" {
		return nil, errutil.BadRequest("elevation scope requires action and subject", nil)
	}

	ok, err := s.verifier.Verify(ctx, operatorID, credential)
	if err != nil {
		log.Error("credential verification failed", zap.Error(err))
		return nil, errutil.Internal("credential verification failed", err)
	}
	if !ok {
		log.Warn("credential rejected")
		s.recorder.Record(ctx, audit.Entry{
			ActorID:     operatorID,
			ActionType:  audit.ActionReauthRejected,
			SubjectType: audit.SubjectOperator,
			SubjectID:   operatorID,
			Metadata:    map[string]any{"scope": scope.String()},
		})
		return nil, errutil.Unauthorized("credential rejected", nil, errutil.WithReason(ReasonInvalidCredential))
	}

	token, err := util.URLToken(32)
	if err != nil {
		return nil, errutil.Internal("failed to issue elevation token", err)
	}

	now := s.now()
	grant := Grant{
		Token:      token,
		OperatorID: operatorID,
		Scope:      scope,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}

	if err := s.store.Save(ctx, grant, s.ttl); err != nil {
		log.Error("failed to store elevation token", zap.Error(err))
		return nil, errutil.ServiceUnavailable("elevation store unavailable", err)
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:     operatorID,
		ActionType:  audit.ActionReauthElevated,
		SubjectType: audit.SubjectOperator,
		SubjectID:   operatorID,
		Metadata:    map[string]any{"scope": scope.String(), "expires_at": grant.ExpiresAt},
	})

	return &grant, nil
}

// Consume takes the token out of the store and checks it covers operatorID
// and scope. A token presented with the wrong scope is burned regardless.
func (s *Service) Consume(ctx context.Context, token, operatorID string, scope Scope) (*Grant, error) {
	if token == "" {
		return nil, Required("re-authentication required for this action")
	}

	grant, err := s.store.Take(ctx, token)
	if err != nil {
		return nil, errutil.ServiceUnavailable("elevation store unavailable", err)
	}
	if grant == nil {
		return nil, Required("elevation token is unknown, used or expired")
	}

	grant.Token = token
	if !grant.Covers(operatorID, scope, s.now()) {
		zap.L().Warn("elevation token scope mismatch",
			zap.String("operator_id", operatorID),
			zap.String("want_scope", scope.String()),
			zap.String("token_scope", grant.Scope.String()),
		)
		return nil, Required("elevation token does not cover this action")
	}

	return grant, nil
}
