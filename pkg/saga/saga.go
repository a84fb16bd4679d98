// Package saga runs an ordered list of steps, undoing completed steps in
// reverse order when a later one fails.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

type Saga struct {
	name       string
	steps      []Step
	compensate bool
	logger     *zap.Logger
}

type Option func(*Saga)

// WithoutCompensation skips compensations. Used when the steps share one
// database transaction and rollback is left to the store.
func WithoutCompensation() Option {
	return func(s *Saga) { s.compensate = false }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Saga) { s.logger = l }
}

func New(name string, opts ...Option) *Saga {
	s := &Saga{name: name, compensate: true}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.L()
	}
	return s
}

func (s *Saga) Add(steps ...Step) *Saga {
	s.steps = append(s.steps, steps...)
	return s
}

// CompensationError records one compensation that failed.
type CompensationError struct {
	Step string
	Err  error
}

// Error is returned by Run when an action fails.
type Error struct {
	Saga               string
	Stage              string
	Cause              error
	Compensated        []string
	CompensationErrors []CompensationError
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("saga %s failed at %s: %v", e.Saga, e.Stage, e.Cause)
	if len(e.CompensationErrors) > 0 {
		parts := make([]string, 0, len(e.CompensationErrors))
		for _, ce := range e.CompensationErrors {
			parts = append(parts, fmt.Sprintf("%s: %v", ce.Step, ce.Err))
		}
		msg += "; compensation failed (" + strings.Join(parts, "; ") + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Fatal reports whether a compensation failed, leaving partial writes behind.
func (e *Error) Fatal() bool { return len(e.CompensationErrors) > 0 }

// Run executes the steps in order. Zero retries are attempted.
func (s *Saga) Run(ctx context.Context) error {
	done := make([]Step, 0, len(s.steps))

	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, step.Name, err, done)
		}
		if err := step.Action(ctx); err != nil {
			return s.fail(ctx, step.Name, err, done)
		}
		done = append(done, step)
	}

	return nil
}

func (s *Saga) fail(ctx context.Context, stage string, cause error, done []Step) error {
	serr := &Error{Saga: s.name, Stage: stage, Cause: cause}

	if !s.compensate {
		return serr
	}

	// compensations run even when the caller's context is already done
	cctx := context.WithoutCancel(ctx)

	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}

		log := s.logger.With(
			zap.String("saga", s.name),
			zap.String("failed_stage", stage),
			zap.String("compensate", step.Name),
		)

		if err := step.Compensate(cctx); err != nil {
			log.Error("compensation failed", zap.Error(err))
			serr.CompensationErrors = append(serr.CompensationErrors, CompensationError{Step: step.Name, Err: err})
			continue
		}

		log.Warn("compensation applied")
		serr.Compensated = append(serr.Compensated, step.Name)
	}

	return serr
}

// AsError unwraps err into a *Error.
func AsError(err error) (*Error, bool) {
	var serr *Error
	if errors.As(err, &serr) {
		return serr, true
	}
	return nil, false
}
