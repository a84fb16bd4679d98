package settlement

import (
	"ticketing-settlement/pkg/errutil"
	"ticketing-settlement/pkg/lock"
	"ticketing-settlement/services/reauth"
)

// Reason is a stable, machine-readable denial or failure code.
type Reason string

const (
	ReasonReauthRequired Reason = reauth.ReasonRequired
	// ReasonOperatorForbidden means no role of the operator grants the action.
	ReasonOperatorForbidden Reason = "OPERATOR_FORBIDDEN"
	ReasonAdvancesDisabled  Reason = "ADVANCES_DISABLED"
	ReasonNotTrusted        Reason = "NOT_TRUSTED"
	ReasonEventNotEnded     Reason = "EVENT_NOT_ENDED"
	ReasonInvalidAmount     Reason = "INVALID_AMOUNT"
	ReasonExceedsAvailable  Reason = "EXCEEDS_AVAILABLE"
	ReasonBelowThreshold    Reason = "BELOW_THRESHOLD"
	ReasonNoBankAccount     Reason = "NO_BANK_ACCOUNT"
	ReasonKYCNotVerified    Reason = "KYC_NOT_VERIFIED"
	ReasonAlreadyPaid       Reason = "ALREADY_PAID"

	ReasonInconsistent      Reason = "SETTLEMENT_INCONSISTENT"
	ReasonInvalidCurrency   Reason = "INVALID_CURRENCY"
	ReasonReferenceConflict Reason = "REFERENCE_CONFLICT"
	ReasonStateChanged      Reason = "STATE_CHANGED"
	ReasonInProgress        Reason = lock.ReasonInProgress
	ReasonEventNotFound     Reason = "EVENT_NOT_FOUND"
	ReasonOrganizerNotFound Reason = "ORGANIZER_NOT_FOUND"
	ReasonWriteFailed       Reason = "WRITE_FAILED"
	// ReasonElevationUnavailable means the token store could not be reached;
	// the token was neither accepted nor rejected.
	ReasonElevationUnavailable Reason = "ELEVATION_UNAVAILABLE"
	ReasonRollbackFailed       Reason = "ROLLBACK_FAILED"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindPartialWrite Kind = "partial_write"
	KindFatal        Kind = "fatal"
	KindUnavailable  Kind = "unavailable"
	KindForbidden    Kind = "forbidden"
)

func (r Reason) Kind() Kind {
	switch r {
	case ReasonInvalidAmount, ReasonExceedsAvailable, ReasonBelowThreshold, ReasonInconsistent, ReasonInvalidCurrency:
		return KindValidation
	case ReasonReauthRequired, ReasonAdvancesDisabled, ReasonNotTrusted, ReasonEventNotEnded, ReasonNoBankAccount, ReasonKYCNotVerified:
		return KindPrecondition
	case ReasonAlreadyPaid, ReasonReferenceConflict, ReasonStateChanged, ReasonInProgress:
		return KindConflict
	case ReasonEventNotFound, ReasonOrganizerNotFound:
		return KindNotFound
	case ReasonRollbackFailed:
		return KindFatal
	case ReasonElevationUnavailable:
		return KindUnavailable
	case ReasonOperatorForbidden:
		return KindForbidden
	default:
		return KindPartialWrite
	}
}

func (r Reason) Error(msg string, opts ...errutil.Option) error {
	opts = append([]errutil.Option{errutil.WithReason(string(r))}, opts...)

	switch r.Kind() {
	case KindValidation:
		return errutil.ValidationFailed(msg, nil, opts...)
	case KindPrecondition:
		if r == ReasonReauthRequired {
			return errutil.Unauthorized(msg, nil, opts...)
		}
		return errutil.UnprocessableEntity(msg, nil, opts...)
	case KindConflict:
		return errutil.Conflict(msg, nil, opts...)
	case KindNotFound:
		return errutil.NotFound(msg, nil, opts...)
	case KindUnavailable:
		return errutil.ServiceUnavailable(msg, nil, opts...)
	case KindForbidden:
		return errutil.Forbidden(msg, nil, opts...)
	default:
		return errutil.Internal(msg, nil, opts...)
	}
}

// ReasonOf extracts the settlement reason carried by err.
func ReasonOf(err error) Reason {
	return Reason(errutil.ReasonOf(err))
}
