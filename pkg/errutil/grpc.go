package errutil

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain tags the ErrorInfo detail attached to settlement errors.
const ErrorDomain = "settlement"

// GRPCCode maps a CoreStatus onto the gRPC code clients retry on.
// Conflicts such as an already paid event are Aborted, not AlreadyExists:
// the caller must re-read state before trying again.
func (s CoreStatus) GRPCCode() codes.Code {
	switch s {
	case StatusUnauthorized:
		return codes.Unauthenticated
	case StatusForbidden:
		return codes.PermissionDenied
	case StatusNotFound:
		return codes.NotFound
	case StatusTimeout, StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case StatusUnprocessableEntity:
		return codes.FailedPrecondition
	case StatusUnsupportedMediaType, StatusBadRequest, StatusValidationFailed:
		return codes.InvalidArgument
	case StatusConflict:
		return codes.Aborted
	case StatusTooManyRequests:
		return codes.ResourceExhausted
	case StatusClientClosedRequest:
		return codes.Canceled
	case StatusNotImplemented:
		return codes.Unimplemented
	case StatusBadGateway, StatusServiceUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// ToGRPCError converts err into a status error. A BaseError keeps its reason
// and details in an ErrorInfo; internal causes are not sent to the client.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "operation timed out")
	}

	var be BaseError
	if !errors.As(err, &be) {
		return status.Error(codes.Internal, "internal error")
	}

	code := be.Code.GRPCCode()
	msg := be.Message
	if code == codes.Internal {
		msg = "internal error"
	}
	st := status.New(code, msg)
	if be.Reason == "" && len(be.Details) == 0 {
		return st.Err()
	}

	info := &errdetails.ErrorInfo{Reason: be.Reason, Domain: ErrorDomain, Metadata: map[string]string{}}
	for _, d := range be.Details {
		info.Metadata[d.Field] = d.Message
	}
	if withInfo, derr := st.WithDetails(info); derr == nil {
		st = withInfo
	}
	return st.Err()
}

// ReasonFromGRPC returns the settlement reason carried by a status error.
func ReasonFromGRPC(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == ErrorDomain {
			return info.Reason
		}
	}
	return ""
}
