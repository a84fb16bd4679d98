package middleware

import (
	"context"
	"errors"
	"net/http"

	"ticketing-settlement/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error renders the last handler error. BaseError keeps its code and reason,
// anything else becomes a 500 without leaking internals.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		switch {
		case errors.As(last.Err, &be):
			if be.Code.HTTPStatus() >= http.StatusInternalServerError {
				zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(last.Err))
			}
			c.JSON(be.Code.HTTPStatus(), be.JSON())
		case errors.Is(last.Err, context.DeadlineExceeded):
			c.JSON(http.StatusGatewayTimeout, errutil.BaseError{Code: errutil.StatusGatewayTimeout, Message: "operation timed out"}.JSON())
		default:
			zap.L().Error("unhandled request error", zap.String("path", c.FullPath()), zap.Error(last.Err))
			c.JSON(http.StatusInternalServerError, errutil.BaseError{Code: errutil.StatusInternal, Message: "internal error"}.JSON())
		}
	}
}

// ErrorInterceptor converts handler errors into gRPC status errors.
func ErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		return resp, grpcError(info.FullMethod, err)
	}
}

// ErrorStreamInterceptor is ErrorInterceptor for streaming handlers.
func ErrorStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := handler(srv, ss); err != nil {
			return grpcError(info.FullMethod, err)
		}
		return nil
	}
}

func grpcError(method string, err error) error {
	serr := errutil.ToGRPCError(err)
	if status.Code(serr) == codes.Internal {
		zap.L().Error("rpc failed", zap.String("method", method), zap.Error(err))
	}
	return serr
}
