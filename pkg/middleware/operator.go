package middleware

import (
	"context"
	"strings"

	"ticketing-settlement/pkg/errutil"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const OperatorHeader = "X-Operator-ID"

type operatorKey struct{}

var OperatorContextKey = operatorKey{}

// WithOperator stores the acting operator id on ctx.
func WithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, OperatorContextKey, operatorID)
}

// GetOperator returns the operator id on ctx, "" when absent.
func GetOperator(ctx context.Context) string {
	id, _ := ctx.Value(OperatorContextKey).(string)
	return id
}

// RequireOperator rejects requests without an operator header. Identity is
// established upstream; this only carries it into the request context.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(OperatorHeader))
		if id == "" {
			_ = c.Error(errutil.Unauthorized("operator identity missing", nil,
				errutil.WithDetails(errutil.Detail{Field: OperatorHeader, Message: "required"})))
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(WithOperator(c.Request.Context(), id))
		c.Next()
	}
}

// OperatorInterceptor copies x-operator-id metadata into the context.
func OperatorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}

		if ids := md.Get(strings.ToLower(OperatorHeader)); len(ids) > 0 && ids[0] != "" {
			ctx = WithOperator(ctx, ids[0])
		}
		return handler(ctx, req)
	}
}
