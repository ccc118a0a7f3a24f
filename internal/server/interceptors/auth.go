package interceptors

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"flowcrm/backend/internal/security"
	sessiondomain "flowcrm/backend/internal/session/domain"
)

const bearerPrefix = "bearer "

// SessionGetter loads the session an access token was issued for.
type SessionGetter interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer access token from
// gRPC metadata and sets user_id, org_id, session_id in context. publicMethods do not need a
// token (e.g. the health check). When sessions is non-nil the token's session must also still
// be live, so a revoked session stops working before its access tokens expire.
func AuthUnary(tokens *security.TokenProvider, publicMethods map[string]bool, sessions SessionGetter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		id, err := tokens.ValidateAccess(token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		if sessions != nil && !public {
			s, err := sessions.GetByID(ctx, id.SessionID)
			if err != nil {
				return nil, status.Error(codes.Internal, "failed to resolve session")
			}
			if !s.Live(time.Now().UTC()) {
				return nil, status.Error(codes.Unauthenticated, "session revoked or expired")
			}
		}

		ctx = WithIdentity(ctx, id.UserID, id.OrgID, id.SessionID)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
