// Package server assembles the gRPC server: interceptor chain, tracing and service registration.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"flowcrm/backend/internal/audit"
	automationhandler "flowcrm/backend/internal/automation/handler"
	"flowcrm/backend/internal/security"
	"flowcrm/backend/internal/server/interceptors"
)

// Options configures the interceptor chain.
type Options struct {
	// Tokens validates Bearer access tokens. Required.
	Tokens *security.TokenProvider
	// Sessions, when set, rejects tokens whose session was revoked.
	Sessions interceptors.SessionGetter
	// Auditor records mutating RPCs. Nil disables RPC auditing.
	Auditor audit.AuditLogger
	Logger  *zap.Logger
	// Reflection registers the reflection service (development only).
	Reflection bool
}

// PublicMethods need no access token.
var PublicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// unaudited are skipped by the audit interceptor. EmitEvent is audited by the emitter itself.
var unaudited = map[string]bool{
	automationhandler.FullMethod("EmitEvent"): true,
	healthpb.Health_Check_FullMethodName:      true,
}

// NewGRPCServer returns a server with tracing and the logging, auth and audit interceptors.
func NewGRPCServer(opts Options) *grpc.Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(logger, PublicMethods),
			interceptors.AuthUnary(opts.Tokens, PublicMethods, opts.Sessions),
			interceptors.AuditUnary(opts.Auditor, unaudited),
		),
	)
}

// RegisterServices registers the AutomationService and the standard health service on s.
//
// Service → implementation:
//   - flowcrm.automation.v1.AutomationService → internal/automation/handler
//   - grpc.health.v1.Health                   → google.golang.org/grpc/health, driven by Health
func RegisterServices(s *grpc.Server, automation automationhandler.AutomationServiceServer, hs *health.Server, withReflection bool) {
	automationhandler.RegisterAutomationServiceServer(s, automation)
	if hs != nil {
		healthpb.RegisterHealthServer(s, hs)
	}
	if withReflection {
		reflection.Register(s)
	}
}
