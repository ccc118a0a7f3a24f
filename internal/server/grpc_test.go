package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	automationhandler "flowcrm/backend/internal/automation/handler"
	"flowcrm/backend/internal/security"
	"flowcrm/backend/internal/server/interceptors"
)

type mockPinger struct{ err error }

func (m *mockPinger) PingContext(context.Context) error { return m.err }

type mockPolicyChecker struct{ err error }

func (m *mockPolicyChecker) HealthCheck(context.Context) error { return m.err }

type recordingAuditor struct {
	actions []string
}

func (r *recordingAuditor) LogEvent(_ context.Context, _, _, action, _, _ string, _ map[string]any) {
	r.actions = append(r.actions, action)
}

// echoServer answers every RPC with the caller's org id.
type echoServer struct {
	automationhandler.AutomationServiceServer
}

func (echoServer) GetDashboardStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	org, _ := interceptors.GetOrgID(ctx)
	return structpb.NewStruct(map[string]any{"orgId": org})
}

func (echoServer) ConfigureWebhook(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return &structpb.Struct{}, nil
}

func (echoServer) EmitEvent(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return &structpb.Struct{}, nil
}

func startServer(t *testing.T, opts Options, hs *Health) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer(opts)
	RegisterServices(s, echoServer{}, hs.Server(), false)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHealth_Check(t *testing.T) {
	tests := []struct {
		name   string
		db     Pinger
		policy PolicyChecker
		want   healthpb.HealthCheckResponse_ServingStatus
	}{
		{"no probes", nil, nil, healthpb.HealthCheckResponse_SERVING},
		{"all healthy", &mockPinger{}, &mockPolicyChecker{}, healthpb.HealthCheckResponse_SERVING},
		{"db down", &mockPinger{err: errors.New("connection refused")}, &mockPolicyChecker{}, healthpb.HealthCheckResponse_NOT_SERVING},
		{"policy down", &mockPinger{}, &mockPolicyChecker{err: errors.New("eval failed")}, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealth(tt.db, tt.policy, nil)
			assert.Equal(t, tt.want, h.Check(context.Background()))

			resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: automationhandler.ServiceName})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.GetStatus())
		})
	}
}

func TestHealth_RunStopsServing(t *testing.T) {
	h := NewHealth(&mockPinger{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool {
		resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestGRPCServer_HealthIsPublic(t *testing.T) {
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	hs := NewHealth(nil, nil, nil)
	hs.Check(context.Background())
	conn := startServer(t, Options{Tokens: tokens}, hs)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestGRPCServer_InterceptorChain(t *testing.T) {
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	auditor := &recordingAuditor{}
	conn := startServer(t, Options{Tokens: tokens, Auditor: auditor}, NewHealth(nil, nil, nil))
	client := automationhandler.NewClient(conn)

	_, err = client.Call(context.Background(), "GetDashboardStats", &structpb.Struct{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	token, _, err := tokens.IssueAccess(security.Identity{SessionID: "s1", UserID: "u1", OrgID: "org-1"})
	require.NoError(t, err)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)

	resp, err := client.Call(ctx, "GetDashboardStats", &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, "org-1", resp.GetFields()["orgId"].GetStringValue())

	_, err = client.Call(ctx, "ConfigureWebhook", &structpb.Struct{})
	require.NoError(t, err)
	_, err = client.Call(ctx, "EmitEvent", &structpb.Struct{})
	require.NoError(t, err)

	// Reads and EmitEvent are not audited here.
	require.Len(t, auditor.actions, 1)
	assert.Equal(t, "configure", auditor.actions[0])
}
