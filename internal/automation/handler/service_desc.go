package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "flowcrm.automation.v1.AutomationService"

// AutomationServiceServer is the management surface. Every method takes and returns a
// google.protobuf.Struct; the field names are documented on each method.
type AutomationServiceServer interface {
	EmitEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetWebhookConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfigureWebhook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RotateWebhookSecret(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveWebhook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TestWebhook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListWebhookDeliveries(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateSequence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSequences(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EnrollLead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnenrollLead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetSequenceActive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListNotifications(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkNotificationRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkAllNotificationsRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDashboardStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAuditLogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFailedJobs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(AutomationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var methodTable = []struct {
	name string
	call unaryCall
}{
	{"EmitEvent", AutomationServiceServer.EmitEvent},
	{"GetWebhookConfig", AutomationServiceServer.GetWebhookConfig},
	{"ConfigureWebhook", AutomationServiceServer.ConfigureWebhook},
	{"RotateWebhookSecret", AutomationServiceServer.RotateWebhookSecret},
	{"RemoveWebhook", AutomationServiceServer.RemoveWebhook},
	{"TestWebhook", AutomationServiceServer.TestWebhook},
	{"ListWebhookDeliveries", AutomationServiceServer.ListWebhookDeliveries},
	{"CreateSequence", AutomationServiceServer.CreateSequence},
	{"ListSequences", AutomationServiceServer.ListSequences},
	{"EnrollLead", AutomationServiceServer.EnrollLead},
	{"UnenrollLead", AutomationServiceServer.UnenrollLead},
	{"SetSequenceActive", AutomationServiceServer.SetSequenceActive},
	{"ListNotifications", AutomationServiceServer.ListNotifications},
	{"MarkNotificationRead", AutomationServiceServer.MarkNotificationRead},
	{"MarkAllNotificationsRead", AutomationServiceServer.MarkAllNotificationsRead},
	{"GetDashboardStats", AutomationServiceServer.GetDashboardStats},
	{"ListAuditLogs", AutomationServiceServer.ListAuditLogs},
	{"ListFailedJobs", AutomationServiceServer.ListFailedJobs},
	{"RetryJob", AutomationServiceServer.RetryJob},
}

// FullMethod returns the gRPC full method name of method, e.g. for interceptor skip lists.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func methodHandler(name string, call unaryCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AutomationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AutomationServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, h)
	}
}

func serviceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, len(methodTable))
	for i, m := range methodTable {
		methods[i] = grpc.MethodDesc{MethodName: m.name, Handler: methodHandler(m.name, m.call)}
	}
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*AutomationServiceServer)(nil),
		Methods:     methods,
		Metadata:    "flowcrm/automation/v1/automation.proto",
	}
}

// AutomationService_ServiceDesc describes the service for grpc.ServiceRegistrar.
var AutomationService_ServiceDesc = serviceDesc()

func RegisterAutomationServiceServer(s grpc.ServiceRegistrar, srv AutomationServiceServer) {
	s.RegisterService(&AutomationService_ServiceDesc, srv)
}

// Client calls the service over cc.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
