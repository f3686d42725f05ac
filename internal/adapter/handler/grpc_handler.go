package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/quick-commerce/internal/core/domain"
)

const FulfillmentServiceName = "quickcommerce.v1.Fulfillment"

// jsonCodec carries the fulfillment messages as JSON. Clients select it with
// grpc.CallContentSubtype(JSONCodecName).
type jsonCodec struct{}

const JSONCodecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type CompleteDeliveryRequest struct {
	AssignmentID string `json:"assignment_id"`
}

type FulfillmentServer interface {
	Dispatch(ctx context.Context, req *OrderRequest) (*DispatchResponse, error)
	AcceptAssignment(ctx context.Context, req *OrderRequest) (*AssignmentResponse, error)
	CompleteDelivery(ctx context.Context, req *CompleteDeliveryRequest) (*AssignmentResponse, error)
	GetOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
}

type GRPCHandler struct {
	svc    Services
	logger *slog.Logger
}

var _ FulfillmentServer = (*GRPCHandler)(nil)

func NewGRPCHandler(svc Services, logger *slog.Logger) *GRPCHandler {
	return &GRPCHandler{svc: svc, logger: logger}
}

func (h *GRPCHandler) Dispatch(ctx context.Context, req *OrderRequest) (*DispatchResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStore); err != nil {
		return nil, err
	}
	res, err := h.svc.Dispatch.Dispatch(ctx, req.OrderID)
	if err != nil {
		return nil, h.toStatus("Dispatch", err)
	}
	resp := toDispatchResponse(res)
	return &resp, nil
}

func (h *GRPCHandler) AcceptAssignment(ctx context.Context, req *OrderRequest) (*AssignmentResponse, error) {
	auth, err := requireRole(ctx, domain.RoleRider)
	if err != nil {
		return nil, err
	}
	a, err := h.svc.Dispatch.AcceptAssignment(ctx, req.OrderID, auth.PartnerID)
	if err != nil {
		return nil, h.toStatus("AcceptAssignment", err)
	}
	return toAssignmentResponse(a), nil
}

func (h *GRPCHandler) CompleteDelivery(ctx context.Context, req *CompleteDeliveryRequest) (*AssignmentResponse, error) {
	auth, err := requireRole(ctx, domain.RoleRider)
	if err != nil {
		return nil, err
	}
	a, err := h.svc.Dispatch.CompleteDelivery(ctx, req.AssignmentID, auth.PartnerID)
	if err != nil {
		return nil, h.toStatus("CompleteDelivery", err)
	}
	return toAssignmentResponse(a), nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	auth, ok := AuthFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing authorization")
	}
	order, err := h.svc.Orders.Get(ctx, auth, req.OrderID)
	if err != nil {
		return nil, h.toStatus("GetOrder", err)
	}
	resp := toOrderResponse(order)
	return &resp, nil
}

func requireRole(ctx context.Context, roles ...domain.Role) (domain.AuthContext, error) {
	auth, ok := AuthFrom(ctx)
	if !ok {
		return auth, status.Error(codes.Unauthenticated, "missing authorization")
	}
	if !auth.HasRole(roles...) {
		return auth, status.Error(codes.PermissionDenied, "forbidden")
	}
	return auth, nil
}

func (h *GRPCHandler) toStatus(method string, err error) error {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.KindConflict:
		if errors.Is(err, domain.ErrOrderAlreadyAssigned) || errors.Is(err, domain.ErrDuplicateRequest) || errors.Is(err, domain.ErrInventoryExists) {
			return status.Error(codes.AlreadyExists, err.Error())
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.KindForbidden:
		return status.Error(codes.PermissionDenied, err.Error())
	case domain.KindUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	}
	h.logger.Error("grpc call failed", "method", method, "error", err)
	return status.Error(codes.Internal, "internal error")
}

// UnaryAuthInterceptor verifies the bearer token in the "authorization" metadata.
// The health service is open.
func UnaryAuthInterceptor(a *Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization")
		}
		parts := strings.Fields(values[0])
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return nil, status.Error(codes.Unauthenticated, "invalid authorization header")
		}

		auth, err := a.Parse(parts[1])
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		return handler(WithAuth(ctx, auth), req)
	}
}

func RegisterFulfillmentServer(s grpc.ServiceRegistrar, srv FulfillmentServer) {
	s.RegisterService(&fulfillmentServiceDesc, srv)
}

func unaryHandler[Req any](method string, call func(FulfillmentServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(FulfillmentServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + FulfillmentServiceName + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(FulfillmentServer), ctx, req.(*Req))
			})
		},
	}
}

var fulfillmentServiceDesc = grpc.ServiceDesc{
	ServiceName: FulfillmentServiceName,
	HandlerType: (*FulfillmentServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Dispatch", func(s FulfillmentServer, ctx context.Context, req *OrderRequest) (any, error) {
			return s.Dispatch(ctx, req)
		}),
		unaryHandler("AcceptAssignment", func(s FulfillmentServer, ctx context.Context, req *OrderRequest) (any, error) {
			return s.AcceptAssignment(ctx, req)
		}),
		unaryHandler("CompleteDelivery", func(s FulfillmentServer, ctx context.Context, req *CompleteDeliveryRequest) (any, error) {
			return s.CompleteDelivery(ctx, req)
		}),
		unaryHandler("GetOrder", func(s FulfillmentServer, ctx context.Context, req *OrderRequest) (any, error) {
			return s.GetOrder(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quickcommerce/v1/fulfillment",
}

// FulfillmentClient calls the service over an existing connection using the JSON
// codec. The bearer token is attached to every call.
type FulfillmentClient struct {
	cc    grpc.ClientConnInterface
	token string
}

func NewFulfillmentClient(cc grpc.ClientConnInterface, token string) *FulfillmentClient {
	return &FulfillmentClient{cc: cc, token: token}
}

func (c *FulfillmentClient) invoke(ctx context.Context, method string, in, out any) error {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	return c.cc.Invoke(ctx, "/"+FulfillmentServiceName+"/"+method, in, out, grpc.CallContentSubtype(JSONCodecName))
}

func (c *FulfillmentClient) Dispatch(ctx context.Context, orderID string) (*DispatchResponse, error) {
	out := new(DispatchResponse)
	if err := c.invoke(ctx, "Dispatch", &OrderRequest{OrderID: orderID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FulfillmentClient) AcceptAssignment(ctx context.Context, orderID string) (*AssignmentResponse, error) {
	out := new(AssignmentResponse)
	if err := c.invoke(ctx, "AcceptAssignment", &OrderRequest{OrderID: orderID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FulfillmentClient) CompleteDelivery(ctx context.Context, assignmentID string) (*AssignmentResponse, error) {
	out := new(AssignmentResponse)
	if err := c.invoke(ctx, "CompleteDelivery", &CompleteDeliveryRequest{AssignmentID: assignmentID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FulfillmentClient) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "GetOrder", &OrderRequest{OrderID: orderID}, out); err != nil {
		return nil, err
	}
	return out, nil
}
