package handler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
	"github.com/rl1809/bookstore-backoffice/internal/core/service"
)

const orderServiceName = "bookstore.v1.OrderService"

// JSONCodec carries the order service messages as JSON instead of protobuf.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

type CreateOrderRequest struct {
	RequestID string      `json:"request_id"`
	ClientID  string      `json:"client_id"`
	Items     []OrderLine `json:"items"`
}

type UpdateOrderRequest struct {
	OrderID  string      `json:"order_id"`
	ClientID string      `json:"client_id"`
	Items    []OrderLine `json:"items"`
}

type UpdateStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type OrderServiceServer interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderBody, error)
	UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*OrderBody, error)
	UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*OrderBody, error)
	GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderBody, error)
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unaryHandler("CreateOrder", OrderServiceServer.CreateOrder)},
		{MethodName: "UpdateOrder", Handler: unaryHandler("UpdateOrder", OrderServiceServer.UpdateOrder)},
		{MethodName: "UpdateStatus", Handler: unaryHandler("UpdateStatus", OrderServiceServer.UpdateStatus)},
		{MethodName: "GetOrder", Handler: unaryHandler("GetOrder", OrderServiceServer.GetOrder)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler[Req any](method string, call func(OrderServiceServer, context.Context, *Req) (*OrderBody, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + orderServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderServiceClient calls a remote OrderServiceServer. The connection must
// use JSONCodec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, req *CreateOrderRequest, opts ...grpc.CallOption) (*OrderBody, error) {
	return c.invoke(ctx, "CreateOrder", req, opts)
}

func (c *OrderServiceClient) UpdateOrder(ctx context.Context, req *UpdateOrderRequest, opts ...grpc.CallOption) (*OrderBody, error) {
	return c.invoke(ctx, "UpdateOrder", req, opts)
}

func (c *OrderServiceClient) UpdateStatus(ctx context.Context, req *UpdateStatusRequest, opts ...grpc.CallOption) (*OrderBody, error) {
	return c.invoke(ctx, "UpdateStatus", req, opts)
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, req *GetOrderRequest, opts ...grpc.CallOption) (*OrderBody, error) {
	return c.invoke(ctx, "GetOrder", req, opts)
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, req any, opts []grpc.CallOption) (*OrderBody, error) {
	out := new(OrderBody)
	if err := c.cc.Invoke(ctx, "/"+orderServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	orderService *service.OrderService
	logger       *zap.Logger
}

func NewGRPCHandler(orderService *service.OrderService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{orderService: orderService, logger: logger}
}

// NewGRPCServer builds a server speaking JSONCodec with the order service registered.
func NewGRPCServer(h *GRPCHandler, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(JSONCodec{}))
	s := grpc.NewServer(opts...)
	RegisterOrderServiceServer(s, h)
	return s
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderBody, error) {
	content := OrderContent{ClientID: req.ClientID, Items: req.Items}
	order, err := h.orderService.CreateOrderOnce(ctx, req.RequestID, content.toDomain())
	if err != nil {
		return nil, h.statusError(err)
	}
	body := toOrderBody(order)
	return &body, nil
}

func (h *GRPCHandler) UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*OrderBody, error) {
	content := OrderContent{ClientID: req.ClientID, Items: req.Items}
	order, err := h.orderService.UpdateOrder(ctx, req.OrderID, content.toDomain())
	if err != nil {
		return nil, h.statusError(err)
	}
	body := toOrderBody(order)
	return &body, nil
}

func (h *GRPCHandler) UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*OrderBody, error) {
	order, err := h.orderService.UpdateStatus(ctx, req.OrderID, domain.OrderStatus(req.Status))
	if err != nil {
		return nil, h.statusError(err)
	}
	body := toOrderBody(order)
	return &body, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderBody, error) {
	order, err := h.orderService.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, h.statusError(err)
	}
	body := toOrderBody(order)
	return &body, nil
}

func (h *GRPCHandler) statusError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrCannotModifyOrder):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPrice):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		h.logger.Error("rpc failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}
