package handler

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/core/service"
)

const (
	serviceName = "stockroom.Stockroom"
	codecName   = "json"

	mdSubject = "x-subject-id"
	mdRole    = "x-role"
)

// jsonCodec lets the service run without generated protobuf stubs. Clients
// select it with grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type ApplyDeltaRequest struct {
	ItemID int64  `json:"item_id"`
	Amount int    `json:"amount"`
	Note   string `json:"note"`
}

type ApplyDeltaResponse struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type CreateWithdrawalMessage struct {
	Items          []ItemAmountRequest `json:"items"`
	Note           string              `json:"note"`
	IdempotencyKey string              `json:"idempotency_key"`
}

type CreateWithdrawalResponse struct {
	SlipID int64 `json:"slip_id"`
}

type ProcessReturnMessage struct {
	SlipID         int64               `json:"slip_id"`
	Items          []ReturnLineRequest `json:"items"`
	IdempotencyKey string              `json:"idempotency_key"`
}

type TransitionRequestMessage struct {
	RequestID int64  `json:"request_id"`
	Action    string `json:"action"`
	Purchaser string `json:"purchaser"`
}

type TransitionRequestResponse struct {
	RequestID int64  `json:"request_id"`
	Status    string `json:"status"`
}

type GetRequestMessage struct {
	RequestID int64 `json:"request_id"`
}

// StockroomServer is the server API of the stockroom.Stockroom service.
type StockroomServer interface {
	ApplyDelta(context.Context, *ApplyDeltaRequest) (*ApplyDeltaResponse, error)
	CreateWithdrawal(context.Context, *CreateWithdrawalMessage) (*CreateWithdrawalResponse, error)
	ProcessReturn(context.Context, *ProcessReturnMessage) (*ReturnResponse, error)
	TransitionRequest(context.Context, *TransitionRequestMessage) (*TransitionRequestResponse, error)
	GetRequest(context.Context, *GetRequestMessage) (*RequestResponse, error)
}

// unary adapts a typed server method to a grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(StockroomServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StockroomServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(StockroomServer), ctx, req.(*Req))
			})
		},
	}
}

var stockroomServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StockroomServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ApplyDelta", StockroomServer.ApplyDelta),
		unary("CreateWithdrawal", StockroomServer.CreateWithdrawal),
		unary("ProcessReturn", StockroomServer.ProcessReturn),
		unary("TransitionRequest", StockroomServer.TransitionRequest),
		unary("GetRequest", StockroomServer.GetRequest),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockroom.proto",
}

func RegisterStockroomServer(s grpc.ServiceRegistrar, srv StockroomServer) {
	s.RegisterService(&stockroomServiceDesc, srv)
}

var _ StockroomServer = (*GRPCHandler)(nil)

type GRPCHandler struct {
	core *service.Core
}

func NewGRPCHandler(core *service.Core) *GRPCHandler {
	return &GRPCHandler{core: core}
}

// actorFromMetadata reads the caller identity set by the gateway in front of
// the gRPC listener.
func actorFromMetadata(ctx context.Context) (domain.Actor, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "missing metadata")
	}
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	actor, err := domain.NewActor(first(mdSubject), first(mdRole))
	if err != nil {
		return domain.Actor{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return actor, nil
}

func authorized(ctx context.Context, action domain.Action) (domain.Actor, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if err := domain.Authorize(action, actor.Role); err != nil {
		return domain.Actor{}, grpcError(err)
	}
	return actor, nil
}

func (h *GRPCHandler) ApplyDelta(ctx context.Context, req *ApplyDeltaRequest) (*ApplyDeltaResponse, error) {
	actor, err := authorized(ctx, domain.ActionAdjustStock)
	if err != nil {
		return nil, err
	}
	qty, err := h.core.Ledger.ApplyDelta(ctx, actor, req.ItemID, req.Amount, req.Note)
	if err != nil {
		return nil, grpcError(err)
	}
	return &ApplyDeltaResponse{ItemID: req.ItemID, Quantity: qty}, nil
}

func (h *GRPCHandler) CreateWithdrawal(ctx context.Context, req *CreateWithdrawalMessage) (*CreateWithdrawalResponse, error) {
	actor, err := authorized(ctx, domain.ActionCreateWithdrawal)
	if err != nil {
		return nil, err
	}
	var id int64
	err = h.core.Once(ctx, "withdrawal", actor, req.IdempotencyKey, func(ctx context.Context) error {
		var err error
		id, err = h.core.Withdrawals.CreateWithdrawal(ctx, actor, itemAmounts(req.Items), req.Note)
		return err
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &CreateWithdrawalResponse{SlipID: id}, nil
}

func (h *GRPCHandler) ProcessReturn(ctx context.Context, req *ProcessReturnMessage) (*ReturnResponse, error) {
	actor, err := authorized(ctx, domain.ActionProcessReturn)
	if err != nil {
		return nil, err
	}
	lines, err := returnLines(req.Items)
	if err != nil {
		return nil, grpcError(err)
	}
	var result *domain.ReturnResult
	err = h.core.Once(ctx, "return", actor, req.IdempotencyKey, func(ctx context.Context) error {
		var err error
		result, err = h.core.Returns.ProcessReturn(ctx, actor, req.SlipID, lines)
		return err
	})
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toReturn(result)
	return &resp, nil
}

func (h *GRPCHandler) TransitionRequest(ctx context.Context, req *TransitionRequestMessage) (*TransitionRequestResponse, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	action, ok := domain.ParseAction(req.Action)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown action %q", req.Action)
	}
	next, err := h.core.Requests.Transition(ctx, actor, req.RequestID, action, domain.TransitionPayload{Purchaser: req.Purchaser})
	if err != nil {
		return nil, grpcError(err)
	}
	return &TransitionRequestResponse{RequestID: req.RequestID, Status: string(next)}, nil
}

func (h *GRPCHandler) GetRequest(ctx context.Context, req *GetRequestMessage) (*RequestResponse, error) {
	if _, err := actorFromMetadata(ctx); err != nil {
		return nil, err
	}
	r, err := h.core.Requests.Get(ctx, req.RequestID)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toRequest(*r)
	return &resp, nil
}
