package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/elixirhk/stockroom/internal/core/domain"
)

// StockroomClient calls the stockroom.Stockroom service with the JSON codec.
type StockroomClient struct {
	cc grpc.ClientConnInterface
}

func NewStockroomClient(cc grpc.ClientConnInterface) *StockroomClient {
	return &StockroomClient{cc: cc}
}

// WithActor attaches the caller identity to outgoing calls made with ctx.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return metadata.AppendToOutgoingContext(ctx, mdSubject, actor.SubjectID, mdRole, string(actor.Role))
}

func (c *StockroomClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *StockroomClient) ApplyDelta(ctx context.Context, in *ApplyDeltaRequest, opts ...grpc.CallOption) (*ApplyDeltaResponse, error) {
	out := new(ApplyDeltaResponse)
	if err := c.invoke(ctx, "ApplyDelta", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StockroomClient) CreateWithdrawal(ctx context.Context, in *CreateWithdrawalMessage, opts ...grpc.CallOption) (*CreateWithdrawalResponse, error) {
	out := new(CreateWithdrawalResponse)
	if err := c.invoke(ctx, "CreateWithdrawal", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StockroomClient) ProcessReturn(ctx context.Context, in *ProcessReturnMessage, opts ...grpc.CallOption) (*ReturnResponse, error) {
	out := new(ReturnResponse)
	if err := c.invoke(ctx, "ProcessReturn", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StockroomClient) TransitionRequest(ctx context.Context, in *TransitionRequestMessage, opts ...grpc.CallOption) (*TransitionRequestResponse, error) {
	out := new(TransitionRequestResponse)
	if err := c.invoke(ctx, "TransitionRequest", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StockroomClient) GetRequest(ctx context.Context, in *GetRequestMessage, opts ...grpc.CallOption) (*RequestResponse, error) {
	out := new(RequestResponse)
	if err := c.invoke(ctx, "GetRequest", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
