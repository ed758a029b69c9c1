package gateway

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
)

// Service is the server half of XlmEcosystemService. Errors should be gRPC status errors;
// anything else is reported to the caller as codes.Unknown, or Canceled/DeadlineExceeded
// when it wraps a context error.
type Service interface {
	RegisterClient(ctx context.Context, name, clientID string) (session.Ack, error)
	ListProviders(ctx context.Context) ([]session.ProviderDescriptor, error)
	GetProviderCapabilities(ctx context.Context, clientID, provider string) (session.ProviderDescriptor, error)
	SetPreferredProviders(ctx context.Context, clientID string, sel session.CapabilitySelection) (session.Ack, error)
	SyncChat(ctx context.Context, req session.ChatRequest) (string, error)
	// AsyncChat calls send once per fragment, in order. Returning nil ends the stream
	// normally.
	AsyncChat(ctx context.Context, req session.ChatRequest, send func(token string) error) error
	GetEmbedding(ctx context.Context, clientID, text string) ([]float32, error)
	UnregisterClient(ctx context.Context, clientID string) (session.Ack, error)
}

// Register exposes svc on s.
func Register(s grpc.ServiceRegistrar, svc Service) {
	s.RegisterService(&serviceDesc, svc)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		unary("registerClient", msgClientRegistrationRequest, func(ctx context.Context, svc Service, req *dynamicpb.Message) (proto.Message, error) {
			name, id := decodeRegistration(req)
			ack, err := svc.RegisterClient(ctx, name, id)
			if err != nil {
				return nil, err
			}
			return encodeAck(msgClientRegistrationResponse, ack), nil
		}),
		unary("listProviders", msgEmptyRequest, func(ctx context.Context, svc Service, _ *dynamicpb.Message) (proto.Message, error) {
			providers, err := svc.ListProviders(ctx)
			if err != nil {
				return nil, err
			}
			return encodeProvidersList(providers), nil
		}),
		unary("getProviderCapabilities", msgProviderRequest, func(ctx context.Context, svc Service, req *dynamicpb.Message) (proto.Message, error) {
			id, provider := decodeProviderRequest(req)
			pd, err := svc.GetProviderCapabilities(ctx, id, provider)
			if err != nil {
				return nil, err
			}
			return encodeProviderCapabilities(pd), nil
		}),
		unary("setPreferredProviders", msgProviderSelectionRequest, func(ctx context.Context, svc Service, req *dynamicpb.Message) (proto.Message, error) {
			id, sel := decodeSelection(req)
			ack, err := svc.SetPreferredProviders(ctx, id, sel)
			if err != nil {
				return nil, err
			}
			return encodeAck(msgSelectionResponse, ack), nil
		}),
		unary("syncChat", msgChatRequest, func(ctx context.Context, svc Service, req *dynamicpb.Message) (proto.Message, error) {
			text, err := svc.SyncChat(ctx, decodeChatRequest(req))
			if err != nil {
				return nil, err
			}
			return encodeCompletion(text), nil
		}),
		unary("getEmbedding", msgEmbeddingRequest, func(ctx context.Context, svc Service, req *dynamicpb.Message) (proto.Message, error) {
			id, text := decodeEmbeddingRequest(req)
			vector, err := svc.GetEmbedding(ctx, id, text)
			if err != nil {
				return nil, err
			}
			return encodeEmbedding(vector), nil
		}),
		unary("unregisterClient", msgClientUnregistrationRequest, func(ctx context.Context, svc Service, req *dynamicpb.Message) (proto.Message, error) {
			ack, err := svc.UnregisterClient(ctx, getString(req, "client_id"))
			if err != nil {
				return nil, err
			}
			return encodeAck(msgClientUnregistrationResponse, ack), nil
		}),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "asyncChat",
		ServerStreams: true,
		Handler:       asyncChatHandler,
	}},
	Metadata: "xlm_eco_api.proto",
}

type unaryCall func(ctx context.Context, svc Service, req *dynamicpb.Message) (proto.Message, error)

func unary(name, reqName string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := newMessage(reqName)
			if err := dec(req); err != nil {
				return nil, err
			}
			svc := srv.(Service)
			handler := func(ctx context.Context, r any) (any, error) {
				resp, err := call(ctx, svc, r.(*dynamicpb.Message))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}

func asyncChatHandler(srv any, stream grpc.ServerStream) error {
	req := newMessage(msgChatRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	err := srv.(Service).AsyncChat(stream.Context(), decodeChatRequest(req), func(token string) error {
		return stream.SendMsg(encodeToken(token))
	})
	if err != nil {
		return toStatus(err)
	}
	return nil
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
