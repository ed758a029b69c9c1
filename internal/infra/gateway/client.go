package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
)

var _ session.Gateway = (*Client)(nil)

var asyncChatStream = &grpc.StreamDesc{StreamName: "asyncChat", ServerStreams: true}

// Client implements session.Gateway over one gRPC channel.
type Client struct {
	conn   *grpc.ClientConn
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewClient wraps an established channel. The Client owns conn from here on.
func NewClient(conn *grpc.ClientConn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{conn: conn, logger: logger}
}

// Close releases the channel. Only the first call does any work; later calls return the
// same result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		c.logger.Debug("gateway channel closed", "target", c.conn.Target(), "error", c.closeErr)
	})
	return c.closeErr
}

func (c *Client) RegisterClient(ctx context.Context, name, clientID string) (session.Ack, error) {
	resp, err := c.invoke(ctx, MethodRegisterClient, encodeRegistration(name, clientID), msgClientRegistrationResponse)
	if err != nil {
		return session.Ack{}, err
	}
	return decodeAck(resp), nil
}

func (c *Client) ListProviders(ctx context.Context) ([]session.ProviderDescriptor, error) {
	resp, err := c.invoke(ctx, MethodListProviders, newMessage(msgEmptyRequest), msgProvidersListResponse)
	if err != nil {
		return nil, err
	}
	return decodeProvidersList(resp), nil
}

func (c *Client) GetProviderCapabilities(ctx context.Context, clientID, provider string) (session.ProviderDescriptor, error) {
	resp, err := c.invoke(ctx, MethodGetProviderCapabilities, encodeProviderRequest(clientID, provider), msgProviderCapabilitiesResponse)
	if err != nil {
		return session.ProviderDescriptor{}, err
	}
	return decodeProviderInfo(resp), nil
}

func (c *Client) SetPreferredProviders(ctx context.Context, clientID string, sel session.CapabilitySelection) (session.Ack, error) {
	resp, err := c.invoke(ctx, MethodSetPreferredProviders, encodeSelection(clientID, sel), msgSelectionResponse)
	if err != nil {
		return session.Ack{}, err
	}
	return decodeAck(resp), nil
}

func (c *Client) SyncChat(ctx context.Context, req session.ChatRequest) (string, error) {
	resp, err := c.invoke(ctx, MethodSyncChat, encodeChatRequest(req), msgChatResponse)
	if err != nil {
		return "", err
	}
	return getString(resp, "completion"), nil
}

// AsyncChat opens the server stream and sends the single request. Fragments are read
// through the returned TokenStream; the stream is torn down when ctx ends.
func (c *Client) AsyncChat(ctx context.Context, req session.ChatRequest) (session.TokenStream, error) {
	cs, err := c.conn.NewStream(ctx, asyncChatStream, MethodAsyncChat)
	if err != nil {
		return nil, wrapErr(ctx, MethodAsyncChat, err)
	}
	if err := cs.SendMsg(encodeChatRequest(req)); err != nil {
		return nil, wrapErr(ctx, MethodAsyncChat, err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, wrapErr(ctx, MethodAsyncChat, err)
	}
	return &tokenStream{ctx: ctx, cs: cs}, nil
}

func (c *Client) GetEmbedding(ctx context.Context, clientID, text string) ([]float32, error) {
	resp, err := c.invoke(ctx, MethodGetEmbedding, encodeEmbeddingRequest(clientID, text), msgEmbeddingResponse)
	if err != nil {
		return nil, err
	}
	return decodeEmbedding(resp), nil
}

func (c *Client) UnregisterClient(ctx context.Context, clientID string) (session.Ack, error) {
	resp, err := c.invoke(ctx, MethodUnregisterClient, encodeClientID(msgClientUnregistrationRequest, clientID), msgClientUnregistrationResponse)
	if err != nil {
		return session.Ack{}, err
	}
	return decodeAck(resp), nil
}

func (c *Client) invoke(ctx context.Context, method string, req proto.Message, respName string) (*dynamicpb.Message, error) {
	resp := newMessage(respName)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		c.logger.DebugContext(ctx, "gateway call failed", "method", method, "error", err)
		return nil, wrapErr(ctx, method, err)
	}
	return resp, nil
}

// wrapErr keeps the gRPC status in the chain and, when the caller's context has ended,
// adds ctx.Err() so errors.Is(err, context.Canceled) holds.
func wrapErr(ctx context.Context, method string, err error) error {
	op := path.Base(method)
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("gateway: %s: %w", op, errors.Join(err, ctxErr))
	}
	return fmt.Errorf("gateway: %s: %w", op, err)
}

type tokenStream struct {
	ctx context.Context
	cs  grpc.ClientStream
}

func (s *tokenStream) Next() (string, error) {
	part := newMessage(msgChatResponsePart)
	if err := s.cs.RecvMsg(part); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", wrapErr(s.ctx, MethodAsyncChat, err)
	}
	return getString(part, "token"), nil
}
