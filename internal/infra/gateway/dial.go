package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matiasleandrokruk/xlmsession/pkg/auth"
)

// ErrNoAddress is returned by Dial when DialConfig.Address is empty.
var ErrNoAddress = errors.New("gateway: address is required")

// DialConfig describes how to reach the gateway.
type DialConfig struct {
	Address string // host:port

	TLS        bool
	CAFile     string // PEM bundle; system roots when empty
	ServerName string // overrides the name checked against the server certificate

	// AuthSecret enables per-RPC bearer tokens signed with HMAC. ClientName becomes the
	// token subject.
	AuthSecret string
	ClientName string
	TokenTTL   time.Duration

	Logger *slog.Logger

	// Options are appended after the options derived above.
	Options []grpc.DialOption
}

// Dial creates the channel and wraps it in a Client. No I/O happens until the first call.
func Dial(cfg DialConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, ErrNoAddress
	}

	var opts []grpc.DialOption
	if cfg.TLS {
		creds, err := transportCredentials(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if cfg.AuthSecret != "" {
		ttl := cfg.TokenTTL
		if ttl <= 0 {
			ttl = auth.DefaultTokenTTL
		}
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCredentials{
			secret:     []byte(cfg.AuthSecret),
			subject:    cfg.ClientName,
			ttl:        ttl,
			requireTLS: cfg.TLS,
		}))
	}
	opts = append(opts, cfg.Options...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", cfg.Address, err)
	}
	return NewClient(conn, cfg.Logger), nil
}

func transportCredentials(cfg DialConfig) (credentials.TransportCredentials, error) {
	if cfg.CAFile != "" {
		creds, err := credentials.NewClientTLSFromFile(cfg.CAFile, cfg.ServerName)
		if err != nil {
			return nil, fmt.Errorf("gateway: load CA %s: %w", cfg.CAFile, err)
		}
		return creds, nil
	}
	return credentials.NewTLS(&tls.Config{
		ServerName: cfg.ServerName,
		MinVersion: tls.VersionTLS12,
	}), nil
}

// bearerCredentials mints a fresh short-lived token for every call.
type bearerCredentials struct {
	secret     []byte
	subject    string
	ttl        time.Duration
	requireTLS bool
}

func (b bearerCredentials) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	token, err := auth.GenerateToken(b.secret, b.subject, b.ttl)
	if err != nil {
		return nil, fmt.Errorf("gateway: sign token: %w", err)
	}
	return map[string]string{authorizationKey: bearerPrefix + token}, nil
}

func (b bearerCredentials) RequireTransportSecurity() bool { return b.requireTLS }
