package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/pitabwire/lexicon/culture"
)

// CultureUnaryInterceptor extracts the cultures supplied via metadata into the handler context.
func CultureUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any,
		_ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if cultures := culture.ExtractFromGrpcRequest(ctx); len(cultures) > 0 {
			ctx = culture.ToContext(ctx, cultures)
		}

		return handler(ctx, req)
	}
}

// CultureStreamInterceptor is the streaming counterpart of CultureUnaryInterceptor.
func CultureStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		cultures := culture.ExtractFromGrpcRequest(ctx)
		if len(cultures) == 0 {
			return handler(srv, ss)
		}

		return handler(srv, &serverStreamWrapper{culture.ToContext(ctx, cultures), ss})
	}
}

// serverStreamWrapper overrides the stream context so handlers observe the cultures.
type serverStreamWrapper struct {
	ctx context.Context
	grpc.ServerStream
}

func (s *serverStreamWrapper) Context() context.Context {
	return s.ctx
}
