package connect

import (
	"context"

	"connectrpc.com/connect"

	"github.com/pitabwire/lexicon/culture"
)

// CultureInterceptor implements connect.Interceptor, placing the requested cultures in the context.
type CultureInterceptor struct{}

// NewCultureInterceptor creates a culture interceptor.
func NewCultureInterceptor() *CultureInterceptor {
	return &CultureInterceptor{}
}

// WrapUnary reads Accept-Language from unary requests.
func (c *CultureInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if cultures := culture.ExtractFromHTTPHeader(req.Header()); len(cultures) > 0 {
			ctx = culture.ToContext(ctx, cultures)
		}
		return next(ctx, req)
	}
}

// WrapStreamingClient is a pass-through; cultures are a server-side concern.
func (c *CultureInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler reads Accept-Language once from the stream's request header.
func (c *CultureInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if cultures := culture.ExtractFromHTTPHeader(conn.RequestHeader()); len(cultures) > 0 {
			ctx = culture.ToContext(ctx, cultures)
		}
		return next(ctx, conn)
	}
}
