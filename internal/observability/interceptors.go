// Package observability provides gRPC interceptors and the metrics/health
// HTTP server.
package observability

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"speech-bridge-service/internal/observability/metrics"
)

// UnaryServerInterceptor logs unary calls (health checks) at debug level and
// turns handler panics into codes.Internal.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		logger := callLogger(ctx, info.FullMethod)
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = panicError(logger, r)
			}
			logger.Debug().
				Str("code", status.Code(err).String()).
				Dur("duration", time.Since(start)).
				Msg("gRPC unary call")
		}()

		return handler(logger.WithContext(ctx), req)
	}
}

// StreamServerInterceptor attaches a call logger to the stream context,
// records the transcribe stream outcome and turns handler panics into
// codes.Internal.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		logger := callLogger(ss.Context(), info.FullMethod)
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = panicError(logger, r)
			}
			duration := time.Since(start)
			code := status.Code(err)
			m.RecordClientStream("grpc", code.String(), duration.Seconds())

			ev := logger.Info()
			if code != codes.OK && code != codes.Canceled {
				ev = logger.Warn().Err(err)
			}
			ev.Str("code", code.String()).
				Dur("duration", duration).
				Msg("gRPC stream completed")
		}()

		return handler(srv, &loggedStream{ServerStream: ss, ctx: logger.WithContext(ss.Context())})
	}
}

// loggedStream overrides Context so handlers see the call logger.
type loggedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *loggedStream) Context() context.Context { return s.ctx }

func callLogger(ctx context.Context, method string) zerolog.Logger {
	c := log.With().Str("method", method)
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		c = c.Str("peer", p.Addr.String())
	}
	return c.Logger()
}

func panicError(logger zerolog.Logger, r interface{}) error {
	logger.Error().
		Str("panic", fmt.Sprint(r)).
		Bytes("stack", debug.Stack()).
		Msg("gRPC handler panicked")
	return status.Error(codes.Internal, "internal error")
}
