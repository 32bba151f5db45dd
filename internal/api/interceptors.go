package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const requestIDMetadataKey = "x-request-id"

// accessLog writes one line per health check and one per finished watch.
type accessLog struct {
	log zerolog.Logger
}

func newAccessLog(logger *zerolog.Logger) *accessLog {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "grpc").Logger()
	}
	return &accessLog{log: l}
}

func (a *accessLog) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)
		a.record(ctx, requestID, info.FullMethod, start, err).Msg("grpc request")
		return resp, err
	}
}

func (a *accessLog) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		requestID := requestIDFromMetadata(ctx)
		_ = ss.SetHeader(metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		err := handler(srv, ss)
		a.record(ctx, requestID, info.FullMethod, start, err).Msg("grpc stream closed")
		return err
	}
}

// record fills the common fields; failed calls log at warn.
func (a *accessLog) record(ctx context.Context, requestID, method string, start time.Time, err error) *zerolog.Event {
	code := status.Code(err)

	ev := a.log.Info()
	if err != nil && ctx.Err() == nil {
		ev = a.log.Warn()
	}

	remote := clientKeyUnknown
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}

	return ev.
		Str("request_id", requestID).
		Str("method", method).
		Str("remote", remote).
		Str("code", code.String()).
		Dur("duration", time.Since(start))
}

// requestIDFromMetadata keeps the caller's id so health probes can be
// correlated with their own logs.
func requestIDFromMetadata(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if id := first(md.Get(requestIDMetadataKey)); id != "" {
		return id
	}
	return uuid.NewString()
}
