package observability

import (
	"context"
	"path"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"voice-transcriber-bot/internal/observability/metrics"
)

// UnaryClientInterceptor returns a gRPC client interceptor that records
// latency and failures of calls to a speech backend.
func UnaryClientInterceptor(m *metrics.Metrics, provider string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		start := time.Now()

		err := invoker(ctx, method, req, reply, cc, opts...)

		duration := time.Since(start)
		name := path.Base(method)
		m.RecordSTTCall(provider, name, duration.Seconds())

		st, _ := status.FromError(err)
		if err != nil {
			m.RecordSTTError(provider, st.Code().String())
		}

		log.Debug().
			Str("method", method).
			Str("code", st.Code().String()).
			Dur("duration", duration).
			Msg("gRPC unary call")

		return err
	}
}
