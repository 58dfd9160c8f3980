// Package stream implements the metering interceptor for streaming
// provider responses. Content chunks are forwarded to the caller
// unmodified; billing happens as a side effect once the upstream signals
// completion, and only if a usage record was captured before then.
package stream

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/rhino-ai/billing-gateway/internal/provider"
	"github.com/rhino-ai/billing-gateway/internal/usage"
)

// Interceptor states. A stream starts out streaming, moves to
// usageCaptured once a usage sidecar arrives, and closes when the upstream
// completes, errors, or the caller disconnects. Settlement happens only on
// the usageCaptured -> closed transition driven by upstream completion.
type state int

const (
	stateStreaming state = iota
	stateUsageCaptured
)

// SettleFunc is invoked exactly once with the captured usage when a
// metered stream completes normally. It is never invoked for aborted or
// usage-less streams.
type SettleFunc func(u usage.ProviderUsage)

// Meter wraps an upstream chunk stream with usage capture. The returned
// channel yields the upstream chunks unmodified and is closed when the
// upstream ends or the context is cancelled.
//
// Billing rules:
//   - settle runs only after upstream completion with a captured usage record;
//   - a stream that ends without ever reporting usage is not billed;
//   - a caller disconnect (context cancellation) stops relaying and is not
//     billed, because completion was never observed;
//   - an upstream error closes the output cleanly without retrying the
//     provider call and without billing.
func Meter(ctx context.Context, upstream <-chan provider.StreamChunk, settle SettleFunc) <-chan provider.StreamChunk {
	out := make(chan provider.StreamChunk)

	go func() {
		defer close(out)

		st := stateStreaming
		var captured usage.ProviderUsage

		for {
			select {
			case <-ctx.Done():
				// Caller gone: stop relaying, never bill a partial stream.
				return
			case chunk, ok := <-upstream:
				if !ok {
					// Upstream closed without an explicit Done marker;
					// treat it as completion.
					if st == stateUsageCaptured {
						settle(captured)
					}
					return
				}

				if chunk.Usage != nil && st == stateStreaming {
					captured = usage.Normalize(*chunk.Usage)
					st = stateUsageCaptured
				}

				if chunk.Err != nil {
					log.WithError(chunk.Err).Warn("stream: upstream error, closing without billing")
					relay(ctx, out, chunk)
					return
				}

				if !relay(ctx, out, chunk) {
					return
				}

				if chunk.Done {
					if st == stateUsageCaptured {
						settle(captured)
					}
					return
				}
			}
		}
	}()

	return out
}

// relay forwards one chunk to the caller, reporting false if the caller
// disconnected.
func relay(ctx context.Context, out chan<- provider.StreamChunk, chunk provider.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
