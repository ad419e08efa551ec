package engine

import (
	"context"
	"log"
	"time"

	"github.com/antoniostano/haven/internal/observability"
)

// Bridge wraps an Adapter so the conversation path always receives text:
// every engine failure is converted into the configured fallback reply.
// Conversational continuity wins over surfacing infrastructure errors.
type Bridge struct {
	adapter      Adapter
	fallbackText string
	metrics      *observability.Metrics
}

func NewBridge(adapter Adapter, fallbackText string, metrics *observability.Metrics) *Bridge {
	return &Bridge{
		adapter:      adapter,
		fallbackText: fallbackText,
		metrics:      metrics,
	}
}

// Reply returns the engine's answer, or the fallback text when the engine
// fails. The bool reports whether the fallback was used.
func (b *Bridge) Reply(ctx context.Context, req ReplyRequest) (string, bool) {
	start := time.Now()
	resp, err := b.adapter.Reply(ctx, req)
	if b.metrics != nil {
		b.metrics.ObserveEngineReplyLatency(time.Since(start))
	}
	if err != nil {
		log.Printf("engine reply failed for session %s: %v", req.SessionID, err)
		if b.metrics != nil {
			b.metrics.EngineErrors.WithLabelValues("reply_failed").Inc()
		}
		return b.fallbackText, true
	}
	if resp.Text == "" {
		if b.metrics != nil {
			b.metrics.EngineErrors.WithLabelValues("empty_reply").Inc()
		}
		return b.fallbackText, true
	}
	return resp.Text, false
}
