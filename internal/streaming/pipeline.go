package streaming

import (
	"context"
	"io"
	"time"

	"github.com/relaymux/llmgate/internal/translate"
)

// FrameDecoder turns one raw upstream SSE frame into a canonical Delta. Each
// transactor supplies the decoder matching its upstream's wire shape
// (OpenAI chat.completion.chunk, Claude content_block_delta/message_delta,
// or Gemini streamGenerateContent candidates).
type FrameDecoder func(frame *Frame) (translate.Delta, error)

// Pipeline normalizes an upstream byte stream into canonical Deltas: frame
// SSE, decode, enforce stop sequences, inject keep-alives, and surface
// mid-stream errors as a terminal delta. Usage is passed through on each
// delta as decoded; Collect sums it.
type Pipeline struct {
	Decode FrameDecoder
	StopSequences []string
	KeepAliveEvery time.Duration
}

// Run starts consuming upstream and returns a channel of canonical Deltas.
// The channel is unbuffered: a slow reader exerts back-pressure all the way
// to the upstream body read, so no unbounded buffering ever accumulates.
// The channel is closed once the stream ends, the context is canceled, or
// a terminal delta (error or stop) has been sent.
func (p *Pipeline) Run(ctx context.Context, upstream io.Reader) <-chan translate.Delta {
	out := make(chan translate.Delta)
	go p.run(ctx, upstream, out)
	return out
}

func (p *Pipeline) run(ctx context.Context, upstream io.Reader, out chan<- translate.Delta) {
	defer close(out)

	scanner := NewFrameScanner(upstream)
	filter := NewStopSequenceFilter(p.StopSequences)
	frames := make(chan *Frame)
	scanErr := make(chan error, 1)

	go func() {
		defer close(frames)
		for {
			frame, done, err := scanner.Next()
			if err != nil {
				scanErr <- err
				return
			}
			if done {
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	var keepAlive <-chan time.Time
	var ticker *time.Ticker
	if p.KeepAliveEvery > 0 {
		ticker = time.NewTicker(p.KeepAliveEvery)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-scanErr:
			if !ok {
				continue
			}
			sendBlocking(ctx, out, translate.Delta{StopReason: "error", Done: true})
			_ = err
			return

		case frame, ok := <-frames:
			if !ok {
				if tail := filter.Flush(); tail != "" {
					sendBlocking(ctx, out, translate.Delta{ContentDelta: tail})
				}
				return
			}
			delta, err := p.Decode(frame)
			if err != nil {
				sendBlocking(ctx, out, translate.Delta{StopReason: "error", Done: true})
				return
			}

			emit, stopped, _ := filter.Feed(delta.ContentDelta)
			delta.ContentDelta = emit
			if stopped {
				delta.StopReason = "stop_sequence"
				delta.Done = true
				sendBlocking(ctx, out, delta)
				return
			}
			if !sendBlocking(ctx, out, delta) {
				return
			}
			if delta.Done {
				return
			}

		case <-keepAlive:
			sendBlocking(ctx, out, translate.Delta{KeepAlive: true})
		}
	}
}

// sendBlocking delivers d on out, honoring ctx cancellation. Returns false
// if the context was canceled before the send completed.
func sendBlocking(ctx context.Context, out chan<- translate.Delta, d translate.Delta) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a Delta channel into one aggregated response, for clients
// that requested non-streaming mode.
func Collect(deltas <-chan translate.Delta) (content string, usage translate.Usage, stopReason string) {
	for d := range deltas {
		if d.KeepAlive {
			continue
		}
		content += d.ContentDelta
		usage.Add(d.Usage)
		if d.StopReason != "" {
			stopReason = d.StopReason
		}
	}
	return content, usage, stopReason
}
