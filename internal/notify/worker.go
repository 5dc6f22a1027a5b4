package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/event-escrow/internal/observability"
)

const publishTimeout = 5 * time.Second

// Worker hands messages to a Sink on a background goroutine. Emit never
// blocks; when the buffer is full the message is dropped and counted.
type Worker struct {
	ch      chan Message
	sink    Sink
	log     zerolog.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorker returns a worker buffering up to bufferSize messages for sink.
// Call Start before emitting.
func NewWorker(sink Sink, bufferSize int, log zerolog.Logger, metrics *observability.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		ch:      make(chan Message, bufferSize),
		sink:    sink,
		log:     log,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the delivery loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.ctx.Done():
				w.log.Info().Int("remaining", len(w.ch)).Msg("draining messages before shutdown")
				for {
					select {
					case m := <-w.ch:
						w.deliver(context.Background(), m)
					default:
						return
					}
				}
			case m := <-w.ch:
				w.deliver(w.ctx, m)
			}
		}
	}()
}

func (w *Worker) deliver(parent context.Context, m Message) {
	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()
	if err := w.sink.Publish(ctx, m); err != nil {
		w.log.Error().Err(err).
			Str("type", m.Type).
			Str("event_id", m.EventID).
			Msg("publish failed")
	}
}

// Emit queues m without blocking.
func (w *Worker) Emit(m Message) {
	select {
	case w.ch <- m:
	default:
		w.metrics.PublishDropped()
		w.log.Warn().Str("type", m.Type).Str("event_id", m.EventID).Msg("publish queue full, dropping message")
	}
}

// Shutdown stops the loop after draining queued messages.
func (w *Worker) Shutdown() {
	w.cancel()
	w.wg.Wait()
}
