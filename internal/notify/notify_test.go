package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSink struct {
	mu      sync.Mutex
	got     []Message
	block   chan struct{}
	failFor string
}

func (f *fakeSink) Publish(_ context.Context, m Message) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.Type == f.failFor {
		return errors.New("boom")
	}
	f.got = append(f.got, m)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestSubject(t *testing.T) {
	m := NewMessage(EventFinalized, "e1", time.Now())
	if got := Subject(m); got != "escrow.events.event.finalized.e1" {
		t.Errorf("Subject = %q", got)
	}
}

func TestNewMessage_Options(t *testing.T) {
	m := NewMessage(TicketPurchased, "e1", time.Now(),
		WithAccount("alice"), WithAmount(100), WithReceipt("r1"), WithMetadata("reason", "x"))
	if m.ID == "" || m.Account != "alice" || m.Amount != 100 || m.Receipt != "r1" || m.Metadata["reason"] != "x" {
		t.Errorf("unexpected message: %+v", m)
	}
}

func TestWorker_DeliversAndDrains(t *testing.T) {
	sink := &fakeSink{failFor: ParticipantRefunded}
	w := NewWorker(sink, 16, zerolog.Nop(), nil)
	w.Start()

	w.Emit(NewMessage(EventCreated, "e1", time.Now()))
	w.Emit(NewMessage(ParticipantRefunded, "e1", time.Now()))
	w.Emit(NewMessage(EventCancelled, "e1", time.Now()))
	w.Shutdown()

	if got := sink.count(); got != 2 {
		t.Errorf("delivered %d, want 2 (failed publish is logged, not retried)", got)
	}
}

func TestWorker_DropsWhenFull(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	w := NewWorker(sink, 1, zerolog.Nop(), nil)

	// not started: the buffer fills after one message
	w.Emit(NewMessage(EventCreated, "e1", time.Now()))
	w.Emit(NewMessage(EventCreated, "e2", time.Now()))

	close(sink.block)
	w.Start()
	w.Shutdown()
	if got := sink.count(); got != 1 {
		t.Errorf("delivered %d, want 1", got)
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Emit(NewMessage(EventCreated, "e1", time.Now()))
	r.Emit(NewMessage(TicketPurchased, "e1", time.Now()))
	types := r.Types()
	if len(types) != 2 || types[1] != TicketPurchased {
		t.Errorf("types = %v", types)
	}
}
