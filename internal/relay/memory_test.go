package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func mustEvent(t *testing.T, taskID string, typ EventType, payload interface{}) Event {
	t.Helper()
	evt, err := NewEvent(taskID, "thread-1", "item-1", typ, payload)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return evt
}

func TestBrokerAssignsSequentialSeq(t *testing.T) {
	t.Parallel()
	b := NewBroker(8)
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "task-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, mustEvent(t, "task-1", EventSteps, StepsPayload{})); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for want := uint64(1); want <= 3; want++ {
		evt := <-ch
		if evt.Seq != want {
			t.Fatalf("seq = %d, want %d", evt.Seq, want)
		}
	}
}

func TestBrokerReplaysHistoryToLateSubscriber(t *testing.T) {
	t.Parallel()
	b := NewBroker(8)
	ctx := context.Background()

	if err := b.Publish(ctx, mustEvent(t, "task-2", EventSteps, StepsPayload{})); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(ctx, mustEvent(t, "task-2", EventAnswer, AnswerPayload{Text: "hello"})); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ch, cancel, err := b.Subscribe(ctx, "task-2")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	first := <-ch
	second := <-ch
	if first.Type != EventSteps || first.Seq != 1 {
		t.Fatalf("first replayed event = %s seq %d", first.Type, first.Seq)
	}
	if second.Type != EventAnswer || second.Seq != 2 {
		t.Fatalf("second replayed event = %s seq %d", second.Type, second.Seq)
	}
	var answer AnswerPayload
	if err := json.Unmarshal(second.Payload, &answer); err != nil {
		t.Fatalf("decode answer payload: %v", err)
	}
	if answer.Text != "hello" {
		t.Fatalf("answer text = %q", answer.Text)
	}
}

func TestBrokerTerminalEventClosesSubscribers(t *testing.T) {
	t.Parallel()
	b := NewBroker(8)
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "task-3")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := b.Publish(ctx, mustEvent(t, "task-3", EventDone, DonePayload{Report: "r"})); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	evt, ok := <-ch
	if !ok {
		t.Fatal("channel closed before terminal event")
	}
	if evt.Type != EventDone {
		t.Fatalf("event type = %s, want %s", evt.Type, EventDone)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received event after terminal")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after terminal event")
	}
}

func TestBrokerSubscribeAfterTerminal(t *testing.T) {
	t.Parallel()
	b := NewBroker(8)
	ctx := context.Background()

	if err := b.Publish(ctx, mustEvent(t, "task-4", EventError, ErrorPayload{Reason: ReasonCancelled})); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ch, cancel, err := b.Subscribe(ctx, "task-4")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	evt, ok := <-ch
	if !ok {
		t.Fatal("expected terminal event replay")
	}
	if !evt.Terminal() {
		t.Fatalf("replayed event %s is not terminal", evt.Type)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel left open after terminal replay")
	}
}

func TestBrokerCancelUnsubscribes(t *testing.T) {
	t.Parallel()
	b := NewBroker(8)
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "task-5")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}
	if err := b.Publish(ctx, mustEvent(t, "task-5", EventSteps, StepsPayload{})); err != nil {
		t.Fatalf("Publish after cancel: %v", err)
	}
}

func TestBrokerConcurrentPublishAndCancel(t *testing.T) {
	t.Parallel()
	b := NewBroker(8)
	ctx := context.Background()

	// A publisher racing an unsubscribe must never send on a closed
	// channel. Run under -race to catch a close during the fan-out.
	for i := 0; i < 200; i++ {
		_, cancel, err := b.Subscribe(ctx, "task-6")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		evt := mustEvent(t, "task-6", EventSteps, StepsPayload{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := b.Publish(ctx, evt); err != nil {
				t.Errorf("Publish: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
		wg.Wait()
	}

	ch, cancel, err := b.Subscribe(ctx, "task-6")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()
	if err := b.Publish(ctx, mustEvent(t, "task-6", EventDone, DonePayload{Report: "r"})); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for evt := range ch {
		if evt.Terminal() {
			return
		}
	}
	t.Fatal("subscriber closed without a terminal event")
}
