package bus

import (
	"context"
	"testing"
	"time"

	"github.com/altilium/altilium/command"
)

func setCmd(key string) command.Command {
	return command.Command{Kind: command.Set, Key: key}
}

func TestPublishOrderingAcrossSubscribers(t *testing.T) {
	b := New(4)
	writer := b.Subscribe("writer", true)
	aof := b.Subscribe("aof", false)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, setCmd(string(rune('a'+i)))); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		wc := <-writer.Commands()
		ac := <-aof.Commands()
		if wc.Key != ac.Key {
			t.Fatalf("subscribers observed different order: writer=%q aof=%q", wc.Key, ac.Key)
		}
		want := string(rune('a' + i))
		if wc.Key != want {
			t.Fatalf("iteration %d: got %q, want %q", i, wc.Key, want)
		}
	}
}

func TestNonCriticalSubscriberLags(t *testing.T) {
	b := New(2)
	slow := b.Subscribe("slow", false)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_ = b.Publish(ctx, setCmd("k"))
	}

	select {
	case <-slow.Lagged():
	case <-time.After(time.Second):
		t.Fatal("expected slow subscriber to be signalled as lagged")
	}
}

func TestCriticalSubscriberBackpressure(t *testing.T) {
	b := New(1)
	writer := b.Subscribe("writer", true)

	ctx := context.Background()
	if err := b.Publish(ctx, setCmd("a")); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- b.Publish(ctx, setCmd("b"))
	}()

	select {
	case <-done:
		t.Fatal("second publish should have blocked on backpressure")
	case <-time.After(50 * time.Millisecond):
	}

	<-writer.Commands() // drain "a", freeing capacity
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second publish error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second publish never unblocked after drain")
	}
}

func TestPublishRespectsContextCancellation(t *testing.T) {
	b := New(1)
	_ = b.Subscribe("writer", true)

	ctx := context.Background()
	if err := b.Publish(ctx, setCmd("a")); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Publish(cctx, setCmd("b")); err == nil {
		t.Fatal("expected context deadline error on blocked publish")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("temp", false)
	b.Unsubscribe(sub)

	if err := b.Publish(context.Background(), setCmd("a")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case _, ok := <-sub.Commands():
		if ok {
			t.Fatal("unsubscribed consumer should not receive further commands")
		}
	default:
	}
}
