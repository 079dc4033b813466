package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	f := New[int](4)
	a := f.Subscribe()
	b := f.Subscribe()

	f.Publish(1)
	f.Publish(2)

	for name, ch := range map[string]<-chan int{"a": a, "b": b} {
		if got := <-ch; got != 1 {
			t.Errorf("%s first = %d, want 1", name, got)
		}
		if got := <-ch; got != 2 {
			t.Errorf("%s second = %d, want 2", name, got)
		}
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	f := New[int](1)
	slow := f.Subscribe()
	fast := f.Subscribe()

	var drops []int
	f.OnDrop = func(idx int) { drops = append(drops, idx) }

	f.Publish(1)
	f.Publish(2) // slow's buffer is full, fast drained below would still hold both

	if len(drops) != 2 || drops[0] != 0 || drops[1] != 1 {
		// Both buffers are size 1, so the second publish drops for both.
		t.Errorf("drops = %v, want [0 1]", drops)
	}
	if got := <-slow; got != 1 {
		t.Errorf("slow kept %d, want 1", got)
	}
	if got := <-fast; got != 1 {
		t.Errorf("fast kept %d, want 1", got)
	}
}

func TestRunClosesSubscribersOnInputClose(t *testing.T) {
	f := New[string](4)
	out := f.Subscribe()

	input := make(chan string, 2)
	input <- "x"
	close(input)

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), input)
		close(done)
	}()

	if got := <-out; got != "x" {
		t.Errorf("got %q, want x", got)
	}
	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel never closed")
	}
	<-done
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := New[int](4)
	out := f.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx, make(chan int))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := <-out; ok {
		t.Error("subscriber channel left open")
	}
}

func TestChannelStats(t *testing.T) {
	f := New[int](8)
	f.Subscribe()
	f.Publish(1)
	f.Publish(2)

	stats := f.ChannelStats()
	if len(stats) != 1 || stats[0].Len != 2 || stats[0].Cap != 8 {
		t.Errorf("stats = %+v", stats)
	}
}
