package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

func fastConfig(dir string) Config {
	logger, _ := test.NewNullLogger()
	return Config{
		Dir:            dir,
		MaxAttempts:    3,
		DeliverTimeout: time.Second,
		RetryInitial:   2 * time.Millisecond,
		RetryMax:       10 * time.Millisecond,
		Logger:         logger,
	}
}

func busEvent(t *testing.T, routingKey string, n int) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(fmt.Sprintf("ev-%d", n), routingKey, int64(n), map[string]any{"n": n})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPublishDeliversToBoundSubscriptionsOnly(t *testing.T) {
	cardsCh := make(chan domain.Event, 8)
	boardsCh := make(chan domain.Event, 8)

	b, err := New(fastConfig(t.TempDir()),
		Subscription{
			Name:     "cards",
			Bindings: []string{domain.RouteCardCreated, domain.RouteCardMoved},
			Handler: func(_ context.Context, ev domain.Event) error {
				cardsCh <- ev
				return nil
			},
		},
		Subscription{
			Name:     "boards",
			Bindings: []string{domain.RouteBoardCreated},
			Handler: func(_ context.Context, ev domain.Event) error {
				boardsCh <- ev
				return nil
			},
		},
	)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer b.Shutdown()

	sent := busEvent(t, domain.RouteCardCreated, 1)
	if err := b.Publish(context.Background(), sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-cardsCh:
		if got.ID != sent.ID || got.RoutingKey != sent.RoutingKey || string(got.Data) != string(sent.Data) {
			t.Fatalf("event mangled in transit: sent %#v got %#v", sent, got)
		}
	case <-time.After(time.Second):
		t.Fatal("cards subscription never received the event")
	}

	select {
	case got := <-boardsCh:
		t.Fatalf("boards subscription received an unbound event: %#v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEventReachesEverySubscription(t *testing.T) {
	first := make(chan domain.Event, 1)
	second := make(chan domain.Event, 1)

	b, err := New(fastConfig(t.TempDir()),
		Subscription{
			Name:     "one",
			Bindings: []string{domain.RouteCardMoved},
			Handler: func(_ context.Context, ev domain.Event) error {
				first <- ev
				return nil
			},
		},
		Subscription{
			Name:     "two",
			Bindings: []string{domain.RouteCardMoved},
			Handler: func(_ context.Context, ev domain.Event) error {
				second <- ev
				return nil
			},
		},
	)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer b.Shutdown()

	if err := b.Publish(context.Background(), busEvent(t, domain.RouteCardMoved, 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for name, ch := range map[string]chan domain.Event{"one": first, "two": second} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscription %s never received the event", name)
		}
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	var attempts atomic.Int64
	done := make(chan struct{})

	b, err := New(fastConfig(t.TempDir()), Subscription{
		Name:     "flaky",
		Bindings: []string{domain.RouteCardCreated},
		Handler: func(context.Context, domain.Event) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer b.Shutdown()

	if err := b.Publish(context.Background(), busEvent(t, domain.RouteCardCreated, 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never succeeded")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if len(b.DeadLetters()) != 0 {
		t.Fatalf("unexpected dead letters: %#v", b.DeadLetters())
	}
}

func TestDeadLetterAfterExhaustedAttempts(t *testing.T) {
	b, err := New(fastConfig(t.TempDir()), Subscription{
		Name:     "broken",
		Bindings: []string{domain.RouteCardCreated},
		Handler: func(context.Context, domain.Event) error {
			return errors.New("permanent")
		},
	})
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer b.Shutdown()

	if err := b.Publish(context.Background(), busEvent(t, domain.RouteCardCreated, 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, 2*time.Second, "dead letter", func() bool {
		return len(b.DeadLetters()) == 1
	})
	dl := b.DeadLetters()[0]
	if dl.Subscription != "broken" || dl.Attempts != 3 || dl.LastErr != "permanent" {
		t.Fatalf("unexpected dead letter %#v", dl)
	}

	stats := b.Snapshot()
	if stats.DeadLettered != 1 {
		t.Fatalf("expected 1 dead-lettered in stats, got %d", stats.DeadLettered)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b, err := New(fastConfig(t.TempDir()), Subscription{
		Name:     "panicky",
		Bindings: []string{domain.RouteCardCreated},
		Handler: func(context.Context, domain.Event) error {
			panic("boom")
		},
	})
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer b.Shutdown()

	if err := b.Publish(context.Background(), busEvent(t, domain.RouteCardCreated, 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, 2*time.Second, "panic dead letter", func() bool {
		return len(b.DeadLetters()) == 1
	})
}

func TestUnsettledEventsRedeliveredAfterRestart(t *testing.T) {
	dir := t.TempDir()

	// First run: the handler always fails and the attempt budget is not
	// exhausted before shutdown, so the offset stays unsettled.
	cfg := fastConfig(dir)
	cfg.MaxAttempts = 100
	cfg.RetryInitial = time.Hour
	cfg.RetryMax = time.Hour
	failed := make(chan struct{}, 1)
	b1, err := New(cfg, Subscription{
		Name:     "consumer",
		Bindings: []string{domain.RouteCardMoved},
		Handler: func(context.Context, domain.Event) error {
			select {
			case failed <- struct{}{}:
			default:
			}
			return errors.New("not yet")
		},
	})
	if err != nil {
		t.Fatalf("first bus: %v", err)
	}
	sent := busEvent(t, domain.RouteCardMoved, 7)
	if err := b1.Publish(context.Background(), sent); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("first delivery never attempted")
	}
	b1.Shutdown()

	// Second run recovers the journal and redelivers.
	got := make(chan domain.Event, 1)
	b2, err := New(fastConfig(dir), Subscription{
		Name:     "consumer",
		Bindings: []string{domain.RouteCardMoved},
		Handler: func(_ context.Context, ev domain.Event) error {
			got <- ev
			return nil
		},
	})
	if err != nil {
		t.Fatalf("second bus: %v", err)
	}
	defer b2.Shutdown()

	select {
	case ev := <-got:
		if ev.ID != sent.ID {
			t.Fatalf("expected redelivery of %s, got %s", sent.ID, ev.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not redelivered after restart")
	}
}

func TestPublishAfterShutdownFails(t *testing.T) {
	b, err := New(fastConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	b.Shutdown()

	if err := b.Publish(context.Background(), busEvent(t, domain.RouteCardCreated, 1)); !errors.Is(err, errBusClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestSnapshotTracksDeliveries(t *testing.T) {
	delivered := make(chan struct{}, 4)
	b, err := New(fastConfig(t.TempDir()), Subscription{
		Name:     "counter",
		Bindings: []string{domain.RouteCardCreated},
		Handler: func(context.Context, domain.Event) error {
			delivered <- struct{}{}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer b.Shutdown()

	for i := 1; i <= 3; i++ {
		if err := b.Publish(context.Background(), busEvent(t, domain.RouteCardCreated, i)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-delivered:
		case <-time.After(time.Second):
			t.Fatal("delivery missing")
		}
	}

	waitFor(t, time.Second, "queue drain", func() bool {
		return b.Snapshot().QueueDepth == 0
	})
	stats := b.Snapshot()
	if stats.Delivered != 3 {
		t.Fatalf("expected 3 delivered, got %d", stats.Delivered)
	}
}

func TestDeadLettersSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	b, err := New(fastConfig(dir), Subscription{
		Name:     "broken",
		Bindings: []string{domain.RouteCardCreated},
		Handler: func(context.Context, domain.Event) error {
			return errors.New("permanent")
		},
	})
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}

	sent := busEvent(t, domain.RouteCardCreated, 1)
	if err := b.Publish(context.Background(), sent); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, 2*time.Second, "dead letter", func() bool {
		return len(b.DeadLetters()) == 1
	})
	b.Shutdown()

	reopened, err := New(fastConfig(dir), Subscription{
		Name:     "broken",
		Bindings: []string{domain.RouteCardCreated},
		Handler: func(context.Context, domain.Event) error {
			return nil
		},
	})
	if err != nil {
		t.Fatalf("reopen bus: %v", err)
	}
	defer reopened.Shutdown()

	letters := reopened.DeadLetters()
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter after restart, got %d", len(letters))
	}
	if letters[0].Event.ID != sent.ID || letters[0].Subscription != "broken" || letters[0].LastErr != "permanent" {
		t.Fatalf("unexpected dead letter %#v", letters[0])
	}
	if got := reopened.Snapshot().DeadLettered; got != 1 {
		t.Fatalf("expected 1 dead-lettered in stats, got %d", got)
	}
}
