package analytics

import (
	"context"
	"testing"

	"taskboard/domain"
)

func event(t *testing.T, routingKey string, payload any) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent("ev-1", routingKey, 1, payload)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}

func TestBoardCreatedCounters(t *testing.T) {
	a := New()
	ev := event(t, domain.RouteBoardCreated, domain.BoardCreated{BoardID: "b1", Name: "Roadmap", ActorID: "u1"})
	if err := a.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := a.Counter("boards_created_total"); got != 1 {
		t.Fatalf("boards_created_total = %d", got)
	}
	if got := a.Counter("boards_created_by_user_u1"); got != 1 {
		t.Fatalf("boards_created_by_user_u1 = %d", got)
	}
}

func TestCardCreatedCountsPerPriorityAndBoard(t *testing.T) {
	a := New()
	for i := 0; i < 3; i++ {
		ev := event(t, domain.RouteCardCreated, domain.CardCreated{CardID: "c1", BoardID: "b1", ListID: "l1", Priority: domain.PriorityHigh})
		if err := a.Handle(context.Background(), ev); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	ev := event(t, domain.RouteCardCreated, domain.CardCreated{CardID: "c2", BoardID: "b2", ListID: "l2", Priority: domain.PriorityLow})
	if err := a.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := a.Counter("cards_created_total"); got != 4 {
		t.Fatalf("cards_created_total = %d", got)
	}
	if got := a.Counter("cards_created_priority_high"); got != 3 {
		t.Fatalf("cards_created_priority_high = %d", got)
	}
	if got := a.Counter("cards_created_priority_low"); got != 1 {
		t.Fatalf("cards_created_priority_low = %d", got)
	}
	if got := a.Counter("cards_created_board_b1"); got != 3 {
		t.Fatalf("cards_created_board_b1 = %d", got)
	}
}

func TestCardMovedDistinguishesCrossListMoves(t *testing.T) {
	a := New()
	within := event(t, domain.RouteCardMoved, domain.CardMoved{CardID: "c1", BoardID: "b1", FromListID: "l1", ToListID: "l1"})
	across := event(t, domain.RouteCardMoved, domain.CardMoved{CardID: "c1", BoardID: "b1", FromListID: "l1", ToListID: "l2"})
	for _, ev := range []domain.Event{within, across} {
		if err := a.Handle(context.Background(), ev); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	if got := a.Counter("cards_moved_total"); got != 2 {
		t.Fatalf("cards_moved_total = %d", got)
	}
	if got := a.Counter("cards_moved_across_lists_total"); got != 1 {
		t.Fatalf("cards_moved_across_lists_total = %d", got)
	}
}

func TestUnknownRoutingKeyIsCountedNotFailed(t *testing.T) {
	a := New()
	ev := event(t, "list.renamed", map[string]any{"listId": "l1"})
	if err := a.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := a.Counter("events_unhandled_total"); got != 1 {
		t.Fatalf("events_unhandled_total = %d", got)
	}
}

func TestMalformedPayloadReturnsError(t *testing.T) {
	a := New()
	ev := domain.Event{ID: "ev-1", RoutingKey: domain.RouteCardCreated, Data: []byte("{broken")}
	if err := a.Handle(context.Background(), ev); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	a := New()
	ev := event(t, domain.RouteBoardCreated, domain.BoardCreated{BoardID: "b1", ActorID: "u1"})
	if err := a.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	snap := a.Snapshot()
	snap["boards_created_total"] = 99
	if got := a.Counter("boards_created_total"); got != 1 {
		t.Fatalf("snapshot mutation leaked into aggregator: %d", got)
	}
}
