package domain

import (
	"fmt"
	"testing"

	"github.com/bytedance/sonic"
)

func TestPriorityValid(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		if !p.Valid() {
			t.Fatalf("%s should be valid", p)
		}
	}
	for _, p := range []Priority{"", "URGENT", "medium"} {
		if p.Valid() {
			t.Fatalf("%q should be invalid", p)
		}
	}
}

func TestErrorPredicates(t *testing.T) {
	nf := NotFound("card", "c1")
	if nf.Error() != "card c1 not found" {
		t.Fatalf("unexpected message %q", nf.Error())
	}
	if !IsNotFound(nf) || IsInvalidOperation(nf) {
		t.Fatal("not found predicate mismatch")
	}

	inv := InvalidOperation("position %d is out of range", 5)
	if inv.Error() != "position 5 is out of range" {
		t.Fatalf("unexpected message %q", inv.Error())
	}
	if !IsInvalidOperation(inv) || IsNotFound(inv) {
		t.Fatal("invalid operation predicate mismatch")
	}

	wrapped := fmt.Errorf("load board: %w", nf)
	if !IsNotFound(wrapped) {
		t.Fatal("predicate should see through wrapping")
	}
}

func TestNewEventCarriesPayload(t *testing.T) {
	ev, err := NewEvent("ev-1", RouteCardMoved, 42, CardMoved{
		CardID:     "c1",
		FromListID: "l1",
		ToListID:   "l2",
		ToPosition: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID != "ev-1" || ev.RoutingKey != RouteCardMoved || ev.Timestamp != 42 {
		t.Fatalf("unexpected envelope %#v", ev)
	}
	var payload CardMoved
	if err := sonic.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.CardID != "c1" || payload.ToListID != "l2" || payload.ToPosition != 3 {
		t.Fatalf("unexpected payload %#v", payload)
	}
}
