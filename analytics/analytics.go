// Package analytics maintains in-memory usage counters fed from the event
// bus. Counters are derived state: they survive process restarts only as far
// as the bus journal replays unacknowledged events.
package analytics

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// Aggregator counts board activity per routing key. Safe for concurrent use.
type Aggregator struct {
	mu       sync.RWMutex
	counters map[string]uint64
}

func New() *Aggregator {
	return &Aggregator{counters: make(map[string]uint64)}
}

// Handle consumes one bus event. Unknown routing keys are counted but not
// decoded; a decode failure is returned so the bus can retry or dead-letter.
func (a *Aggregator) Handle(_ context.Context, ev domain.Event) error {
	switch ev.RoutingKey {
	case domain.RouteBoardCreated:
		var p domain.BoardCreated
		if err := sonic.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.RoutingKey, err)
		}
		a.bump("boards_created_total")
		a.bump("boards_created_by_user_" + safeKey(p.ActorID))
	case domain.RouteCardCreated:
		var p domain.CardCreated
		if err := sonic.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.RoutingKey, err)
		}
		a.bump("cards_created_total")
		a.bump("cards_created_priority_" + strings.ToLower(string(p.Priority)))
		a.bump("cards_created_board_" + safeKey(p.BoardID))
	case domain.RouteCardMoved:
		var p domain.CardMoved
		if err := sonic.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.RoutingKey, err)
		}
		a.bump("cards_moved_total")
		a.bump("cards_moved_board_" + safeKey(p.BoardID))
		if p.FromListID != p.ToListID {
			a.bump("cards_moved_across_lists_total")
		}
	default:
		a.bump("events_unhandled_total")
	}
	return nil
}

func (a *Aggregator) bump(key string) {
	a.mu.Lock()
	a.counters[key]++
	a.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (a *Aggregator) Snapshot() map[string]uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]uint64, len(a.counters))
	for k, v := range a.counters {
		out[k] = v
	}
	return out
}

// Counter reads one counter, zero when absent.
func (a *Aggregator) Counter(key string) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counters[key]
}

func safeKey(id string) string {
	if id == "" {
		return "unknown"
	}
	return id
}
