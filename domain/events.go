package domain

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Routing keys naming each event kind on the bus.
const (
	RouteBoardCreated = "board.created"
	RouteCardCreated  = "card.created"
	RouteCardMoved    = "card.moved"
)

// Event is the envelope published for every committed mutation. Data carries
// the kind-specific payload; consumers must tolerate unknown fields and
// duplicate delivery.
type Event struct {
	ID         string          `json:"id"`
	RoutingKey string          `json:"routingKey"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// BoardCreated is the payload for board.created events.
type BoardCreated struct {
	BoardID     string `json:"boardId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	ActorID     string `json:"actorId,omitempty"`
	ActorName   string `json:"actorName,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// CardCreated is the payload for card.created events.
type CardCreated struct {
	CardID    string   `json:"cardId"`
	Title     string   `json:"title"`
	BoardID   string   `json:"boardId"`
	ListID    string   `json:"listId"`
	Priority  Priority `json:"priority"`
	ActorID   string   `json:"actorId,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// CardMoved is the payload for card.moved events.
type CardMoved struct {
	CardID       string `json:"cardId"`
	Title        string `json:"title"`
	BoardID      string `json:"boardId"`
	FromListID   string `json:"fromListId"`
	FromPosition int    `json:"fromPosition"`
	ToListID     string `json:"toListId"`
	ToPosition   int    `json:"toPosition"`
	ActorID      string `json:"actorId,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// NewEvent wraps a payload in an envelope with the given id and routing key.
func NewEvent(id, routingKey string, ts int64, payload any) (Event, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: id, RoutingKey: routingKey, Data: data, Timestamp: ts}, nil
}
