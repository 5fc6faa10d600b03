package domain

import "time"

// ActivityType identifies the kind of action recorded in a board's history.
type ActivityType string

const (
	ActivityBoardCreated  ActivityType = "BOARD_CREATED"
	ActivityBoardUpdated  ActivityType = "BOARD_UPDATED"
	ActivityBoardArchived ActivityType = "BOARD_ARCHIVED"
	ActivityListCreated   ActivityType = "LIST_CREATED"
	ActivityListUpdated   ActivityType = "LIST_UPDATED"
	ActivityListDeleted   ActivityType = "LIST_DELETED"
	ActivityCardCreated   ActivityType = "CARD_CREATED"
	ActivityCardUpdated   ActivityType = "CARD_UPDATED"
	ActivityCardMoved     ActivityType = "CARD_MOVED"
	ActivityCardDeleted   ActivityType = "CARD_DELETED"
)

// ActivityEntry is one append-only record of a board's history. ActorID is
// empty for system actions. Entries are never mutated or deleted.
type ActivityEntry struct {
	ID          string         `json:"id"`
	BoardID     string         `json:"boardId"`
	ActorID     string         `json:"actorId,omitempty"`
	Type        ActivityType   `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
