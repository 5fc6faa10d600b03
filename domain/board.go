package domain

import "time"

// DefaultBoardColor is applied when a board is created without one.
const DefaultBoardColor = "#3498db"

// Priority ranks a card's urgency.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Valid reports whether p is one of the known priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Board owns an ordered collection of lists. Boards are archived rather than
// deleted; archived boards drop out of standard queries but keep their data.
type Board struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color"`
	OwnerID     string    `json:"ownerId,omitempty"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// List is an ordered container of cards. Position is dense and unique within
// the owning board.
type List struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BoardID   string    `json:"boardId"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Card belongs to exactly one list. Position is dense and unique within the
// owning list.
type Card struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ListID      string     `json:"listId"`
	Position    int        `json:"position"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// CardView is the denormalized card snapshot returned by mutations and reads.
type CardView struct {
	Card
	ListName string `json:"listName"`
	BoardID  string `json:"boardId"`
}

// ListView is a list with its cards in display order.
type ListView struct {
	List
	Cards []CardView `json:"cards"`
}

// BoardView is a board with its full list/card tree in display order.
type BoardView struct {
	Board
	Lists []ListView `json:"lists"`
}
