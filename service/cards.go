package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskboard/domain"
	"taskboard/storage"
)

// CreateCardRequest carries the fields of a new card. A nil Position appends
// the card at the end of the list.
type CreateCardRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	ListID      string          `json:"listId"`
	Position    *int            `json:"position"`
	AssigneeID  string          `json:"assigneeId"`
	Priority    domain.Priority `json:"priority"`
	DueDate     *time.Time      `json:"dueDate"`
}

// UpdateCardRequest carries the updatable fields of a card. Positions change
// only through MoveCard.
type UpdateCardRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    domain.Priority `json:"priority"`
	DueDate     *time.Time      `json:"dueDate"`
	AssigneeID  *string         `json:"assigneeId"`
}

// CreateCard persists a new card and fans out the card.created event. The
// priority defaults to MEDIUM.
func (c *Coordinator) CreateCard(ctx context.Context, req CreateCardRequest, actor Actor) (domain.CardView, error) {
	if req.Title == "" {
		return domain.CardView{}, domain.InvalidOperation("card title is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return domain.CardView{}, domain.InvalidOperation("unknown priority %q", req.Priority)
	}

	var view domain.CardView
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		list, err := tx.GetList(req.ListID)
		if err != nil {
			return err
		}
		if list == nil {
			return domain.NotFound("list", req.ListID)
		}

		siblings, err := tx.CardsByList(req.ListID)
		if err != nil {
			return err
		}
		pos, err := resolveInsert(tx, storage.ListContainer(req.ListID), req.Position, len(siblings))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		card := domain.Card{
			ID:          uuid.NewString(),
			Title:       req.Title,
			Description: req.Description,
			ListID:      req.ListID,
			Position:    pos,
			AssigneeID:  req.AssigneeID,
			Priority:    priority,
			DueDate:     req.DueDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.PutCard(card); err != nil {
			return err
		}
		view = domain.CardView{Card: card, ListName: list.Name, BoardID: list.BoardID}
		return appendActivity(tx, list.BoardID, actor, domain.ActivityCardCreated,
			fmt.Sprintf("Card '%s' was created in '%s' by %s", card.Title, list.Name, actorName(actor)),
			map[string]any{
				"card_title": card.Title,
				"list_name":  list.Name,
				"priority":   string(card.Priority),
				"created_by": actorName(actor),
			})
	})
	if err != nil {
		return domain.CardView{}, err
	}

	ts := nextTimestamp()
	ev, evErr := domain.NewEvent(uuid.NewString(), domain.RouteCardCreated, ts, domain.CardCreated{
		CardID:    view.ID,
		Title:     view.Title,
		BoardID:   view.BoardID,
		ListID:    view.ListID,
		Priority:  view.Priority,
		ActorID:   actor.ID,
		Timestamp: ts,
	})
	var evp *domain.Event
	if evErr == nil {
		evp = &ev
	} else {
		c.logger.WithError(evErr).Error("encode card.created event")
	}
	c.fan.afterCommit("create-card", view.BoardID, evp, "CARD_CREATED", view)

	return view, nil
}

// UpdateCard applies the request to a card. Container membership and position
// are untouched.
func (c *Coordinator) UpdateCard(ctx context.Context, id string, req UpdateCardRequest, actor Actor) (domain.CardView, error) {
	if req.Title == "" {
		return domain.CardView{}, domain.InvalidOperation("card title is required")
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return domain.CardView{}, domain.InvalidOperation("unknown priority %q", req.Priority)
	}

	var view domain.CardView
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetCard(id)
		if err != nil {
			return err
		}
		if cur == nil {
			return domain.NotFound("card", id)
		}
		list, err := tx.GetList(cur.ListID)
		if err != nil {
			return err
		}
		if list == nil {
			return fmt.Errorf("card %s references missing list %s", id, cur.ListID)
		}

		cur.Title = req.Title
		cur.Description = req.Description
		if req.Priority != "" {
			cur.Priority = req.Priority
		}
		cur.DueDate = req.DueDate
		if req.AssigneeID != nil {
			cur.AssigneeID = *req.AssigneeID
		}
		cur.UpdatedAt = time.Now().UTC()
		if err := tx.PutCard(*cur); err != nil {
			return err
		}
		view = domain.CardView{Card: *cur, ListName: list.Name, BoardID: list.BoardID}
		return appendActivity(tx, list.BoardID, actor, domain.ActivityCardUpdated,
			fmt.Sprintf("Card '%s' was updated", cur.Title),
			map[string]any{"card_title": cur.Title})
	})
	if err != nil {
		return domain.CardView{}, err
	}

	c.fan.afterCommit("update-card", view.BoardID, nil, "CARD_UPDATED", view)
	return view, nil
}

// DeleteCard removes a card and closes the position gap in its list.
func (c *Coordinator) DeleteCard(ctx context.Context, id string, actor Actor) error {
	var boardID, listID string
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetCard(id)
		if err != nil {
			return err
		}
		if cur == nil {
			return domain.NotFound("card", id)
		}
		list, err := tx.GetList(cur.ListID)
		if err != nil {
			return err
		}
		if list == nil {
			return fmt.Errorf("card %s references missing list %s", id, cur.ListID)
		}
		boardID, listID = list.BoardID, list.ID

		if err := tx.DeleteCard(id); err != nil {
			return err
		}
		if err := closeGap(tx, storage.ListContainer(listID), cur.Position); err != nil {
			return err
		}
		return appendActivity(tx, boardID, actor, domain.ActivityCardDeleted,
			fmt.Sprintf("Card '%s' was deleted", cur.Title),
			map[string]any{"card_title": cur.Title})
	})
	if err != nil {
		return err
	}

	c.fan.afterCommit("delete-card", boardID, nil, "CARD_DELETED", map[string]any{
		"cardId": id,
		"listId": listID,
	})
	return nil
}

func actorName(a Actor) string {
	if a.Name != "" {
		return a.Name
	}
	if a.ID != "" {
		return a.ID
	}
	return "system"
}
