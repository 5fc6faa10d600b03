package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskboard/domain"
	"taskboard/storage"
)

// CreateListRequest carries the fields of a new list. A nil Position appends
// the list at the end of the board.
type CreateListRequest struct {
	Name     string `json:"name"`
	BoardID  string `json:"boardId"`
	Position *int   `json:"position"`
}

// UpdateListRequest renames a list and optionally reorders it within its
// board.
type UpdateListRequest struct {
	Name     string `json:"name"`
	Position *int   `json:"position"`
}

// CreateList adds a list to a non-archived board, shifting siblings when an
// explicit position is given.
func (c *Coordinator) CreateList(ctx context.Context, req CreateListRequest, actor Actor) (domain.List, error) {
	if req.Name == "" {
		return domain.List{}, domain.InvalidOperation("list name is required")
	}

	var list domain.List
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		board, err := tx.GetBoard(req.BoardID)
		if err != nil {
			return err
		}
		if board == nil || board.Archived {
			return domain.NotFound("board", req.BoardID)
		}

		siblings, err := tx.ListsByBoard(req.BoardID)
		if err != nil {
			return err
		}
		pos, err := resolveInsert(tx, storage.BoardContainer(req.BoardID), req.Position, len(siblings))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		list = domain.List{
			ID:        uuid.NewString(),
			Name:      req.Name,
			BoardID:   req.BoardID,
			Position:  pos,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.PutList(list); err != nil {
			return err
		}
		return appendActivity(tx, req.BoardID, actor, domain.ActivityListCreated,
			fmt.Sprintf("List '%s' was created", list.Name),
			map[string]any{"list_name": list.Name, "position": list.Position})
	})
	if err != nil {
		return domain.List{}, err
	}

	c.fan.afterCommit("create-list", list.BoardID, nil, "LIST_CREATED", list)
	return list, nil
}

// UpdateList renames a list and, when Position is set, reorders it among its
// siblings.
func (c *Coordinator) UpdateList(ctx context.Context, id string, req UpdateListRequest, actor Actor) (domain.List, error) {
	if req.Name == "" {
		return domain.List{}, domain.InvalidOperation("list name is required")
	}

	var list domain.List
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetList(id)
		if err != nil {
			return err
		}
		if cur == nil {
			return domain.NotFound("list", id)
		}
		cur.Name = req.Name

		if req.Position != nil && *req.Position != cur.Position {
			siblings, err := tx.ListsByBoard(cur.BoardID)
			if err != nil {
				return err
			}
			if *req.Position < 0 || *req.Position > len(siblings)-1 {
				return domain.InvalidOperation("position %d out of range [0,%d]", *req.Position, len(siblings)-1)
			}
			if err := reorderWithin(tx, storage.BoardContainer(cur.BoardID), cur.Position, *req.Position); err != nil {
				return err
			}
			cur.Position = *req.Position
		}

		cur.UpdatedAt = time.Now().UTC()
		if err := tx.PutList(*cur); err != nil {
			return err
		}
		list = *cur
		return appendActivity(tx, list.BoardID, actor, domain.ActivityListUpdated,
			fmt.Sprintf("List '%s' was updated", list.Name),
			map[string]any{"list_name": list.Name})
	})
	if err != nil {
		return domain.List{}, err
	}

	c.fan.afterCommit("update-list", list.BoardID, nil, "LIST_UPDATED", list)
	return list, nil
}

// DeleteList removes a list together with its cards and closes the position
// gap among the remaining lists.
func (c *Coordinator) DeleteList(ctx context.Context, id string, actor Actor) error {
	var boardID string
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetList(id)
		if err != nil {
			return err
		}
		if cur == nil {
			return domain.NotFound("list", id)
		}
		boardID = cur.BoardID

		cards, err := tx.CardsByList(id)
		if err != nil {
			return err
		}
		for _, card := range cards {
			if err := tx.DeleteCard(card.ID); err != nil {
				return err
			}
		}
		if err := tx.DeleteList(id); err != nil {
			return err
		}
		if err := closeGap(tx, storage.BoardContainer(boardID), cur.Position); err != nil {
			return err
		}
		return appendActivity(tx, boardID, actor, domain.ActivityListDeleted,
			fmt.Sprintf("List '%s' was deleted", cur.Name),
			map[string]any{"list_name": cur.Name, "cards_removed": len(cards)})
	})
	if err != nil {
		return err
	}

	c.fan.afterCommit("delete-list", boardID, nil, "LIST_DELETED", map[string]any{"listId": id})
	return nil
}
