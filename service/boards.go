package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskboard/domain"
	"taskboard/storage"
)

// CreateBoardRequest carries the fields of a new board.
type CreateBoardRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// UpdateBoardRequest carries the updatable fields of a board. Color and
// OwnerID are only applied when non-nil.
type UpdateBoardRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Color       *string `json:"color"`
	OwnerID     *string `json:"ownerId"`
}

// CreateBoard persists a new board owned by the actor and fans out the
// board.created event.
func (c *Coordinator) CreateBoard(ctx context.Context, req CreateBoardRequest, actor Actor) (domain.Board, error) {
	if req.Name == "" {
		return domain.Board{}, domain.InvalidOperation("board name is required")
	}

	now := time.Now().UTC()
	board := domain.Board{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		OwnerID:     actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if board.Color == "" {
		board.Color = domain.DefaultBoardColor
	}

	err := c.store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutBoard(board); err != nil {
			return err
		}
		return appendActivity(tx, board.ID, actor, domain.ActivityBoardCreated,
			fmt.Sprintf("Board '%s' was created", board.Name),
			map[string]any{"board_name": board.Name, "color": board.Color})
	})
	if err != nil {
		return domain.Board{}, err
	}

	ts := nextTimestamp()
	ev, evErr := domain.NewEvent(uuid.NewString(), domain.RouteBoardCreated, ts, domain.BoardCreated{
		BoardID:     board.ID,
		Name:        board.Name,
		Description: board.Description,
		Color:       board.Color,
		ActorID:     actor.ID,
		ActorName:   actor.Name,
		Timestamp:   ts,
	})
	var evp *domain.Event
	if evErr == nil {
		evp = &ev
	} else {
		c.logger.WithError(evErr).Error("encode board.created event")
	}
	c.fan.afterCommit("create-board", board.ID, evp, "BOARD_CREATED", board)

	return board, nil
}

// UpdateBoard applies the request to a non-archived board.
func (c *Coordinator) UpdateBoard(ctx context.Context, id string, req UpdateBoardRequest, actor Actor) (domain.Board, error) {
	if req.Name == "" {
		return domain.Board{}, domain.InvalidOperation("board name is required")
	}

	var board domain.Board
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetBoard(id)
		if err != nil {
			return err
		}
		if cur == nil || cur.Archived {
			return domain.NotFound("board", id)
		}
		cur.Name = req.Name
		cur.Description = req.Description
		if req.Color != nil {
			cur.Color = *req.Color
		}
		if req.OwnerID != nil {
			cur.OwnerID = *req.OwnerID
		}
		cur.UpdatedAt = time.Now().UTC()
		if err := tx.PutBoard(*cur); err != nil {
			return err
		}
		board = *cur
		return appendActivity(tx, board.ID, actor, domain.ActivityBoardUpdated,
			fmt.Sprintf("Board '%s' was updated", board.Name),
			map[string]any{"board_name": board.Name})
	})
	if err != nil {
		return domain.Board{}, err
	}

	c.fan.afterCommit("update-board", board.ID, nil, "BOARD_UPDATED", board)
	return board, nil
}

// ArchiveBoard soft-deletes a board. The board and its data survive but drop
// out of standard queries.
func (c *Coordinator) ArchiveBoard(ctx context.Context, id string, actor Actor) error {
	var name string
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetBoard(id)
		if err != nil {
			return err
		}
		if cur == nil || cur.Archived {
			return domain.NotFound("board", id)
		}
		cur.Archived = true
		cur.UpdatedAt = time.Now().UTC()
		if err := tx.PutBoard(*cur); err != nil {
			return err
		}
		name = cur.Name
		return appendActivity(tx, id, actor, domain.ActivityBoardArchived,
			fmt.Sprintf("Board '%s' was archived", name),
			map[string]any{"board_name": name})
	})
	if err != nil {
		return err
	}

	c.fan.afterCommit("archive-board", id, nil, "BOARD_ARCHIVED", map[string]any{"boardId": id})
	return nil
}

func appendActivity(tx storage.Tx, boardID string, actor Actor, typ domain.ActivityType, description string, metadata map[string]any) error {
	return tx.AppendActivity(domain.ActivityEntry{
		ID:          uuid.NewString(),
		BoardID:     boardID,
		ActorID:     actor.ID,
		Type:        typ,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	})
}
