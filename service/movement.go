package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskboard/domain"
	"taskboard/storage"
)

// MoveCard relocates a card within its list or to another list on the same
// board. The target position is 0-based and validated against the destination
// size after the card leaves its source slot; cross-board moves are rejected,
// never clamped. On success the returned snapshot carries the destination
// list's name and board id, and the fan-out publishes card.moved.
func (c *Coordinator) MoveCard(ctx context.Context, cardID, targetListID string, targetPosition int, actor Actor) (domain.CardView, error) {
	var (
		view    domain.CardView
		fromID  string
		fromPos int
	)

	err := c.store.Update(ctx, func(tx storage.Tx) error {
		card, err := tx.GetCard(cardID)
		if err != nil {
			return err
		}
		if card == nil {
			return domain.NotFound("card", cardID)
		}
		source, err := tx.GetList(card.ListID)
		if err != nil {
			return err
		}
		if source == nil {
			return fmt.Errorf("card %s references missing list %s", cardID, card.ListID)
		}
		target, err := tx.GetList(targetListID)
		if err != nil {
			return err
		}
		if target == nil {
			return domain.NotFound("list", targetListID)
		}
		if source.BoardID != target.BoardID {
			return domain.InvalidOperation("cannot move card to a list on a different board")
		}

		targetCards, err := tx.CardsByList(targetListID)
		if err != nil {
			return err
		}
		// Size of the destination once the card has left its source slot.
		size := len(targetCards)
		if source.ID == target.ID {
			size--
		}
		if targetPosition < 0 || targetPosition > size {
			return domain.InvalidOperation("position %d out of range [0,%d]", targetPosition, size)
		}

		fromID, fromPos = source.ID, card.Position
		if source.ID == target.ID {
			if err := reorderWithin(tx, storage.ListContainer(source.ID), card.Position, targetPosition); err != nil {
				return err
			}
		} else {
			if err := moveBetween(tx,
				storage.ListContainer(source.ID), card.Position,
				storage.ListContainer(target.ID), targetPosition); err != nil {
				return err
			}
		}

		card.ListID = target.ID
		card.Position = targetPosition
		card.UpdatedAt = time.Now().UTC()
		if err := tx.PutCard(*card); err != nil {
			return err
		}

		view = domain.CardView{Card: *card, ListName: target.Name, BoardID: target.BoardID}
		return appendActivity(tx, target.BoardID, actor, domain.ActivityCardMoved,
			fmt.Sprintf("Card '%s' was moved from '%s' to '%s' by %s",
				card.Title, source.Name, target.Name, actorName(actor)),
			map[string]any{
				"card_title": card.Title,
				"from_list":  source.Name,
				"to_list":    target.Name,
				"moved_by":   actorName(actor),
			})
	})
	if err != nil {
		return domain.CardView{}, err
	}

	ts := nextTimestamp()
	ev, evErr := domain.NewEvent(uuid.NewString(), domain.RouteCardMoved, ts, domain.CardMoved{
		CardID:       view.ID,
		Title:        view.Title,
		BoardID:      view.BoardID,
		FromListID:   fromID,
		FromPosition: fromPos,
		ToListID:     view.ListID,
		ToPosition:   view.Position,
		ActorID:      actor.ID,
		Timestamp:    ts,
	})
	var evp *domain.Event
	if evErr == nil {
		evp = &ev
	} else {
		c.logger.WithError(evErr).Error("encode card.moved event")
	}
	c.fan.afterCommit("move-card", view.BoardID, evp, "CARD_MOVED", map[string]any{
		"card":       view,
		"fromListId": fromID,
		"toListId":   view.ListID,
	})

	return view, nil
}
