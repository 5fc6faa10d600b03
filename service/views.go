package service

import (
	"context"

	"taskboard/domain"
	"taskboard/storage"
)

// LoadBoards materializes the full non-archived board listing with each
// board's list/card tree in display order. It is the cache's loader for the
// boards:all key.
func (c *Coordinator) LoadBoards(ctx context.Context) ([]domain.BoardView, error) {
	var views []domain.BoardView
	err := c.store.View(ctx, func(tx storage.Tx) error {
		boards, err := tx.Boards()
		if err != nil {
			return err
		}
		views = make([]domain.BoardView, 0, len(boards))
		for _, b := range boards {
			v, err := buildBoardView(tx, b)
			if err != nil {
				return err
			}
			views = append(views, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// LoadBoard materializes one board's view. Archived boards are not served.
func (c *Coordinator) LoadBoard(ctx context.Context, id string) (domain.BoardView, error) {
	var view domain.BoardView
	err := c.store.View(ctx, func(tx storage.Tx) error {
		board, err := tx.GetBoard(id)
		if err != nil {
			return err
		}
		if board == nil || board.Archived {
			return domain.NotFound("board", id)
		}
		view, err = buildBoardView(tx, *board)
		return err
	})
	if err != nil {
		return domain.BoardView{}, err
	}
	return view, nil
}

func buildBoardView(tx storage.Tx, board domain.Board) (domain.BoardView, error) {
	lists, err := tx.ListsByBoard(board.ID)
	if err != nil {
		return domain.BoardView{}, err
	}
	view := domain.BoardView{Board: board, Lists: make([]domain.ListView, 0, len(lists))}
	for _, l := range lists {
		cards, err := tx.CardsByList(l.ID)
		if err != nil {
			return domain.BoardView{}, err
		}
		lv := domain.ListView{List: l, Cards: make([]domain.CardView, 0, len(cards))}
		for _, card := range cards {
			lv.Cards = append(lv.Cards, domain.CardView{Card: card, ListName: l.Name, BoardID: board.ID})
		}
		view.Lists = append(view.Lists, lv)
	}
	return view, nil
}
