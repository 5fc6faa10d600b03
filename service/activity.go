package service

import (
	"context"

	"taskboard/domain"
	"taskboard/storage"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// RecentActivity returns up to limit history entries for a board, newest
// first. Archived boards keep their history readable.
func (c *Coordinator) RecentActivity(ctx context.Context, boardID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	var entries []domain.ActivityEntry
	err := c.store.View(ctx, func(tx storage.Tx) error {
		board, err := tx.GetBoard(boardID)
		if err != nil {
			return err
		}
		if board == nil {
			return domain.NotFound("board", boardID)
		}
		entries, err = tx.RecentActivity(boardID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ActivityPage returns one page of a board's history, newest first.
func (c *Coordinator) ActivityPage(ctx context.Context, boardID string, page, size int) ([]domain.ActivityEntry, error) {
	if size <= 0 {
		size = defaultActivityLimit
	}
	if size > maxActivityLimit {
		size = maxActivityLimit
	}
	if page < 0 {
		page = 0
	}
	var entries []domain.ActivityEntry
	err := c.store.View(ctx, func(tx storage.Tx) error {
		board, err := tx.GetBoard(boardID)
		if err != nil {
			return err
		}
		if board == nil {
			return domain.NotFound("board", boardID)
		}
		entries, err = tx.ActivityPage(boardID, page, size)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ActivityCount reports how many history entries a board has.
func (c *Coordinator) ActivityCount(ctx context.Context, boardID string) (int, error) {
	var count int
	err := c.store.View(ctx, func(tx storage.Tx) error {
		board, err := tx.GetBoard(boardID)
		if err != nil {
			return err
		}
		if board == nil {
			return domain.NotFound("board", boardID)
		}
		count, err = tx.ActivityCount(boardID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
