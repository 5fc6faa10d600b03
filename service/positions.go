package service

import (
	"taskboard/domain"
	"taskboard/storage"
)

// Position ledger: every operation below runs inside the mutation's store
// transaction, before the moved entity's own position and container fields
// are written, so readers never observe a non-dense sequence.

// resolveInsert validates the requested position against the container's
// current size and opens a slot for it. A nil position appends. The returned
// value is the position the new child must be written with.
func resolveInsert(tx storage.Tx, c storage.Container, at *int, size int) (int, error) {
	if at == nil {
		max, ok, err := tx.MaxPosition(c)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		return max + 1, nil
	}
	if *at < 0 || *at > size {
		return 0, domain.InvalidOperation("position %d out of range [0,%d]", *at, size)
	}
	if err := tx.IncrementPositionsFrom(c, *at); err != nil {
		return 0, err
	}
	return *at, nil
}

// closeGap shifts every sibling after the vacated position down by one. Call
// it with the removed child's position read before it was detached.
func closeGap(tx storage.Tx, c storage.Container, vacated int) error {
	return tx.DecrementPositionsAfter(c, vacated)
}

// reorderWithin moves a child from oldPos to newPos inside one container.
// Siblings strictly between the two positions shift by one toward the vacated
// slot; the caller then writes newPos on the child itself. No-op when the
// positions are equal.
func reorderWithin(tx storage.Tx, c storage.Container, oldPos, newPos int) error {
	switch {
	case oldPos == newPos:
		return nil
	case oldPos < newPos:
		if err := tx.DecrementPositionsAfter(c, oldPos); err != nil {
			return err
		}
		return tx.IncrementPositionsFrom(c, newPos)
	default:
		if err := tx.IncrementPositionsFrom(c, newPos); err != nil {
			return err
		}
		return tx.DecrementPositionsAfter(c, oldPos)
	}
}

// moveBetween closes the gap in the source container and opens one in the
// destination. The two shift passes are independent; the caller writes the
// child's new container and position afterwards.
func moveBetween(tx storage.Tx, from storage.Container, fromPos int, to storage.Container, toPos int) error {
	if err := closeGap(tx, from, fromPos); err != nil {
		return err
	}
	return tx.IncrementPositionsFrom(to, toPos)
}
