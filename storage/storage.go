package storage

import (
	"context"

	"taskboard/domain"
)

// ContainerKind selects which position sequence a range update touches.
type ContainerKind int

const (
	// ContainerBoard orders lists within a board.
	ContainerBoard ContainerKind = iota
	// ContainerList orders cards within a list.
	ContainerList
)

// Container addresses one ordered collection of positioned children.
type Container struct {
	Kind ContainerKind
	ID   string
}

// BoardContainer addresses the lists of a board.
func BoardContainer(boardID string) Container {
	return Container{Kind: ContainerBoard, ID: boardID}
}

// ListContainer addresses the cards of a list.
func ListContainer(listID string) Container {
	return Container{Kind: ContainerList, ID: listID}
}

// Tx exposes keyed CRUD, ordered index queries and the container-scoped
// range-update primitives the position ledger runs on. Getters return nil
// when the entity is absent.
type Tx interface {
	GetBoard(id string) (*domain.Board, error)
	PutBoard(b domain.Board) error
	// Boards returns non-archived boards, oldest first.
	Boards() ([]domain.Board, error)

	GetList(id string) (*domain.List, error)
	PutList(l domain.List) error
	DeleteList(id string) error
	// ListsByBoard returns a board's lists ordered by position ascending.
	ListsByBoard(boardID string) ([]domain.List, error)

	GetCard(id string) (*domain.Card, error)
	PutCard(c domain.Card) error
	DeleteCard(id string) error
	// CardsByList returns a list's cards ordered by position ascending.
	CardsByList(listID string) ([]domain.Card, error)

	// IncrementPositionsFrom shifts every child of c with position >= from up
	// by one. DecrementPositionsAfter shifts every child with position > after
	// down by one. MaxPosition reports the highest occupied position; ok is
	// false for an empty container.
	IncrementPositionsFrom(c Container, from int) error
	DecrementPositionsAfter(c Container, after int) error
	MaxPosition(c Container) (max int, ok bool, err error)

	// AppendActivity records a history entry in the same transaction as the
	// mutation that triggered it.
	AppendActivity(e domain.ActivityEntry) error
	// RecentActivity returns up to limit entries for a board, newest first.
	RecentActivity(boardID string, limit int) ([]domain.ActivityEntry, error)
	// ActivityPage returns one page of a board's history, newest first.
	ActivityPage(boardID string, page, size int) ([]domain.ActivityEntry, error)
	ActivityCount(boardID string) (int, error)
}

// Store runs transactions over the backing state. Update is atomic and
// all-or-nothing: when fn returns an error nothing is applied. Concurrent
// Updates are serialized so position range updates on the same container can
// never interleave.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}
