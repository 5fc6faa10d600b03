package api

import (
	"context"

	"taskboard/bus"
	"taskboard/domain"
	"taskboard/service"
)

// Service abstracts the mutation and query entry points for handlers.
type Service interface {
	CreateBoard(ctx context.Context, req service.CreateBoardRequest, actor service.Actor) (domain.Board, error)
	UpdateBoard(ctx context.Context, id string, req service.UpdateBoardRequest, actor service.Actor) (domain.Board, error)
	ArchiveBoard(ctx context.Context, id string, actor service.Actor) error

	CreateList(ctx context.Context, req service.CreateListRequest, actor service.Actor) (domain.List, error)
	UpdateList(ctx context.Context, id string, req service.UpdateListRequest, actor service.Actor) (domain.List, error)
	DeleteList(ctx context.Context, id string, actor service.Actor) error

	CreateCard(ctx context.Context, req service.CreateCardRequest, actor service.Actor) (domain.CardView, error)
	UpdateCard(ctx context.Context, id string, req service.UpdateCardRequest, actor service.Actor) (domain.CardView, error)
	DeleteCard(ctx context.Context, id string, actor service.Actor) error
	MoveCard(ctx context.Context, cardID, targetListID string, targetPosition int, actor service.Actor) (domain.CardView, error)

	RecentActivity(ctx context.Context, boardID string, limit int) ([]domain.ActivityEntry, error)
	ActivityPage(ctx context.Context, boardID string, page, size int) ([]domain.ActivityEntry, error)
	ActivityCount(ctx context.Context, boardID string) (int, error)
}

// BoardReader serves board views, normally through the cache.
type BoardReader interface {
	FetchBoards(ctx context.Context) ([]domain.BoardView, error)
	FetchBoard(ctx context.Context, id string) (domain.BoardView, error)
}

// Authenticator is implemented by types able to extract actors from headers.
type Authenticator interface {
	ActorFromAuthHeader(string) (service.Actor, error)
}

// Authorizer decides whether an authenticated actor may read or mutate a
// board. boardID is empty when the route is not board-scoped. A nil guard
// allows everything.
type Authorizer interface {
	CanAccess(actor service.Actor, boardID string) bool
	CanModify(actor service.Actor, boardID string) bool
}

// Deduper prevents reprocessing of repeated mutation requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Streamer follows a board's live update channel.
type Streamer interface {
	Subscribe(ctx context.Context, boardID string) <-chan []byte
}

// Insights exposes the derived usage counters.
type Insights interface {
	Snapshot() map[string]uint64
}

// BusInspector reports event bus state for the analytics endpoint.
type BusInspector interface {
	Snapshot() bus.Stats
	DeadLetters() []bus.DeadLetter
}
