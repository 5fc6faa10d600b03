package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

// EventPublisher hands committed domain events to the durable bus.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Cache invalidates cached board views after a committed mutation.
type Cache interface {
	EvictAll(ctx context.Context) error
}

// Broadcaster pushes a mutation result to clients currently viewing a board.
type Broadcaster interface {
	Publish(ctx context.Context, boardID, eventType string, payload any) error
}

// Actor identifies who performs a mutation. A zero Actor is a system action.
type Actor struct {
	ID   string
	Name string
}

// Coordinator is the single entry point for board, list and card mutations.
// Each mutation validates, repositions siblings and persists inside one
// store transaction, then fans out the post-commit side effects. A failing
// side effect never rolls back or fails the mutation.
type Coordinator struct {
	store  storage.Store
	logger *log.Logger
	fan    fanOut
}

// NewCoordinator creates a Coordinator over the given store. Side-effect
// targets are attached with UseFanOut once they exist; until then mutations
// commit with no fan-out.
func NewCoordinator(store storage.Store, logger *log.Logger) *Coordinator {
	if store == nil {
		panic("service.NewCoordinator: store is required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{store: store, logger: logger, fan: fanOut{logger: logger}}
}

// FanOut names the post-commit side-effect targets. Any nil target is
// skipped. Timeout bounds each arm; zero means the default.
type FanOut struct {
	Cache     Cache
	Events    EventPublisher
	Broadcast Broadcaster
	Timeout   time.Duration
}

// UseFanOut attaches the side-effect targets.
func (c *Coordinator) UseFanOut(f FanOut) {
	c.fan = fanOut{
		cache:     f.Cache,
		events:    f.Events,
		broadcast: f.Broadcast,
		timeout:   f.Timeout,
		logger:    c.logger,
	}
}
