package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const defaultEffectTimeout = 5 * time.Second

// effect is one best-effort arm of the post-commit fan-out.
type effect struct {
	name string
	run  func(ctx context.Context) error
}

// fanOut runs the independent side effects of a committed mutation. The arms
// run concurrently, each under its own deadline detached from the caller's
// context: once a mutation is persisted every side effect is attempted at
// least once regardless of caller cancellation. Failures and panics are
// logged and isolated; they never surface to the mutation's caller.
type fanOut struct {
	cache     Cache
	events    EventPublisher
	broadcast Broadcaster
	timeout   time.Duration
	logger    *log.Logger
}

func (f *fanOut) afterCommit(op, boardID string, ev *domain.Event, broadcastType string, broadcastPayload any) {
	effects := make([]effect, 0, 3)
	if f.cache != nil {
		effects = append(effects, effect{name: "cache-evict", run: func(ctx context.Context) error {
			return f.cache.EvictAll(ctx)
		}})
	}
	if f.events != nil && ev != nil {
		event := *ev
		effects = append(effects, effect{name: "event-publish", run: func(ctx context.Context) error {
			return f.events.Publish(ctx, event)
		}})
	}
	if f.broadcast != nil && broadcastType != "" {
		effects = append(effects, effect{name: "broadcast", run: func(ctx context.Context) error {
			return f.broadcast.Publish(ctx, boardID, broadcastType, broadcastPayload)
		}})
	}
	f.run(op, boardID, effects)
}

func (f *fanOut) run(op, boardID string, effects []effect) {
	if len(effects) == 0 {
		return
	}
	timeout := f.timeout
	if timeout <= 0 {
		timeout = defaultEffectTimeout
	}

	var wg sync.WaitGroup
	for _, ef := range effects {
		wg.Add(1)
		go func(ef effect) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := f.runOne(ctx, ef); err != nil {
				f.logger.WithError(err).WithFields(log.Fields{
					"op":     op,
					"board":  boardID,
					"effect": ef.name,
				}).Error("side effect failed")
			}
		}(ef)
	}
	wg.Wait()
}

func (f *fanOut) runOne(ctx context.Context, ef effect) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ef.run(ctx)
}
