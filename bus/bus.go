// Package bus delivers committed domain events to independent consumers
// without coupling the producer to consumer availability. Publish appends to
// an on-disk journal, then per-subscription workers deliver with bounded
// retries; exhausted deliveries land in the dead-letter store instead of
// being dropped. Delivery is at-least-once per subscription; consumers must
// tolerate duplicates.
package bus

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Handler processes one event for a subscription. A non-nil error triggers a
// retry, then dead-lettering once attempts are exhausted.
type Handler func(ctx context.Context, ev domain.Event) error

// Subscription binds a named consumer to a set of routing keys.
type Subscription struct {
	Name     string
	Bindings []string
	Handler  Handler
}

// Config tunes the bus. Zero values take defaults.
type Config struct {
	Dir            string
	BufferSize     int
	MaxAttempts    int
	DeliverTimeout time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	SegmentBytes   int64
	Logger         *log.Logger
}

// DeadLetter is a delivery a subscription could not process within the
// attempt budget. It stays queryable rather than being dropped.
type DeadLetter struct {
	Event        domain.Event `json:"event"`
	Subscription string       `json:"subscription"`
	Attempts     int          `json:"attempts"`
	LastErr      string       `json:"lastErr"`
	At           time.Time    `json:"at"`
}

// Stats is a point-in-time snapshot of the bus.
type Stats struct {
	QueueDepth   int       `json:"queueDepth"`
	Buffered     int       `json:"buffered"`
	OldestAge    string    `json:"oldestAge"`
	Delivered    uint64    `json:"delivered"`
	DeadLettered int       `json:"deadLettered"`
	StartedAt    time.Time `json:"startedAt"`
	DrainRate    float64   `json:"drainRatePerSecond"`
}

var errBusClosed = errors.New("event bus is shut down")

type delivery struct {
	rec     *journalRecord
	attempt int
}

type subscriber struct {
	name     string
	bindings map[string]struct{}
	handler  Handler
	ch       chan delivery
}

func (s *subscriber) matches(routingKey string) bool {
	_, ok := s.bindings[routingKey]
	return ok
}

// Bus fans events out to its subscriptions. One worker goroutine per
// subscription keeps consumers off the publisher's goroutine; a slow consumer
// backs up only its own channel.
type Bus struct {
	cfg      Config
	journal  *journal
	subs     []*subscriber
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	retryWG  sync.WaitGroup

	mu        sync.Mutex
	pending   map[uint64]*pendingRecord
	acked     map[uint64]struct{}
	nextAck   uint64
	closing   bool
	delivered atomic.Uint64
	started   time.Time

	dead *deadLetterStore
}

type pendingRecord struct {
	rec       *journalRecord
	remaining int
}

// New opens the journal in cfg.Dir, re-dispatches any records not yet settled
// by every subscription, and starts the delivery workers.
func New(cfg Config, subs ...Subscription) (*Bus, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 10 * time.Second
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 250 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 30 * time.Second
	}
	if cfg.SegmentBytes <= 0 {
		cfg.SegmentBytes = 64 * 1024 * 1024
	}

	j, recovered, err := openJournal(journalConfig{
		dir:          cfg.Dir,
		segmentBytes: cfg.SegmentBytes,
		logger:       cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	dead, err := openDeadLetterStore(cfg.Dir, cfg.Logger)
	if err != nil {
		j.close()
		return nil, err
	}

	b := &Bus{
		cfg:     cfg,
		journal: j,
		dead:    dead,
		stopCh:  make(chan struct{}),
		pending: make(map[uint64]*pendingRecord),
		acked:   make(map[uint64]struct{}),
		nextAck: j.committedOffset,
		started: time.Now().UTC(),
	}
	for _, sub := range subs {
		s := &subscriber{
			name:     sub.Name,
			bindings: make(map[string]struct{}, len(sub.Bindings)),
			handler:  sub.Handler,
			ch:       make(chan delivery, cfg.BufferSize),
		}
		for _, key := range sub.Bindings {
			s.bindings[key] = struct{}{}
		}
		b.subs = append(b.subs, s)
	}

	for _, rec := range recovered {
		b.track(rec)
	}

	for _, s := range b.subs {
		b.workerWG.Add(1)
		go b.worker(s)
	}

	// Recovered records may predate this process; redeliver them to every
	// matching subscription (duplicates are the consumer's problem).
	if len(recovered) > 0 {
		go func() {
			for _, rec := range recovered {
				for _, s := range b.subs {
					if !s.matches(rec.Event.RoutingKey) {
						continue
					}
					select {
					case s.ch <- delivery{rec: rec}:
					case <-b.stopCh:
						return
					}
				}
			}
		}()
	}

	return b, nil
}

// Publish durably appends the event, then hands it to every subscription
// bound to its routing key. Once the append succeeds the event will be
// delivered at least once per subscription even across restarts, so a full
// worker channel never fails the publish; the hand-off completes from a
// detached goroutine.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return errBusClosed
	}
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := b.journal.append(ev)
	if err != nil {
		return err
	}
	b.track(rec)

	for _, s := range b.subs {
		if !s.matches(ev.RoutingKey) {
			continue
		}
		select {
		case s.ch <- delivery{rec: rec}:
		default:
			b.retryWG.Add(1)
			go func(s *subscriber) {
				defer b.retryWG.Done()
				select {
				case s.ch <- delivery{rec: rec}:
				case <-b.stopCh:
				}
			}(s)
		}
	}
	return nil
}

// track registers how many subscriptions must settle the record before its
// offset can be checkpointed.
func (b *Bus) track(rec *journalRecord) {
	matching := 0
	for _, s := range b.subs {
		if s.matches(rec.Event.RoutingKey) {
			matching++
		}
	}
	b.mu.Lock()
	if matching == 0 {
		b.ackLocked(rec.Offset)
		b.mu.Unlock()
		b.commitSettled()
		return
	}
	b.pending[rec.Offset] = &pendingRecord{rec: rec, remaining: matching}
	b.mu.Unlock()
}

func (b *Bus) worker(s *subscriber) {
	defer b.workerWG.Done()
	for {
		select {
		case d := <-s.ch:
			b.deliver(s, d)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) deliver(s *subscriber, d delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DeliverTimeout)
	err := b.invoke(ctx, s, d.rec.Event)
	cancel()

	if err == nil {
		b.delivered.Add(1)
		b.settle(d.rec.Offset)
		return
	}

	d.attempt++
	if d.attempt >= b.cfg.MaxAttempts {
		b.cfg.Logger.WithError(err).WithFields(log.Fields{
			"subscription": s.name,
			"routingKey":   d.rec.Event.RoutingKey,
			"offset":       d.rec.Offset,
			"attempts":     d.attempt,
		}).Error("delivery exhausted, dead-lettering")
		b.dead.append(DeadLetter{
			Event:        d.rec.Event,
			Subscription: s.name,
			Attempts:     d.attempt,
			LastErr:      err.Error(),
			At:           time.Now().UTC(),
		})
		b.settle(d.rec.Offset)
		return
	}

	b.cfg.Logger.WithError(err).WithFields(log.Fields{
		"subscription": s.name,
		"routingKey":   d.rec.Event.RoutingKey,
		"offset":       d.rec.Offset,
		"attempt":      d.attempt,
	}).Warn("delivery failed, retrying")
	b.scheduleRetry(s, d)
}

func (b *Bus) invoke(ctx context.Context, s *subscriber, ev domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("handler panicked")
		}
	}()
	return s.handler(ctx, ev)
}

func (b *Bus) scheduleRetry(s *subscriber, d delivery) {
	delay := backoff(d.attempt, b.cfg.RetryInitial, b.cfg.RetryMax)
	b.retryWG.Add(1)
	timer := time.NewTimer(delay)
	go func() {
		defer b.retryWG.Done()
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case s.ch <- d:
			case <-b.stopCh:
			}
		case <-b.stopCh:
		}
	}()
}

// settle marks one subscription done with the offset; when every bound
// subscription has settled it, the contiguous ack window advances and the
// journal checkpoint moves.
func (b *Bus) settle(offset uint64) {
	b.mu.Lock()
	p, ok := b.pending[offset]
	if !ok {
		b.mu.Unlock()
		return
	}
	p.remaining--
	if p.remaining > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.pending, offset)
	b.ackLocked(offset)
	b.mu.Unlock()
	b.commitSettled()
}

func (b *Bus) ackLocked(offset uint64) {
	b.acked[offset] = struct{}{}
	for {
		next := b.nextAck + 1
		if _, ok := b.acked[next]; !ok {
			break
		}
		delete(b.acked, next)
		b.nextAck = next
	}
}

func (b *Bus) commitSettled() {
	b.mu.Lock()
	commit := b.nextAck
	b.mu.Unlock()
	if commit == 0 {
		return
	}
	if err := b.journal.commit(commit); err != nil {
		b.cfg.Logger.WithError(err).Error("failed to commit journal checkpoint")
	}
}

// DeadLetters returns a copy of the dead-letter store.
func (b *Bus) DeadLetters() []DeadLetter {
	return b.dead.all()
}

// Snapshot reports current bus health.
func (b *Bus) Snapshot() Stats {
	b.mu.Lock()
	depth := len(b.pending)
	var oldest time.Duration
	now := time.Now()
	for _, p := range b.pending {
		if age := now.Sub(p.rec.Appended); age > oldest {
			oldest = age
		}
	}
	b.mu.Unlock()

	buffered := 0
	for _, s := range b.subs {
		buffered += len(s.ch)
	}

	deadCount := b.dead.count()

	delivered := b.delivered.Load()
	elapsed := time.Since(b.started)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(delivered) / elapsed.Seconds()
	}
	return Stats{
		QueueDepth:   depth,
		Buffered:     buffered,
		OldestAge:    oldest.String(),
		Delivered:    delivered,
		DeadLettered: deadCount,
		StartedAt:    b.started,
		DrainRate:    rate,
	}
}

// Shutdown stops the workers and closes the journal. Unsettled records are
// redelivered on next start.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return
	}
	b.closing = true
	b.mu.Unlock()

	close(b.stopCh)
	b.workerWG.Wait()
	b.retryWG.Wait()
	b.journal.close()
}

func backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		return initial
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if d > float64(max) {
		d = float64(max)
	}
	jitter := 0.2 * d
	return time.Duration(d + (rand.Float64()-0.5)*2*jitter)
}
