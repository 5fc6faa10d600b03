package storage

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"taskboard/domain"
)

var errReadOnlyTx = errors.New("mutation inside read-only transaction")

// MemoryStore is an in-memory Store. Update transactions run against a
// copy-on-write snapshot under a single write lock, so a failed transaction
// leaves no trace and concurrent range updates on one container are
// serialized.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&memTx{state: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{state: s.state, readOnly: true})
}

type memState struct {
	boards   map[string]domain.Board
	lists    map[string]domain.List
	cards    map[string]domain.Card
	activity map[string][]domain.ActivityEntry
}

func newMemState() *memState {
	return &memState{
		boards:   make(map[string]domain.Board),
		lists:    make(map[string]domain.List),
		cards:    make(map[string]domain.Card),
		activity: make(map[string][]domain.ActivityEntry),
	}
}

func (st *memState) clone() *memState {
	next := &memState{
		boards:   make(map[string]domain.Board, len(st.boards)),
		lists:    make(map[string]domain.List, len(st.lists)),
		cards:    make(map[string]domain.Card, len(st.cards)),
		activity: make(map[string][]domain.ActivityEntry, len(st.activity)),
	}
	for id, b := range st.boards {
		next.boards[id] = b
	}
	for id, l := range st.lists {
		next.lists[id] = l
	}
	for id, c := range st.cards {
		next.cards[id] = c
	}
	for id, entries := range st.activity {
		next.activity[id] = append([]domain.ActivityEntry(nil), entries...)
	}
	return next
}

type memTx struct {
	state    *memState
	readOnly bool
}

func (t *memTx) GetBoard(id string) (*domain.Board, error) {
	if b, ok := t.state.boards[id]; ok {
		cpy := b
		return &cpy, nil
	}
	return nil, nil
}

func (t *memTx) PutBoard(b domain.Board) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	t.state.boards[b.ID] = b
	return nil
}

func (t *memTx) Boards() ([]domain.Board, error) {
	boards := make([]domain.Board, 0, len(t.state.boards))
	for _, b := range t.state.boards {
		if b.Archived {
			continue
		}
		boards = append(boards, b)
	}
	sort.Slice(boards, func(i, j int) bool {
		if !boards[i].CreatedAt.Equal(boards[j].CreatedAt) {
			return boards[i].CreatedAt.Before(boards[j].CreatedAt)
		}
		return boards[i].ID < boards[j].ID
	})
	return boards, nil
}

func (t *memTx) GetList(id string) (*domain.List, error) {
	if l, ok := t.state.lists[id]; ok {
		cpy := l
		return &cpy, nil
	}
	return nil, nil
}

func (t *memTx) PutList(l domain.List) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	t.state.lists[l.ID] = l
	return nil
}

func (t *memTx) DeleteList(id string) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	delete(t.state.lists, id)
	return nil
}

func (t *memTx) ListsByBoard(boardID string) ([]domain.List, error) {
	lists := make([]domain.List, 0)
	for _, l := range t.state.lists {
		if l.BoardID == boardID {
			lists = append(lists, l)
		}
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].Position < lists[j].Position })
	return lists, nil
}

func (t *memTx) GetCard(id string) (*domain.Card, error) {
	if c, ok := t.state.cards[id]; ok {
		cpy := c
		return &cpy, nil
	}
	return nil, nil
}

func (t *memTx) PutCard(c domain.Card) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	t.state.cards[c.ID] = c
	return nil
}

func (t *memTx) DeleteCard(id string) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	delete(t.state.cards, id)
	return nil
}

func (t *memTx) CardsByList(listID string) ([]domain.Card, error) {
	cards := make([]domain.Card, 0)
	for _, c := range t.state.cards {
		if c.ListID == listID {
			cards = append(cards, c)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Position < cards[j].Position })
	return cards, nil
}

func (t *memTx) IncrementPositionsFrom(c Container, from int) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	switch c.Kind {
	case ContainerBoard:
		for id, l := range t.state.lists {
			if l.BoardID == c.ID && l.Position >= from {
				l.Position++
				t.state.lists[id] = l
			}
		}
	case ContainerList:
		for id, card := range t.state.cards {
			if card.ListID == c.ID && card.Position >= from {
				card.Position++
				t.state.cards[id] = card
			}
		}
	}
	return nil
}

func (t *memTx) DecrementPositionsAfter(c Container, after int) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	switch c.Kind {
	case ContainerBoard:
		for id, l := range t.state.lists {
			if l.BoardID == c.ID && l.Position > after {
				l.Position--
				t.state.lists[id] = l
			}
		}
	case ContainerList:
		for id, card := range t.state.cards {
			if card.ListID == c.ID && card.Position > after {
				card.Position--
				t.state.cards[id] = card
			}
		}
	}
	return nil
}

func (t *memTx) MaxPosition(c Container) (int, bool, error) {
	max, found := 0, false
	switch c.Kind {
	case ContainerBoard:
		for _, l := range t.state.lists {
			if l.BoardID == c.ID && (!found || l.Position > max) {
				max, found = l.Position, true
			}
		}
	case ContainerList:
		for _, card := range t.state.cards {
			if card.ListID == c.ID && (!found || card.Position > max) {
				max, found = card.Position, true
			}
		}
	}
	return max, found, nil
}

func (t *memTx) AppendActivity(e domain.ActivityEntry) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	t.state.activity[e.BoardID] = append(t.state.activity[e.BoardID], e)
	return nil
}

func (t *memTx) RecentActivity(boardID string, limit int) ([]domain.ActivityEntry, error) {
	return t.activitySlice(boardID, 0, limit), nil
}

func (t *memTx) ActivityPage(boardID string, page, size int) ([]domain.ActivityEntry, error) {
	if page < 0 || size <= 0 {
		return nil, nil
	}
	// page*size must not overflow into a negative skip.
	if page > math.MaxInt/size {
		return nil, nil
	}
	return t.activitySlice(boardID, page*size, size), nil
}

func (t *memTx) ActivityCount(boardID string) (int, error) {
	return len(t.state.activity[boardID]), nil
}

// activitySlice returns up to count entries newest first, skipping skip.
// count is clamped to what the board actually has so callers cannot force
// an oversized allocation.
func (t *memTx) activitySlice(boardID string, skip, count int) []domain.ActivityEntry {
	entries := t.state.activity[boardID]
	if skip < 0 || skip >= len(entries) || count <= 0 {
		return nil
	}
	if count > len(entries)-skip {
		count = len(entries) - skip
	}
	out := make([]domain.ActivityEntry, 0, count)
	for i := len(entries) - 1 - skip; i >= 0 && len(out) < count; i-- {
		out = append(out, entries[i])
	}
	return out
}
