package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

type stubLoader struct {
	mu          sync.Mutex
	boardsCalls int
	boardCalls  int
	boards      []domain.BoardView
	board       domain.BoardView
	err         error
}

func (s *stubLoader) LoadBoards(context.Context) ([]domain.BoardView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boardsCalls++
	return s.boards, s.err
}

func (s *stubLoader) LoadBoard(context.Context, string) (domain.BoardView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boardCalls++
	return s.board, s.err
}

func (s *stubLoader) BoardsCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardsCalls
}

func newCacheFixture(t *testing.T, loader *stubLoader) (*BoardCache, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewBoardCache(loader, client, time.Minute), m
}

func TestFetchBoardsPopulatesAndServesFromCache(t *testing.T) {
	loader := &stubLoader{boards: []domain.BoardView{{Board: domain.Board{ID: "b1", Name: "Roadmap"}}}}
	cache, m := newCacheFixture(t, loader)
	ctx := context.Background()

	first, err := cache.FetchBoards(ctx)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if len(first) != 1 || first[0].ID != "b1" {
		t.Fatalf("unexpected boards %#v", first)
	}
	if !m.Exists("boards:all") {
		t.Fatal("expected boards:all key after miss")
	}

	// The loader must not be hit again while the key is cached.
	loader.boards = nil
	second, err := cache.FetchBoards(ctx)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if len(second) != 1 || second[0].ID != "b1" {
		t.Fatalf("expected cached result, got %#v", second)
	}
	if loader.BoardsCalls() != 1 {
		t.Fatalf("expected 1 loader call, got %d", loader.BoardsCalls())
	}
}

func TestFetchBoardCachesPerID(t *testing.T) {
	loader := &stubLoader{board: domain.BoardView{Board: domain.Board{ID: "b1", Name: "Roadmap"}}}
	cache, m := newCacheFixture(t, loader)
	ctx := context.Background()

	if _, err := cache.FetchBoard(ctx, "b1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !m.Exists("boards:b1") {
		t.Fatal("expected boards:b1 key after miss")
	}
}

func TestEvictAllClearsRegion(t *testing.T) {
	loader := &stubLoader{
		boards: []domain.BoardView{{Board: domain.Board{ID: "b1"}}},
		board:  domain.BoardView{Board: domain.Board{ID: "b1"}},
	}
	cache, m := newCacheFixture(t, loader)
	ctx := context.Background()

	if _, err := cache.FetchBoards(ctx); err != nil {
		t.Fatalf("fetch boards: %v", err)
	}
	if _, err := cache.FetchBoard(ctx, "b1"); err != nil {
		t.Fatalf("fetch board: %v", err)
	}
	if err := m.Set("other:key", "keep"); err != nil {
		t.Fatalf("set unrelated key: %v", err)
	}

	if err := cache.EvictAll(ctx); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if m.Exists("boards:all") || m.Exists("boards:b1") {
		t.Fatal("board keys survived eviction")
	}
	if !m.Exists("other:key") {
		t.Fatal("eviction removed a key outside the boards region")
	}
}

func TestFetchFallsBackWhenRedisDown(t *testing.T) {
	loader := &stubLoader{boards: []domain.BoardView{{Board: domain.Board{ID: "b1"}}}}
	cache, m := newCacheFixture(t, loader)
	m.Close()

	boards, err := cache.FetchBoards(context.Background())
	if err != nil {
		t.Fatalf("expected loader fallback, got %v", err)
	}
	if len(boards) != 1 || boards[0].ID != "b1" {
		t.Fatalf("unexpected boards %#v", boards)
	}
}

func TestCorruptCacheEntryFallsBackAndHeals(t *testing.T) {
	loader := &stubLoader{boards: []domain.BoardView{{Board: domain.Board{ID: "b1"}}}}
	cache, m := newCacheFixture(t, loader)
	ctx := context.Background()

	if err := m.Set("boards:all", "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	boards, err := cache.FetchBoards(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(boards) != 1 {
		t.Fatalf("unexpected boards %#v", boards)
	}
	// The corrupt entry was replaced with a fresh one.
	val, err := m.Get("boards:all")
	if err != nil {
		t.Fatalf("read healed key: %v", err)
	}
	if val == "{not json" {
		t.Fatal("corrupt entry was not replaced")
	}
}

func TestCacheWithoutRedisAlwaysLoads(t *testing.T) {
	loader := &stubLoader{boards: []domain.BoardView{{Board: domain.Board{ID: "b1"}}}}
	cache := NewBoardCache(loader, nil, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.FetchBoards(context.Background()); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if loader.BoardsCalls() != 2 {
		t.Fatalf("expected loader on every call, got %d", loader.BoardsCalls())
	}
}
