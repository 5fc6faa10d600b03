package bus

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

func testJournalConfig(t *testing.T) journalConfig {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return journalConfig{dir: t.TempDir(), segmentBytes: 1 << 20, logger: logger}
}

func journalEvent(t *testing.T, n int) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(fmt.Sprintf("ev-%d", n), domain.RouteCardCreated, int64(n), map[string]any{"n": n})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}

func TestJournalAppendAndRecover(t *testing.T) {
	cfg := testJournalConfig(t)

	j, pending, err := openJournal(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("fresh journal has %d pending records", len(pending))
	}
	for i := 1; i <= 3; i++ {
		rec, err := j.append(journalEvent(t, i))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if rec.Offset != uint64(i) {
			t.Fatalf("expected offset %d, got %d", i, rec.Offset)
		}
	}
	if err := j.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j2, recovered, err := openJournal(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.close()
	if len(recovered) != 3 {
		t.Fatalf("expected 3 recovered records, got %d", len(recovered))
	}
	for i, rec := range recovered {
		if rec.Offset != uint64(i+1) {
			t.Fatalf("recovered records out of order: %#v", recovered)
		}
		if rec.Event.ID != fmt.Sprintf("ev-%d", i+1) {
			t.Fatalf("unexpected event at offset %d: %#v", rec.Offset, rec.Event)
		}
	}
}

func TestJournalCheckpointSkipsSettledRecords(t *testing.T) {
	cfg := testJournalConfig(t)

	j, _, err := openJournal(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if _, err := j.append(journalEvent(t, i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := j.commit(2); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := j.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j2, recovered, err := openJournal(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.close()
	if j2.committedOffset != 2 {
		t.Fatalf("expected checkpoint 2, got %d", j2.committedOffset)
	}
	if len(recovered) != 1 || recovered[0].Offset != 3 {
		t.Fatalf("expected only offset 3 pending, got %#v", recovered)
	}
}

func TestJournalTruncatesTornTail(t *testing.T) {
	cfg := testJournalConfig(t)

	j, _, err := openJournal(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 1; i <= 2; i++ {
		if _, err := j.append(journalEvent(t, i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := j.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	paths, err := filepath.Glob(filepath.Join(cfg.dir, "events-*.log"))
	if err != nil || len(paths) != 1 {
		t.Fatalf("expected one segment, got %v (%v)", paths, err)
	}
	info, err := os.Stat(paths[0])
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	// Chop into the last record to simulate a crash mid-write.
	if err := os.Truncate(paths[0], info.Size()-3); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	j2, recovered, err := openJournal(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.close()
	if len(recovered) != 1 || recovered[0].Offset != 1 {
		t.Fatalf("expected only the intact record, got %#v", recovered)
	}

	// The torn offset is reused by the next append.
	rec, err := j2.append(journalEvent(t, 9))
	if err != nil {
		t.Fatalf("append after truncation: %v", err)
	}
	if rec.Offset != 2 {
		t.Fatalf("expected offset 2, got %d", rec.Offset)
	}
}

func TestJournalRotatesAndPrunesSegments(t *testing.T) {
	cfg := testJournalConfig(t)
	cfg.segmentBytes = 1 // rotate on every append

	j, _, err := openJournal(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.close()
	for i := 1; i <= 3; i++ {
		if _, err := j.append(journalEvent(t, i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	paths, _ := filepath.Glob(filepath.Join(cfg.dir, "events-*.log"))
	if len(paths) < 3 {
		t.Fatalf("expected rotation to create segments, got %v", paths)
	}

	if err := j.commit(3); err != nil {
		t.Fatalf("commit: %v", err)
	}
	paths, _ = filepath.Glob(filepath.Join(cfg.dir, "events-*.log"))
	if len(paths) != 1 {
		t.Fatalf("expected settled segments pruned down to one, got %v", paths)
	}
}
