package bus

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const journalHeaderSize = 16

var (
	errJournalClosed = errors.New("journal closed")
	crcTable         = crc32.MakeTable(crc32.Castagnoli)
)

type journalConfig struct {
	dir          string
	segmentBytes int64
	logger       *log.Logger
}

// journalRecord is one durably appended event awaiting delivery to every
// bound subscription.
type journalRecord struct {
	Offset      uint64       `json:"offset"`
	Event       domain.Event `json:"event"`
	Appended    time.Time    `json:"appended"`
	encodedSize int64        `json:"-"`
}

type journalSegment struct {
	baseOffset uint64
	lastOffset uint64
	file       *os.File
	writer     *bufio.Writer
	size       int64
	path       string
}

// journal is the bus's durable layer: segmented append-only files with
// CRC-framed records and a checkpoint holding the highest offset every
// subscription has settled. A torn tail from a crash is truncated on open;
// records past the checkpoint are redelivered (at-least-once).
type journal struct {
	cfg             journalConfig
	mu              sync.Mutex
	segments        []*journalSegment
	nextOffset      uint64
	committedOffset uint64
	closed          bool
}

func openJournal(cfg journalConfig) (*journal, []*journalRecord, error) {
	if cfg.dir == "" {
		return nil, nil, fmt.Errorf("journal dir required")
	}
	if err := os.MkdirAll(cfg.dir, 0o755); err != nil {
		return nil, nil, err
	}

	j := &journal{cfg: cfg}
	checkpoint, err := j.readCheckpoint()
	if err != nil {
		return nil, nil, err
	}
	j.committedOffset = checkpoint
	j.nextOffset = checkpoint + 1

	paths, err := filepath.Glob(filepath.Join(cfg.dir, "events-*.log"))
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(paths)

	pending := make([]*journalRecord, 0)
	for _, path := range paths {
		seg, records, err := j.loadSegment(path)
		if err != nil {
			return nil, nil, err
		}
		if seg == nil {
			continue
		}
		j.segments = append(j.segments, seg)
		for _, rec := range records {
			if rec.Offset >= j.nextOffset {
				j.nextOffset = rec.Offset + 1
			}
			if rec.Offset > j.committedOffset {
				pending = append(pending, rec)
			}
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.segments) == 0 {
		if err := j.openSegmentLocked(); err != nil {
			return nil, nil, err
		}
	} else {
		last := j.segments[len(j.segments)-1]
		if _, err := last.file.Seek(last.size, io.SeekStart); err != nil {
			return nil, nil, err
		}
		last.writer = bufio.NewWriterSize(last.file, 64*1024)
	}

	sort.Slice(pending, func(i, k int) bool { return pending[i].Offset < pending[k].Offset })
	return j, pending, nil
}

func (j *journal) readCheckpoint() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(j.cfg.dir, "checkpoint"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0, nil
	}
	val, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid checkpoint: %w", err)
	}
	return val, nil
}

func (j *journal) loadSegment(path string) (*journalSegment, []*journalRecord, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	seg := &journalSegment{path: path, file: f}
	records := make([]*journalRecord, 0)
	reader := bufio.NewReaderSize(f, 64*1024)
	var pos int64
	for {
		hdr := make([]byte, journalHeaderSize)
		start := pos
		n, err := io.ReadFull(reader, hdr)
		pos += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				if truncErr := f.Truncate(start); truncErr != nil {
					return nil, nil, truncErr
				}
				pos = start
				break
			}
			return nil, nil, err
		}

		length := binary.LittleEndian.Uint32(hdr[0:4])
		crc := binary.LittleEndian.Uint32(hdr[4:8])
		recOffset := binary.LittleEndian.Uint64(hdr[8:16])
		if length == 0 {
			continue
		}
		buf := make([]byte, length)
		n, err = io.ReadFull(reader, buf)
		pos += int64(n)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				if truncErr := f.Truncate(start); truncErr != nil {
					return nil, nil, truncErr
				}
				pos = start
				break
			}
			return nil, nil, err
		}

		if crc32.Checksum(buf, crcTable) != crc {
			if err := f.Truncate(start); err != nil {
				return nil, nil, err
			}
			pos = start
			break
		}

		var rec journalRecord
		if err := json.Unmarshal(buf, &rec); err != nil {
			return nil, nil, err
		}
		if rec.Offset != recOffset {
			return nil, nil, fmt.Errorf("journal offset mismatch: header=%d payload=%d", recOffset, rec.Offset)
		}
		if seg.baseOffset == 0 {
			seg.baseOffset = rec.Offset
		}
		seg.lastOffset = rec.Offset
		rec.encodedSize = int64(journalHeaderSize) + int64(length)
		records = append(records, &rec)
	}

	seg.size = pos
	return seg, records, nil
}

func (j *journal) openSegmentLocked() error {
	if j.closed {
		return errJournalClosed
	}
	name := fmt.Sprintf("events-%020d.log", j.nextOffset)
	path := filepath.Join(j.cfg.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	j.segments = append(j.segments, &journalSegment{
		baseOffset: j.nextOffset,
		lastOffset: j.nextOffset - 1,
		file:       f,
		writer:     bufio.NewWriterSize(f, 64*1024),
		path:       path,
	})
	return nil
}

// append durably writes the event and returns its record. Each append is
// flushed and synced before returning so a published event survives a crash.
func (j *journal) append(ev domain.Event) (*journalRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, errJournalClosed
	}
	if len(j.segments) == 0 {
		if err := j.openSegmentLocked(); err != nil {
			return nil, err
		}
	}
	current := j.segments[len(j.segments)-1]
	if j.cfg.segmentBytes > 0 && current.size >= j.cfg.segmentBytes {
		if err := current.writer.Flush(); err != nil {
			return nil, err
		}
		if err := current.file.Sync(); err != nil {
			return nil, err
		}
		current.writer = nil
		if err := current.file.Close(); err != nil {
			return nil, err
		}
		if err := j.openSegmentLocked(); err != nil {
			return nil, err
		}
		current = j.segments[len(j.segments)-1]
	}

	rec := &journalRecord{Offset: j.nextOffset, Event: ev, Appended: time.Now().UTC()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	header := make([]byte, journalHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.Checksum(payload, crcTable))
	binary.LittleEndian.PutUint64(header[8:16], rec.Offset)

	if _, err := current.writer.Write(header); err != nil {
		return nil, err
	}
	if _, err := current.writer.Write(payload); err != nil {
		return nil, err
	}
	if err := current.writer.Flush(); err != nil {
		return nil, err
	}
	if err := current.file.Sync(); err != nil {
		return nil, err
	}

	rec.encodedSize = int64(len(header) + len(payload))
	current.size += rec.encodedSize
	current.lastOffset = rec.Offset
	j.nextOffset++
	return rec, nil
}

// commit advances the checkpoint and prunes fully settled segments.
func (j *journal) commit(offset uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset <= j.committedOffset {
		return nil
	}
	j.committedOffset = offset

	path := filepath.Join(j.cfg.dir, "checkpoint")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(offset, 10)), 0o644); err != nil {
		return err
	}
	if err := syncFile(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if err := syncDir(j.cfg.dir); err != nil {
		return err
	}

	j.pruneLocked()
	return nil
}

func (j *journal) pruneLocked() {
	for len(j.segments) > 1 {
		seg := j.segments[0]
		if seg.lastOffset > j.committedOffset {
			break
		}
		if seg.writer != nil {
			seg.writer.Flush()
		}
		seg.file.Close()
		if err := os.Remove(seg.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			if j.cfg.logger != nil {
				j.cfg.logger.WithError(err).Warnf("failed to remove journal segment %s", seg.path)
			}
			break
		}
		j.segments = j.segments[1:]
	}
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	for _, seg := range j.segments {
		if seg.writer != nil {
			seg.writer.Flush()
		}
		seg.file.Close()
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
