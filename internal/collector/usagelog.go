package collector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// MaxUsageLineBytes bounds one journal line. Longer lines are skipped.
const MaxUsageLineBytes = 1 << 20

// usageLogEntry is a single line of the usage journal written by the desktop
// focus hook.
type usageLogEntry struct {
	Ts      int64  `json:"ts"`      // epoch millis
	Package string `json:"package"` // application id, e.g. "org.gnome.Nautilus"
	Event   string `json:"event"`   // "foreground" or "background"
}

// UsageJournal reads foreground transitions from an append-only JSONL file.
// Reads never consume entries; history is bounded by Prune.
//
// Writers must open the journal with O_APPEND and write each line with a
// single write while holding an exclusive flock(2) on the file. Prune
// compacts the file in place under the same lock, so a writer that keeps
// its descriptor open keeps appending to the live journal.
type UsageJournal struct {
	Path string
	log  *slog.Logger
}

func NewUsageJournal(path string, logger *slog.Logger) *UsageJournal {
	return &UsageJournal{Path: path, log: logger}
}

// QueryEvents returns journal events with start <= ts < end in file order.
// A missing journal yields no events.
func (j *UsageJournal) QueryEvents(ctx context.Context, start, end int64) ([]UsageEvent, error) {
	f, err := os.Open(j.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open usage journal: %w", err)
	}
	defer f.Close()
	if err := lockFile(f, unix.LOCK_SH); err != nil {
		return nil, err
	}
	defer unlockFile(f)

	var events []UsageEvent
	skipped, err := forEachLine(f, MaxUsageLineBytes, func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, ok := j.parse(line)
		if !ok || e.Timestamp < start || e.Timestamp >= end {
			return nil
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan usage journal: %w", err)
	}
	if skipped > 0 && j.log != nil {
		j.log.Warn("skip oversized usage lines", "lines", skipped, "limit", MaxUsageLineBytes)
	}
	return events, nil
}

func (j *UsageJournal) parse(line []byte) (UsageEvent, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return UsageEvent{}, false
	}
	var entry usageLogEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		if j.log != nil {
			j.log.Warn("skip malformed usage line", "err", err)
		}
		return UsageEvent{}, false
	}
	var typ UsageEventType
	switch entry.Event {
	case "foreground":
		typ = MoveToForeground
	case "background":
		typ = MoveToBackground
	default:
		return UsageEvent{}, false
	}
	if entry.Package == "" {
		return UsageEvent{}, false
	}
	return UsageEvent{Timestamp: entry.Ts, PackageName: entry.Package, Type: typ}, true
}

// Prune rewrites the journal in place without entries older than before.
// Returns the number of dropped lines, malformed and oversized lines
// included.
func (j *UsageJournal) Prune(before int64) (int, error) {
	f, err := os.OpenFile(j.Path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open usage journal: %w", err)
	}
	defer f.Close()
	if err := lockFile(f, unix.LOCK_EX); err != nil {
		return 0, err
	}
	defer unlockFile(f)

	var kept bytes.Buffer
	dropped := 0
	skipped, err := forEachLine(f, MaxUsageLineBytes, func(line []byte) error {
		if len(bytes.TrimSpace(line)) == 0 {
			return nil
		}
		e, ok := j.parse(line)
		if !ok || e.Timestamp < before {
			dropped++
			return nil
		}
		kept.Write(bytes.TrimRight(line, "\r\n"))
		kept.WriteByte('\n')
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read usage journal: %w", err)
	}
	dropped += skipped
	if dropped == 0 {
		return 0, nil
	}

	if _, err := f.WriteAt(kept.Bytes(), 0); err != nil {
		return 0, fmt.Errorf("write usage journal: %w", err)
	}
	if err := f.Truncate(int64(kept.Len())); err != nil {
		return 0, fmt.Errorf("truncate usage journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync usage journal: %w", err)
	}
	return dropped, nil
}

func lockFile(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			if err != nil {
				return fmt.Errorf("lock usage journal: %w", err)
			}
			return nil
		}
	}
}

func unlockFile(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// forEachLine calls fn for every line of r, newline included. Lines longer
// than max are not passed to fn; their number is returned.
func forEachLine(r io.Reader, max int, fn func(line []byte) error) (int, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	tooLong := false
	skipped := 0
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > max {
				tooLong = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return skipped, err
		}
		if tooLong {
			skipped++
		} else if len(line) > 0 {
			if ferr := fn(line); ferr != nil {
				return skipped, ferr
			}
		}
		line = line[:0]
		tooLong = false
		if err != nil {
			return skipped, nil
		}
	}
}
