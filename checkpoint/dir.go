package checkpoint

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/util"
)

// Dir is the canonical file-backed Store: one snapshot file plus one
// append-only log file in a directory.
//
// snap.loam    current snapshot image
// events.log   uvarint(seq) uvarint(len) payload, one per event
//
// Snapshot replacement is write-to-temporary then rename; log
// appends are fsynced before they are acknowledged.  A torn record
// at the log's tail is an unacknowledged append from a crash and is
// ignored on replay.
type Dir struct {
	Debug bool

	heap *noun.Heap
	dir  string
	log  *os.File
}

const (
	snapName    = "snap.loam"
	snapTmpName = "snap.loam.tmp"
	logName     = "events.log"
)

func NewDir(h *noun.Heap, dir string) *Dir {
	return &Dir{heap: h, dir: dir}
}

func (s *Dir) logf(format string, args ...interface{}) {
	if s.Debug {
		util.Logf("checkpoint.Dir "+format, args...)
	}
}

func (s *Dir) Open(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, logName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	s.log = f
	// A leftover temporary means a snapshot write died mid-way.
	// The published snapshot is still the prior one; the orphan
	// is garbage.
	if err := os.Remove(filepath.Join(s.dir, snapTmpName)); err == nil {
		s.logf("removed orphaned snapshot temporary")
	}
	return nil
}

func (s *Dir) Close(ctx context.Context) error {
	if s == nil || s.log == nil {
		return nil
	}
	err := s.log.Close()
	s.log = nil
	return err
}

func (s *Dir) WriteSnapshot(ctx context.Context, seq uint64, root noun.Noun) error {
	s.logf("WriteSnapshot seq=%d", seq)
	tmp := filepath.Join(s.dir, snapTmpName)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := writeImage(w, seq, root); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, snapName)); err != nil {
		os.Remove(tmp)
		return err
	}
	return syncDir(s.dir)
}

func (s *Dir) LatestSnapshot(ctx context.Context) (uint64, noun.Noun, bool, error) {
	f, err := os.Open(filepath.Join(s.dir, snapName))
	if errors.Is(err, os.ErrNotExist) {
		return 0, noun.Noun{}, false, nil
	}
	if err != nil {
		return 0, noun.Noun{}, false, err
	}
	defer f.Close()
	seq, root, err := readImage(bufio.NewReader(f), s.heap)
	if err != nil {
		return 0, noun.Noun{}, false, err
	}
	s.logf("LatestSnapshot seq=%d", seq)
	return seq, root, true, nil
}

func (s *Dir) AppendEvent(ctx context.Context, seq uint64, event noun.Noun) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	var hdr [2 * binary.MaxVarintLen64]byte
	k := binary.PutUvarint(hdr[:], seq)
	k += binary.PutUvarint(hdr[k:], uint64(len(payload)))
	if _, err := s.log.Write(append(hdr[:k:k], payload...)); err != nil {
		return err
	}
	// The event is not committed until it would survive a crash.
	return s.log.Sync()
}

func (s *Dir) Events(ctx context.Context, after uint64, f func(seq uint64, event noun.Noun) error) error {
	rf, err := os.Open(filepath.Join(s.dir, logName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer rf.Close()
	r := bufio.NewReader(rf)
	var prev uint64
	for n := 0; ; n++ {
		seq, err := binary.ReadUvarint(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			s.logf("torn log tail after %d records", n)
			return nil
		}
		ln, err := binary.ReadUvarint(r)
		if err != nil {
			s.logf("torn log tail after %d records", n)
			return nil
		}
		payload := make([]byte, ln)
		if _, err := io.ReadFull(r, payload); err != nil {
			s.logf("torn log tail after %d records", n)
			return nil
		}
		if n > 0 && seq <= prev {
			return &CorruptError{What: "event log", Err: fmt.Errorf("sequence %d after %d", seq, prev)}
		}
		prev = seq
		if seq <= after {
			continue
		}
		event, err := decodeEvent(payload, s.heap)
		if err != nil {
			return &CorruptError{What: "event log", Err: fmt.Errorf("event %d: %w", seq, err)}
		}
		if err := f(seq, event); err != nil {
			return err
		}
	}
}

// Compact rewrites the log without entries at or below through.
// The rewrite publishes like a snapshot does: temporary, then
// rename.
func (s *Dir) Compact(ctx context.Context, through uint64) error {
	s.logf("Compact through=%d", through)
	tmp := filepath.Join(s.dir, logName+".tmp")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	err = s.Events(ctx, through, func(seq uint64, event noun.Noun) error {
		defer s.heap.Lose(event)
		payload, err := encodeEvent(event)
		if err != nil {
			return err
		}
		var hdr [2 * binary.MaxVarintLen64]byte
		k := binary.PutUvarint(hdr[:], seq)
		k += binary.PutUvarint(hdr[k:], uint64(len(payload)))
		if _, err := w.Write(hdr[:k]); err != nil {
			return err
		}
		_, err = w.Write(payload)
		return err
	})
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := s.log.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, logName)); err != nil {
		return err
	}
	if err := syncDir(s.dir); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, logName), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	s.log = f
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}
