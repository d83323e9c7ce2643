package checkpoint

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/util"

	bolt "go.etcd.io/bbolt"
)

// Bolt is a Store backed by a single bbolt database file.  Snapshots
// and events live in separate buckets keyed by big-endian sequence
// number, so a cursor walks them in order.
type Bolt struct {
	Debug bool

	heap     *noun.Heap
	filename string
	db       *bolt.DB
}

var (
	snapsBucket  = []byte("snapshots")
	eventsBucket = []byte("events")
)

func NewBolt(h *noun.Heap, filename string) *Bolt {
	return &Bolt{heap: h, filename: filename}
}

func (s *Bolt) logf(format string, args ...interface{}) {
	if s.Debug {
		util.Logf("checkpoint.Bolt "+format, args...)
	}
}

func (s *Bolt) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}
	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	s.db = db
	return db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(snapsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
}

func (s *Bolt) Close(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (s *Bolt) WriteSnapshot(ctx context.Context, seq uint64, root noun.Noun) error {
	s.logf("WriteSnapshot seq=%d", seq)
	bs, err := encodeImage(seq, root)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapsBucket).Put(seqKey(seq), bs)
	})
}

func (s *Bolt) LatestSnapshot(ctx context.Context) (uint64, noun.Noun, bool, error) {
	var bs []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(snapsBucket).Cursor().Last()
		if v != nil {
			bs = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return 0, noun.Noun{}, false, err
	}
	if bs == nil {
		return 0, noun.Noun{}, false, nil
	}
	seq, root, err := decodeImage(bs, s.heap)
	if err != nil {
		return 0, noun.Noun{}, false, err
	}
	s.logf("LatestSnapshot seq=%d", seq)
	return seq, root, true, nil
}

func (s *Bolt) AppendEvent(ctx context.Context, seq uint64, event noun.Noun) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	// Update commits with an fsync, so a returned nil means the
	// event is durable.
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(eventsBucket).Put(seqKey(seq), payload)
	})
}

func (s *Bolt) Events(ctx context.Context, after uint64, f func(seq uint64, event noun.Noun) error) error {
	// Collect first: f may replay events through the interpreter,
	// and holding a View transaction across that is asking for
	// trouble.
	type record struct {
		seq     uint64
		payload []byte
	}
	var records []record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.Seek(seqKey(after + 1)); k != nil; k, v = c.Next() {
			records = append(records, record{
				seq:     binary.BigEndian.Uint64(k),
				payload: append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	var prev uint64
	for i, rec := range records {
		if i > 0 && rec.seq <= prev {
			return &CorruptError{What: "event bucket", Err: fmt.Errorf("sequence %d after %d", rec.seq, prev)}
		}
		prev = rec.seq
		event, err := decodeEvent(rec.payload, s.heap)
		if err != nil {
			return &CorruptError{What: "event bucket", Err: fmt.Errorf("event %d: %w", rec.seq, err)}
		}
		if err := f(rec.seq, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *Bolt) Compact(ctx context.Context, through uint64) error {
	s.logf("Compact through=%d", through)
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= through; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		// Old snapshots are superseded, not history.
		sc := tx.Bucket(snapsBucket).Cursor()
		last, _ := sc.Last()
		if last == nil {
			return nil
		}
		keep := binary.BigEndian.Uint64(last)
		for k, _ := sc.First(); k != nil && binary.BigEndian.Uint64(k) < keep; k, _ = sc.Next() {
			if err := sc.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}
