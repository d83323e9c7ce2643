package noun

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire form of a noun: a stream of records in dependency order, so
// that a shared subgraph serializes once and reloads shared.
//
//	uvarint  record count
//	records  tagAtom uvarint(len) bytes...        atom, LSB first
//	         tagCell uvarint(head) uvarint(tail)  back-references
//
// A cell's references point at earlier records.  The last record is
// the root.

const (
	tagAtom = 0x00
	tagCell = 0x01
)

// wirePrealloc caps what a decode allocates up front.  Counts and
// lengths come off the wire, so a corrupt stream can claim anything;
// buffers grow past the cap only as records actually arrive.
const wirePrealloc = 1 << 16

// wireReader is what ReadNoun needs; a *bufio.Reader satisfies it.
type wireReader interface {
	io.Reader
	io.ByteReader
}

type wireRecord struct {
	isAtom     bool
	atom       []byte // LSB first, no trailing zeros; empty is the atom 0
	head, tail uint64
}

// WriteNoun serializes n to w in wire form.
func WriteNoun(w io.Writer, n Noun) error {
	recs := flatten(n)

	var scratch [binary.MaxVarintLen64]byte
	put := func(v uint64) error {
		k := binary.PutUvarint(scratch[:], v)
		_, err := w.Write(scratch[:k])
		return err
	}

	if err := put(uint64(len(recs))); err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.isAtom {
			if _, err := w.Write([]byte{tagAtom}); err != nil {
				return err
			}
			if err := put(uint64(len(rec.atom))); err != nil {
				return err
			}
			if _, err := w.Write(rec.atom); err != nil {
				return err
			}
			continue
		}
		if _, err := w.Write([]byte{tagCell}); err != nil {
			return err
		}
		if err := put(rec.head); err != nil {
			return err
		}
		if err := put(rec.tail); err != nil {
			return err
		}
	}
	return nil
}

// flatten lists n's records in post-order, deduplicating heap
// records by identity and direct atoms by value.
func flatten(n Noun) []wireRecord {
	var (
		recs      []wireRecord
		heapIdx   = map[*heapNoun]uint64{}
		directIdx = map[uint64]uint64{}
	)

	resolve := func(n Noun) (uint64, bool) {
		if n.h == nil {
			i, ok := directIdx[n.v]
			return i, ok
		}
		i, ok := heapIdx[n.h]
		return i, ok
	}

	emit := func(n Noun, rec wireRecord) uint64 {
		i := uint64(len(recs))
		recs = append(recs, rec)
		if n.h == nil {
			directIdx[n.v] = i
		} else {
			heapIdx[n.h] = i
		}
		return i
	}

	type visit struct {
		n        Noun
		expanded bool
	}
	stack := []visit{{n: n}}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := resolve(v.n); done {
			continue
		}
		if v.n.IsAtom() {
			emit(v.n, wireRecord{isAtom: true, atom: atomBytes(v.n)})
			continue
		}
		if !v.expanded {
			stack = append(stack, visit{n: v.n, expanded: true})
			stack = append(stack, visit{n: v.n.Tail()})
			stack = append(stack, visit{n: v.n.Head()})
			continue
		}
		hi, _ := resolve(v.n.Head())
		ti, _ := resolve(v.n.Tail())
		emit(v.n, wireRecord{head: hi, tail: ti})
	}
	return recs
}

// ReadNoun reads one wire-form noun into the heap.  The result is
// owned by the caller.
func (h *Heap) ReadNoun(r wireReader) (Noun, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return Noun{}, err
	}
	if count == 0 {
		return Noun{}, fmt.Errorf("noun: wire: empty record stream")
	}
	pre := count
	if pre > wirePrealloc {
		pre = wirePrealloc
	}
	records := make([]Noun, 0, pre)
	lose := func() {
		for _, rec := range records {
			h.Lose(rec)
		}
	}
	for i := uint64(0); i < count; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			lose()
			return Noun{}, err
		}
		switch tag {
		case tagAtom:
			ln, err := binary.ReadUvarint(r)
			if err != nil {
				lose()
				return Noun{}, err
			}
			bs, err := readAtom(r, ln)
			if err != nil {
				lose()
				return Noun{}, err
			}
			records = append(records, h.Bytes(bs))
		case tagCell:
			hi, err := binary.ReadUvarint(r)
			if err != nil {
				lose()
				return Noun{}, err
			}
			ti, err := binary.ReadUvarint(r)
			if err != nil {
				lose()
				return Noun{}, err
			}
			if hi >= i || ti >= i {
				lose()
				return Noun{}, fmt.Errorf("noun: wire: forward reference in record %d", i)
			}
			records = append(records, h.Cell(h.Gain(records[hi]), h.Gain(records[ti])))
		default:
			lose()
			return Noun{}, fmt.Errorf("noun: wire: unknown tag %#x in record %d", tag, i)
		}
	}
	root := records[len(records)-1]
	for _, rec := range records[:len(records)-1] {
		h.Lose(rec)
	}
	return root, nil
}

// readAtom reads ln bytes with the initial allocation clamped to
// wirePrealloc, so a corrupt length fails with a short read instead
// of an absurd allocation.
func readAtom(r io.Reader, ln uint64) ([]byte, error) {
	pre := ln
	if pre > wirePrealloc {
		pre = wirePrealloc
	}
	bs := make([]byte, 0, pre)
	var chunk [4096]byte
	for uint64(len(bs)) < ln {
		want := ln - uint64(len(bs))
		if want > uint64(len(chunk)) {
			want = uint64(len(chunk))
		}
		k, err := io.ReadFull(r, chunk[:want])
		bs = append(bs, chunk[:k]...)
		if err != nil {
			return nil, err
		}
	}
	return bs, nil
}
