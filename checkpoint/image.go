package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/noxide/loam/noun"
)

// Image layout: a fixed header followed by the root noun in wire
// form.  The header carries the root's mug so that a reload can be
// checked against the graph it claims to hold.
//
//	[4]byte  magic "loam"
//	uint32   format version, little-endian
//	uint64   sequence number, little-endian
//	uint32   root mug, little-endian
//	...      noun wire form

var imageMagic = [4]byte{'l', 'o', 'a', 'm'}

const imageVersion = 1

const imageHeaderLen = 4 + 4 + 8 + 4

func writeImage(w io.Writer, seq uint64, root noun.Noun) error {
	var hdr [imageHeaderLen]byte
	copy(hdr[0:4], imageMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], imageVersion)
	binary.LittleEndian.PutUint64(hdr[8:16], seq)
	binary.LittleEndian.PutUint32(hdr[16:20], noun.Mug(root))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	return noun.WriteNoun(w, root)
}

func readImage(r *bufio.Reader, h *noun.Heap) (uint64, noun.Noun, error) {
	var hdr [imageHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, noun.Noun{}, &CorruptError{What: "snapshot header", Err: err}
	}
	if !bytes.Equal(hdr[0:4], imageMagic[:]) {
		return 0, noun.Noun{}, &CorruptError{What: "snapshot header", Err: fmt.Errorf("bad magic %q", hdr[0:4])}
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != imageVersion {
		return 0, noun.Noun{}, &CorruptError{What: "snapshot header", Err: fmt.Errorf("unsupported version %d", v)}
	}
	seq := binary.LittleEndian.Uint64(hdr[8:16])
	mug := binary.LittleEndian.Uint32(hdr[16:20])

	root, err := h.ReadNoun(r)
	if err != nil {
		return 0, noun.Noun{}, &CorruptError{What: "snapshot graph", Err: err}
	}
	if got := noun.Mug(root); got != mug {
		h.Lose(root)
		return 0, noun.Noun{}, &CorruptError{
			What: "snapshot graph",
			Err:  fmt.Errorf("mug %08x does not match header %08x", got, mug),
		}
	}
	return seq, root, nil
}

// encodeImage renders an image to a byte slice, for stores that keep
// images as values rather than files.
func encodeImage(seq uint64, root noun.Noun) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeImage(&buf, seq, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeImage(bs []byte, h *noun.Heap) (uint64, noun.Noun, error) {
	return readImage(bufio.NewReader(bytes.NewReader(bs)), h)
}

// encodeEvent renders one event noun for the log.
func encodeEvent(event noun.Noun) ([]byte, error) {
	var buf bytes.Buffer
	if err := noun.WriteNoun(&buf, event); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEvent(bs []byte, h *noun.Heap) (noun.Noun, error) {
	return h.ReadNoun(bufio.NewReader(bytes.NewReader(bs)))
}
