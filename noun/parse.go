package noun

import (
	"fmt"
	"math/big"
	"strings"
)

// Parse reads a noun in text syntax:
//
//	42            decimal atom
//	0x2a          hexadecimal atom
//	%foo          cord atom: the bytes of "foo", LSB first
//	[a b c ...]   cell, right-nesting: [a [b [c ...]]]
//
// The result is owned by the caller.
func (h *Heap) Parse(src string) (Noun, error) {
	p := &parser{h: h, src: src}
	n, err := p.noun()
	if err != nil {
		return Noun{}, err
	}
	p.ws()
	if p.i != len(p.src) {
		h.Lose(n)
		return Noun{}, fmt.Errorf("noun: trailing input at offset %d", p.i)
	}
	return n, nil
}

// MustParse is Parse for fixtures and tests.
func (h *Heap) MustParse(src string) Noun {
	n, err := h.Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

type parser struct {
	h   *Heap
	src string
	i   int
}

func (p *parser) ws() {
	for p.i < len(p.src) {
		switch p.src[p.i] {
		case ' ', '\t', '\n', '\r':
			p.i++
		default:
			return
		}
	}
}

func (p *parser) noun() (Noun, error) {
	p.ws()
	if p.i >= len(p.src) {
		return Noun{}, fmt.Errorf("noun: unexpected end of input")
	}
	switch c := p.src[p.i]; {
	case c == '[':
		return p.cell()
	case c == '%':
		return p.cord()
	case '0' <= c && c <= '9':
		return p.atom()
	default:
		return Noun{}, fmt.Errorf("noun: unexpected %q at offset %d", c, p.i)
	}
}

func (p *parser) cell() (Noun, error) {
	p.i++ // [
	elems := make([]Noun, 0, 4)
	lose := func() {
		for _, e := range elems {
			p.h.Lose(e)
		}
	}
	for {
		p.ws()
		if p.i < len(p.src) && p.src[p.i] == ']' {
			p.i++
			break
		}
		if p.i >= len(p.src) {
			lose()
			return Noun{}, fmt.Errorf("noun: unclosed cell")
		}
		e, err := p.noun()
		if err != nil {
			lose()
			return Noun{}, err
		}
		elems = append(elems, e)
	}
	if len(elems) < 2 {
		lose()
		return Noun{}, fmt.Errorf("noun: cell needs at least two elements")
	}
	out := elems[len(elems)-1]
	for i := len(elems) - 2; i >= 0; i-- {
		out = p.h.Cell(elems[i], out)
	}
	return out, nil
}

func (p *parser) atom() (Noun, error) {
	start := p.i
	hex := strings.HasPrefix(p.src[p.i:], "0x")
	if hex {
		p.i += 2
	}
	for p.i < len(p.src) && isAtomRune(p.src[p.i], hex) {
		p.i++
	}
	text := strings.ReplaceAll(p.src[start:p.i], ".", "")
	v, ok := new(big.Int).SetString(text, 0)
	if !ok {
		return Noun{}, fmt.Errorf("noun: bad atom %q", p.src[start:p.i])
	}
	return p.h.BigAtom(v), nil
}

func isAtomRune(c byte, hex bool) bool {
	if '0' <= c && c <= '9' || c == '.' {
		return true
	}
	if hex && ('a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
		return true
	}
	return false
}

func (p *parser) cord() (Noun, error) {
	p.i++ // %
	start := p.i
	for p.i < len(p.src) && isCordRune(p.src[p.i]) {
		p.i++
	}
	if p.i == start {
		return Noun{}, fmt.Errorf("noun: empty cord at offset %d", start)
	}
	return p.h.Bytes([]byte(p.src[start:p.i])), nil
}

func isCordRune(c byte) bool {
	return 'a' <= c && c <= 'z' || '0' <= c && c <= '9' || c == '-'
}

// Cord returns the atom whose bytes are s, LSB first.  Hint tags and
// test fixtures use these.
func (h *Heap) Cord(s string) Noun {
	return h.Bytes([]byte(s))
}
