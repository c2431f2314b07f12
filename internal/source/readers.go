package source

// readers.go wraps extract readers so encoding/csv sees clean input:
//
//   - a leading UTF-8 byte order mark (written by Excel on Windows) is dropped
//   - invalid UTF-8 bytes are replaced with '?' without buffering the file
//   - total bytes are counted and capped

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// errTooLarge is returned by sizeGuard once the cap is crossed.
var errTooLarge = errors.New("extract exceeds size limit")

// skipBOM returns r with a leading UTF-8 byte order mark removed.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?'. A multi-byte rune
// split across two reads is carried over rather than treated as invalid.
type utf8Sanitizer struct {
	r     io.Reader
	carry []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, carry: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		n := copy(p, s.carry)
		s.carry = append(s.carry[:0], s.carry[n:]...)
		if len(s.carry) > 0 {
			return replaceInvalid(p[:n]), nil
		}

		m, err := s.r.Read(p[n:])
		n += m
		if n == 0 {
			return 0, err
		}

		buf := p[:n]
		if err == nil {
			if k := partialTail(buf); k > 0 {
				s.carry = append(s.carry, buf[n-k:]...)
				buf = buf[:n-k]
				if len(buf) == 0 {
					continue
				}
			}
		}
		return replaceInvalid(buf), err
	}
}

// partialTail returns how many trailing bytes of b are the start of a rune
// that has not been fully read yet.
func partialTail(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		if !utf8.RuneStart(b[len(b)-i]) {
			continue
		}
		if utf8.FullRune(b[len(b)-i:]) {
			return 0
		}
		return i
	}
	return 0
}

// replaceInvalid rewrites b in place and returns the new length, which is
// never larger than len(b).
func replaceInvalid(b []byte) int {
	if utf8.Valid(b) {
		return len(b)
	}

	w := 0
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			b[w] = '?'
			w++
			i++
			continue
		}
		copy(b[w:], b[i:i+size])
		w += size
		i += size
	}
	return w
}

// sizeGuard counts bytes and fails once more than max have been read.
// A max of zero disables the cap.
type sizeGuard struct {
	r    io.Reader
	max  int64
	read int64
}

func (g *sizeGuard) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	g.read += int64(n)
	if g.max > 0 && g.read > g.max {
		return n, fmt.Errorf("%w (%d bytes)", errTooLarge, g.max)
	}
	return n, err
}

// cleanReader applies the BOM, UTF-8 and size wrappers in that order.
func cleanReader(r io.Reader, maxBytes int64) io.Reader {
	return newUTF8Sanitizer(skipBOM(&sizeGuard{r: r, max: maxBytes}))
}
