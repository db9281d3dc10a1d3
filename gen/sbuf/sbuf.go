// Package sbuf implements append-only text buffers whose contents can be
// assembled out of emission order.
//
// A Buffer holds a sequence of text spans interleaved with pointers to child
// buffers. A child can be spliced in at the current position and written to
// at any later time; a deferred node is populated by a callback only when the
// tree is flushed. Flushing walks the tree depth-first and streams the text
// through a brace-aware indent writer, so emitters never write their own
// leading whitespace.
//
// This is the machinery that lets a code generator decide "does this helper
// get emitted?" long after it has started writing the function body that
// consumes the helper: the helper's position in the output is reserved early,
// its text arrives late.
package sbuf

import (
	"fmt"
	"io"
)

// span is one node of a buffer: exactly one of text, child or fn is set.
type span struct {
	text  []byte
	child *Buffer
	fn    func(*Buffer)
}

// Buffer is an append-only text buffer supporting child splices and deferred
// callback nodes. The zero value is usable; New is provided for symmetry with
// NewChild.
type Buffer struct {
	spans []span
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// PutStr appends literal text.
func (b *Buffer) PutStr(s string) {
	if s == "" {
		return
	}
	if n := len(b.spans); n > 0 && b.spans[n-1].text != nil {
		b.spans[n-1].text = append(b.spans[n-1].text, s...)
		return
	}
	b.spans = append(b.spans, span{text: []byte(s)})
}

// Putf appends formatted text. The full fmt verb set is available.
func (b *Buffer) Putf(format string, args ...any) {
	b.PutStr(fmt.Sprintf(format, args...))
}

// NewChild splices a fresh child buffer in at the current position and
// returns it. Text written to the child later still flushes at the splice
// point: everything written to b before the call precedes the child's
// contents, everything written after follows them.
func (b *Buffer) NewChild() *Buffer {
	c := New()
	b.spans = append(b.spans, span{child: c})
	return c
}

// Defer reserves a lazy node at the current position. At flush time fn is
// invoked once with a freshly allocated child buffer to populate; afterwards
// the node behaves like an ordinary child.
func (b *Buffer) Defer(fn func(*Buffer)) {
	b.spans = append(b.spans, span{fn: fn})
}

// Flush walks the buffer tree depth-first, firing deferred callbacks in
// traversal order, and writes the assembled text to w with brace-aware
// indentation applied.
func (b *Buffer) Flush(w io.Writer) error {
	iw := &indentWriter{w: w}
	b.walk(iw)
	iw.finish()
	return iw.err
}

func (b *Buffer) walk(iw *indentWriter) {
	for i := range b.spans {
		sp := &b.spans[i]
		switch {
		case sp.child != nil:
			sp.child.walk(iw)
		case sp.fn != nil:
			c := New()
			sp.fn(c)
			sp.fn, sp.child = nil, c
			c.walk(iw)
		default:
			iw.write(sp.text)
		}
	}
}
