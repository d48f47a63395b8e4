// Package ndjson decodes newline-delimited JSON incrementally.
//
// A Decoder accepts arbitrary byte chunks and emits one value per complete,
// non-blank line. The emitted sequence does not depend on where chunk
// boundaries fall. Lines that are not valid JSON are counted and dropped.
package ndjson

import (
	"bytes"

	"github.com/bunlongheng/cube-ai-be/internal/model"
)

// Option configures a Decoder.
type Option func(*Decoder)

// WithSSEData makes the decoder accept Server-Sent Events framing: a
// "data:" prefix is stripped before decoding, and event, id, retry and
// comment lines are ignored without being counted as malformed.
func WithSSEData() Option {
	return func(d *Decoder) { d.sse = true }
}

// Decoder is an incremental NDJSON decoder. It is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	sse     bool
	skipped int
}

// NewDecoder returns an empty decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends chunk and returns the values of every line it completed.
func (d *Decoder) Feed(chunk []byte) []any {
	d.buf = append(d.buf, chunk...)

	var out []any
	for {
		i := bytes.IndexAny(d.buf, "\r\n")
		if i < 0 {
			break
		}
		if v, ok := d.decodeLine(d.buf[:i]); ok {
			out = append(out, v)
		}
		d.buf = d.buf[i+1:]
	}

	// Reclaim the consumed prefix once the tail is small.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Flush decodes whatever remains buffered as a final line and resets the
// buffer. Call it once at end of stream.
func (d *Decoder) Flush() []any {
	rest := d.buf
	d.buf = nil
	if v, ok := d.decodeLine(rest); ok {
		return []any{v}
	}
	return nil
}

// Skipped returns how many non-blank lines failed to decode so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// DecodeAll decodes a complete body in one call.
func DecodeAll(body []byte, opts ...Option) ([]any, int) {
	d := NewDecoder(opts...)
	values := d.Feed(body)
	values = append(values, d.Flush()...)
	return values, d.Skipped()
}

func (d *Decoder) decodeLine(line []byte) (any, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}

	if d.sse {
		switch {
		case bytes.HasPrefix(line, []byte("data:")):
			line = bytes.TrimSpace(line[len("data:"):])
			if len(line) == 0 {
				return nil, false
			}
		case line[0] == ':',
			bytes.HasPrefix(line, []byte("event:")),
			bytes.HasPrefix(line, []byte("id:")),
			bytes.HasPrefix(line, []byte("retry:")):
			return nil, false
		}
	}

	v, err := model.DecodeValue(line)
	if err != nil {
		d.skipped++
		return nil, false
	}
	return v, true
}
