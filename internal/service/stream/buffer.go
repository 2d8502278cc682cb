// Package stream reassembles newline-delimited records from arbitrarily split byte chunks.
package stream

import "bytes"

const separator = '\n'

// Buffer accumulates raw chunks from a streaming response and hands back
// complete records as soon as their terminating newline has arrived.
// The zero value is ready to use. Not safe for concurrent use; one Buffer
// belongs to exactly one stream-read loop.
type Buffer struct {
	tail []byte
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Feed appends chunk and returns every record completed by it, in byte order.
// A trailing carriage return is trimmed from each record. Bytes after the last
// separator are retained until a later Feed or Flush.
func (b *Buffer) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	b.tail = append(b.tail, chunk...)

	last := bytes.LastIndexByte(b.tail, separator)
	if last < 0 {
		return nil
	}

	complete := b.tail[:last]
	records := make([]string, 0, bytes.Count(complete, []byte{separator})+1)
	for _, line := range bytes.Split(complete, []byte{separator}) {
		records = append(records, string(bytes.TrimSuffix(line, []byte{'\r'})))
	}

	// Shift the unterminated remainder to the front so the backing array is reused.
	n := copy(b.tail, b.tail[last+1:])
	b.tail = b.tail[:n]
	return records
}

// Flush returns the unterminated tail as a final record, if it holds anything
// besides whitespace, and resets the buffer.
func (b *Buffer) Flush() []string {
	defer b.Reset()
	rest := bytes.TrimSuffix(b.tail, []byte{'\r'})
	if len(bytes.TrimSpace(rest)) == 0 {
		return nil
	}
	return []string{string(rest)}
}

// Discard drops the unterminated tail without returning it and reports its length.
func (b *Buffer) Discard() int {
	n := len(b.tail)
	b.Reset()
	return n
}

// Pending reports how many bytes are waiting for a separator.
func (b *Buffer) Pending() int {
	return len(b.tail)
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.tail = b.tail[:0]
}
