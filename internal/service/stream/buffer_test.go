package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullMessage = `{"status":"started","message":"Processing started"}
{"status":"processing","message":"Processing clip 1"}
{"status":"clip_ready","data":{"clip":{"filename":"clip_0000.mp4"},"output_folder":"abc"}}
{"status":"complete","message":"Processing complete"}
`

func feedAll(chunks [][]byte) []string {
	b := NewBuffer()
	var out []string
	for _, c := range chunks {
		out = append(out, b.Feed(c)...)
	}
	return append(out, b.Flush()...)
}

func TestBuffer_SingleChunk(t *testing.T) {
	records := feedAll([][]byte{[]byte(fullMessage)})

	require.Len(t, records, 4)
	assert.Equal(t, `{"status":"started","message":"Processing started"}`, records[0])
	assert.Equal(t, `{"status":"complete","message":"Processing complete"}`, records[3])
}

func TestBuffer_RecordSplitAcrossChunks(t *testing.T) {
	b := NewBuffer()

	assert.Empty(t, b.Feed([]byte(`{"status":"sta`)))
	assert.Empty(t, b.Feed([]byte(`rted","message"`)))
	assert.Equal(t, len(`{"status":"started","message"`), b.Pending())

	records := b.Feed([]byte(`:"go"}` + "\n" + `{"status"`))
	assert.Equal(t, []string{`{"status":"started","message":"go"}`}, records)
	assert.Equal(t, len(`{"status"`), b.Pending())
}

func TestBuffer_ManySeparatorsInOneChunk(t *testing.T) {
	b := NewBuffer()

	records := b.Feed([]byte("a\nb\n\nc\n"))

	assert.Equal(t, []string{"a", "b", "", "c"}, records)
	assert.Zero(t, b.Pending())
}

func TestBuffer_NoSeparator(t *testing.T) {
	b := NewBuffer()

	assert.Nil(t, b.Feed([]byte("partial")))
	assert.Nil(t, b.Feed(nil))
	assert.Equal(t, 7, b.Pending())
}

func TestBuffer_CRLF(t *testing.T) {
	b := NewBuffer()

	records := b.Feed([]byte("one\r\ntwo\r"))
	assert.Equal(t, []string{"one"}, records)

	records = b.Feed([]byte("\n"))
	assert.Equal(t, []string{"two"}, records)
}

func TestBuffer_SplitInvariance(t *testing.T) {
	data := []byte(fullMessage)
	expected := feedAll([][]byte{data})

	// every two-way split
	for i := 0; i <= len(data); i++ {
		got := feedAll([][]byte{data[:i], data[i:]})
		require.Equal(t, expected, got, "split at %d", i)
	}

	// every three-way split over a coarser grid
	for i := 0; i <= len(data); i += 7 {
		for j := i; j <= len(data); j += 11 {
			got := feedAll([][]byte{data[:i], data[i:j], data[j:]})
			require.Equal(t, expected, got, "split at %d,%d", i, j)
		}
	}

	// one byte at a time
	var bytewise [][]byte
	for i := range data {
		bytewise = append(bytewise, data[i:i+1])
	}
	assert.Equal(t, expected, feedAll(bytewise))
}

func TestBuffer_SplitInvariance_UnterminatedTail(t *testing.T) {
	data := []byte(`{"status":"started"}` + "\n" + `{"status":"complete"}`)
	expected := []string{`{"status":"started"}`, `{"status":"complete"}`}

	for i := 0; i <= len(data); i++ {
		assert.Equal(t, expected, feedAll([][]byte{data[:i], data[i:]}), "split at %d", i)
	}
}

func TestBuffer_FlushTrailingRecord(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"with trailing newline", "a\nb\n", nil},
		{"without trailing newline", "a\nb", []string{"b"}},
		{"whitespace tail", "a\n  \t", nil},
		{"crlf tail", "a\nb\r", []string{"b"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer()
			b.Feed([]byte(tt.input))

			assert.Equal(t, tt.expected, b.Flush())
			assert.Zero(t, b.Pending())
		})
	}
}

func TestBuffer_Discard(t *testing.T) {
	b := NewBuffer()
	b.Feed([]byte("done\nleft"))

	assert.Equal(t, 4, b.Discard())
	assert.Zero(t, b.Pending())
	assert.Nil(t, b.Flush())
}

func TestBuffer_ReusesStorage(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 1000; i++ {
		b.Feed([]byte(`{"status":"processing"}` + "\n"))
	}
	assert.Zero(t, b.Pending())
	assert.LessOrEqual(t, cap(b.tail), 64)
}
