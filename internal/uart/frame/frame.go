// Package frame converts between the byte-oriented BLE characteristic
// stream and newline-delimited text lines: outbound lines are chunked
// into transfer-unit-sized writes, inbound notification fragments are
// reassembled into complete lines.
package frame

import (
	"bytes"
	"sync"
)

// DefaultTransferUnit is the usable payload bytes per BLE write or
// notification when no larger ATT MTU has been negotiated (23 - 3 bytes
// of ATT header). The micro:bit does not negotiate a larger MTU.
const DefaultTransferUnit = 20

// Chunk splits data into size-byte writes, preserving bytes and order
// exactly. Unlike a prose chunker there are no word-boundary or UTF-8
// considerations: the peripheral reassembles a byte stream, so a chunk
// may end mid-rune. Returns nil for empty data.
func Chunk(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultTransferUnit
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	return append(chunks, data)
}

// Accumulator reassembles newline-terminated lines from notification
// fragments. A single logical line may arrive split across multiple
// notifications; bytes are buffered until a terminator shows up.
// Safe for concurrent use.
type Accumulator struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Push appends a notification payload to the buffer and returns the
// complete lines it unlocked, without their trailing newline. Bytes
// after the last terminator stay buffered for the next Push.
func (a *Accumulator) Push(data []byte) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.Write(data)

	var lines []string
	for {
		raw := a.buf.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			return lines
		}
		line := string(raw[:i])
		a.buf.Next(i + 1)
		lines = append(lines, line)
	}
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Len()
}
