package frame

import (
	"bytes"
	"strings"
	"testing"
)

func TestChunkEmpty(t *testing.T) {
	if got := Chunk(nil, 20); got != nil {
		t.Errorf("Chunk(nil) = %v, want nil", got)
	}
}

func TestChunkSingle(t *testing.T) {
	chunks := Chunk([]byte("LED:ON\n"), 20)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if string(chunks[0]) != "LED:ON\n" {
		t.Errorf("chunk = %q, want %q", chunks[0], "LED:ON\n")
	}
}

func TestChunkExactBytes(t *testing.T) {
	data := []byte("0123456789abcdefghij0123456789abcdefghijXYZ") // 43 bytes
	chunks := Chunk(data, 20)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 20 {
			t.Errorf("chunk %d is %d bytes, exceeds transfer unit", i, len(c))
		}
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, data) {
		t.Errorf("rejoined chunks = %q, want %q", got, data)
	}
}

func TestChunkSizeMultiple(t *testing.T) {
	// Data that is an exact multiple of the transfer unit must not
	// produce a trailing empty chunk.
	chunks := Chunk([]byte("aaaabbbb"), 4)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[1]) != 4 {
		t.Errorf("last chunk = %d bytes, want 4", len(chunks[1]))
	}
}

func TestAccumulatorReassemblesFragments(t *testing.T) {
	var acc Accumulator

	// "STATUS:OK\n" split across three notifications.
	if lines := acc.Push([]byte("STA")); lines != nil {
		t.Errorf("Push(\"STA\") = %v, want no lines", lines)
	}
	if lines := acc.Push([]byte("TUS:")); lines != nil {
		t.Errorf("Push(\"TUS:\") = %v, want no lines", lines)
	}
	lines := acc.Push([]byte("OK\n"))
	if len(lines) != 1 || lines[0] != "STATUS:OK" {
		t.Errorf("Push(\"OK\\n\") = %v, want [STATUS:OK]", lines)
	}
	if acc.Pending() != 0 {
		t.Errorf("Pending() = %d after complete line, want 0", acc.Pending())
	}
}

func TestAccumulatorMultipleLinesOneNotification(t *testing.T) {
	var acc Accumulator

	lines := acc.Push([]byte("ONE\nTWO\nTHR"))
	want := []string{"ONE", "TWO"}
	if len(lines) != len(want) {
		t.Fatalf("Push() returned %d lines, want %d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
	if acc.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3 (buffered \"THR\")", acc.Pending())
	}

	lines = acc.Push([]byte("EE\n"))
	if len(lines) != 1 || lines[0] != "THREE" {
		t.Errorf("final Push() = %v, want [THREE]", lines)
	}
}

func TestAccumulatorArbitraryBoundaries(t *testing.T) {
	// The same message must reassemble identically no matter where the
	// notification boundaries fall.
	const msg = "TEMP:21.5\nHUMID:40\nBATT:87\n"
	want := []string{"TEMP:21.5", "HUMID:40", "BATT:87"}

	for size := 1; size <= len(msg); size++ {
		var acc Accumulator
		var got []string
		for i := 0; i < len(msg); i += size {
			end := i + size
			if end > len(msg) {
				end = len(msg)
			}
			got = append(got, acc.Push([]byte(msg[i:end]))...)
		}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("fragment size %d: got %v, want %v", size, got, want)
		}
	}
}

func TestAccumulatorEmptyLine(t *testing.T) {
	var acc Accumulator
	lines := acc.Push([]byte("\n"))
	if len(lines) != 1 || lines[0] != "" {
		t.Errorf("Push(\"\\n\") = %v, want one empty line", lines)
	}
}
