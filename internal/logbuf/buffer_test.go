package logbuf

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestWriteSplitsLines(t *testing.T) {
	b := New()
	b.Write([]byte("one\ntwo\nthree\n"))

	lines := b.Lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(lines), lines)
	}
	if lines[0] != "one" || lines[2] != "three" {
		t.Errorf("unexpected lines: %v", lines)
	}
}

func TestPartialLineHeldBack(t *testing.T) {
	b := New()
	b.Write([]byte("start"))

	if b.Len() != 0 {
		t.Errorf("partial write should not produce a complete line, got %d", b.Len())
	}
	// The partial still shows up in a replay
	lines := b.Lines()
	if len(lines) != 1 || lines[0] != "start" {
		t.Errorf("expected partial line in Lines(), got %v", lines)
	}

	b.Write([]byte(" end\n"))
	lines = b.Lines()
	if len(lines) != 1 || lines[0] != "start end" {
		t.Errorf("expected joined line, got %v", lines)
	}
}

func TestNeverTruncates(t *testing.T) {
	b := New()
	const n = 5000
	for i := 0; i < n; i++ {
		fmt.Fprintf(b, "line %d\n", i)
	}

	lines := b.Lines()
	if len(lines) != n {
		t.Fatalf("expected %d lines, got %d", n, len(lines))
	}
	if lines[0] != "line 0" {
		t.Errorf("oldest line lost: %q", lines[0])
	}
	if lines[n-1] != fmt.Sprintf("line %d", n-1) {
		t.Errorf("newest line wrong: %q", lines[n-1])
	}
}

func TestLast(t *testing.T) {
	b := New()
	b.Write([]byte("a\nb\nc\nd\n"))

	last := b.Last(2)
	if len(last) != 2 || last[0] != "c" || last[1] != "d" {
		t.Errorf("expected [c d], got %v", last)
	}

	if got := b.Last(100); len(got) != 4 {
		t.Errorf("Last(100) should return all lines, got %d", len(got))
	}
}

func TestReader(t *testing.T) {
	b := New()
	b.Write([]byte("hello\nworld\n"))

	data, err := io.ReadAll(b.Reader())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\nworld" {
		t.Errorf("unexpected reader contents: %q", data)
	}
}

func TestConcurrentWriters(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				fmt.Fprintf(b, "writer-%d line %d\n", id, j)
			}
		}(i)
	}
	wg.Wait()

	if b.Len() != 800 {
		t.Errorf("expected 800 lines, got %d", b.Len())
	}
	for _, line := range b.Lines() {
		if !strings.HasPrefix(line, "writer-") {
			t.Fatalf("interleaved write produced garbled line %q", line)
		}
	}
}
