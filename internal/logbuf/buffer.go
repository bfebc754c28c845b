package logbuf

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Buffer is a thread-safe, line-oriented capture buffer. It implements
// io.Writer so it can be wired directly as a process's stdout/stderr.
//
// Unlike a ring buffer it never discards lines: the supervisor replays the
// dependency's entire output at teardown, so truncation would lose exactly
// the diagnostics the replay exists for.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	// partial holds an incomplete line (no trailing newline yet)
	partial bytes.Buffer
}

// New creates an empty capture buffer.
func New() *Buffer {
	return &Buffer{}
}

// Write implements io.Writer. Splits input on newlines and stores each line.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)

	for {
		line, err := b.partial.ReadString('\n')
		if err != nil {
			// No more complete lines, put the partial back
			b.partial.Reset()
			b.partial.WriteString(line)
			break
		}
		b.lines = append(b.lines, strings.TrimRight(line, "\n"))
	}

	return len(p), nil
}

// Lines returns all captured lines in order, including any trailing
// partial line.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]string, len(b.lines), len(b.lines)+1)
	copy(result, b.lines)
	if b.partial.Len() > 0 {
		result = append(result, b.partial.String())
	}
	return result
}

// Last returns the last n lines. If fewer lines exist, returns all of them.
func (b *Buffer) Last(n int) []string {
	all := b.Lines()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of complete lines captured so far.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Reader returns an io.Reader over the current buffer contents.
func (b *Buffer) Reader() io.Reader {
	return strings.NewReader(strings.Join(b.Lines(), "\n"))
}
