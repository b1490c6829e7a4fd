package logging

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LogInterceptor prefixes every complete line written to it with a sequence
// number and a timestamp. Partial lines are held until the newline arrives or Close.
type LogInterceptor struct {
	target io.Writer
	seq    atomic.Uint64
	now    func() time.Time

	mu  sync.Mutex
	buf bytes.Buffer
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target, now: time.Now}
}

func (i *LogInterceptor) writeLine(line []byte) error {
	prefix := slog.Uint64("line", i.seq.Add(1)).String() + " " +
		slog.String("time", i.now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(i.target, prefix); err != nil {
		return err
	}
	if _, err := i.target.Write(line); err != nil {
		return err
	}
	_, err := io.WriteString(i.target, "\n")
	return err
}

// Write always reports len(p) on success since the prefixes are not part of the caller's data
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.buf.Write(p)
	for {
		idx := bytes.IndexByte(i.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(i.buf.Next(idx+1)[:idx], []byte("\r"))
		if err := i.writeLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.buf.Len() == 0 {
		return nil
	}
	line := append([]byte(nil), i.buf.Bytes()...)
	i.buf.Reset()
	return i.writeLine(line)
}
