package supervisor

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if b.limit > 0 && len(b.buf) > b.limit {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.limit:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// lineLogger logs every complete line at debug level
type lineLogger struct {
	logger  zerolog.Logger
	stream  string
	partial []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.emit(l.partial[:i])
		l.partial = l.partial[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	if len(l.partial) > 0 {
		l.emit(l.partial)
		l.partial = nil
	}
}

func (l *lineLogger) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	l.logger.Debug().Str("stream", l.stream).Msg(text)
}

// pipeCapture reads one output stream of the child. The write end is an
// *os.File handed to exec directly, so cmd.Wait returns as soon as the child
// exits even if a grandchild still holds the pipe open.
type pipeCapture struct {
	r    *os.File
	w    *os.File
	tail *tailBuffer
	line *lineLogger
	done chan struct{}
}

func newPipeCapture(logger zerolog.Logger, stream string, limit int) (*pipeCapture, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &pipeCapture{
		r:    r,
		w:    w,
		tail: &tailBuffer{limit: limit},
		line: &lineLogger{logger: logger, stream: stream},
		done: make(chan struct{}),
	}, nil
}

// start begins copying; call it after the child has been started
func (p *pipeCapture) start() {
	p.w.Close()
	go func() {
		defer close(p.done)
		_, _ = io.Copy(io.MultiWriter(p.tail, p.line), p.r)
		p.line.flush()
	}()
}

// finish waits up to delay for the stream to drain, then closes it
func (p *pipeCapture) finish(delay time.Duration) string {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
	}
	p.r.Close()
	<-p.done
	return strings.TrimSpace(p.tail.String())
}

// abort releases both ends when the child never started
func (p *pipeCapture) abort() {
	p.w.Close()
	p.r.Close()
}
