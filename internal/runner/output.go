package runner

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// stepOutput fans every output line of a step out to the tail buffer, the
// event callback and the stream writer.
type stepOutput struct {
	r     *Runner
	base  Event
	mu    sync.Mutex
	tail  *tailBuffer
	label string
}

func (o *stepOutput) line(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tail.add(s)
	evt := o.base
	evt.Type = EventStepOutput
	evt.Line = s
	evt.When = time.Now()
	o.r.emit(evt)
	o.r.writeStream(o.label, s)
}

func (o *stepOutput) lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tail.lines()
}

// lineWriter is an io.Writer that forwards complete lines to a stepOutput.
type lineWriter struct {
	out *stepOutput
	buf bytes.Buffer
}

var _ io.Writer = (*lineWriter)(nil)

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.out.line(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush forwards a trailing partial line.
func (w *lineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.out.line(w.buf.String())
		w.buf.Reset()
	}
}

func (r *Runner) emit(evt Event) {
	if r.cfg.onEvent != nil {
		r.cfg.onEvent(evt)
	}
}

func (r *Runner) writeStream(label, line string) {
	if r.cfg.stdout == nil {
		return
	}
	r.writerMu.Lock()
	fmt.Fprintf(r.cfg.stdout, "%s | %s\n", label, line)
	r.writerMu.Unlock()
}
