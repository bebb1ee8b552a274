package transcript

import (
	"fmt"
	"io"
	"sync"
)

// WriterSink prints events to an io.Writer, one "Transcription: <text>" line
// per event. Empty texts are skipped.
type WriterSink struct {
	mu         sync.Mutex
	w          io.Writer
	finalsOnly bool
}

// NewWriterSink returns a sink writing to w. With finalsOnly set, partial
// results are not printed.
func NewWriterSink(w io.Writer, finalsOnly bool) *WriterSink {
	return &WriterSink{w: w, finalsOnly: finalsOnly}
}

// Deliver implements [Sink].
func (s *WriterSink) Deliver(e Event) {
	if e.Text == "" || (s.finalsOnly && !e.IsFinal) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "Transcription: %s\n", e.Text)
}
