package logger

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"time"
)

const smartBufferSize = 256 * 1024

// urgent markers cover both JSON ("level":"error") and console (ERROR) output
var urgentMarkers = [][]byte{
	[]byte(`"level":"error"`),
	[]byte(`"level":"fatal"`),
	[]byte(`"level":"panic"`),
	[]byte("ERROR "),
	[]byte("FATAL "),
}

// SmartWriter buffers log lines and flushes them when the buffer fills,
// on every flush interval, as soon as an error line arrives, or on Sync.
type SmartWriter struct {
	mu        sync.Mutex
	bufWriter *bufio.Writer
	interval  time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewSmartWriter creates a new SmartWriter
func NewSmartWriter(w io.Writer, flushInterval time.Duration) *SmartWriter {
	sw := &SmartWriter{
		bufWriter: bufio.NewWriterSize(w, smartBufferSize),
		interval:  flushInterval,
		stopChan:  make(chan struct{}),
	}

	sw.wg.Add(1)
	go sw.runFlusher()
	return sw
}

// Write implements io.Writer
func (sw *SmartWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	n, err := sw.bufWriter.Write(p)
	if err != nil {
		return n, err
	}
	if isUrgent(p) {
		err = sw.bufWriter.Flush()
	}
	return n, err
}

func isUrgent(p []byte) bool {
	for _, m := range urgentMarkers {
		if bytes.Contains(p, m) {
			return true
		}
	}
	return false
}

// Sync flushes the buffer
func (sw *SmartWriter) Sync() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.bufWriter.Flush()
}

// Close flushes and stops the background flusher. Safe to call twice.
func (sw *SmartWriter) Close() error {
	sw.stopOnce.Do(func() {
		close(sw.stopChan)
	})
	sw.wg.Wait()
	return sw.Sync()
}

func (sw *SmartWriter) runFlusher() {
	defer sw.wg.Done()
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = sw.Sync()
		case <-sw.stopChan:
			return
		}
	}
}
