// Package admin captures on-demand performance profiles of the running
// process.
package admin

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strconv"
	"sync"
	"time"

	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

const (
	DefaultDuration = 30 * time.Second
	MaxDuration     = 2 * time.Minute
)

// ErrBusy is returned while another collection is running
var ErrBusy = errors.New("a profile collection is already running")

// Profile is one collection. Each field holds pprof or trace output.
type Profile struct {
	Host      string
	Timestamp time.Time
	CPU       []byte
	Trace     []byte
	Heap      []byte
	Goroutine []byte
	Block     []byte
	Mutex     []byte
}

// Files returns the profile keyed by archive file name
func (p *Profile) Files() map[string][]byte {
	return map[string][]byte{
		"cpu.pprof":       p.CPU,
		"trace.out":       p.Trace,
		"heap.pprof":      p.Heap,
		"goroutine.pprof": p.Goroutine,
		"block.pprof":     p.Block,
		"mutex.pprof":     p.Mutex,
	}
}

// Profiler serializes collections; the runtime allows one CPU profile at a time
type Profiler struct {
	mu sync.Mutex
}

// NewProfiler creates a new profiler
func NewProfiler() *Profiler {
	return &Profiler{}
}

// Collect profiles the process for duration and then snapshots the
// heap, goroutine, block and mutex profiles
func (p *Profiler) Collect(ctx context.Context, duration time.Duration) (*Profile, error) {
	if !p.mu.TryLock() {
		return nil, ErrBusy
	}
	defer p.mu.Unlock()

	if duration <= 0 {
		duration = DefaultDuration
	}
	if duration > MaxDuration {
		duration = MaxDuration
	}

	var cpuBuf, traceBuf, heapBuf, goroutineBuf, blockBuf, mutexBuf bytes.Buffer

	// Block and mutex profiles are off by default; enable only while collecting
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	defer func() {
		runtime.SetBlockProfileRate(0)
		runtime.SetMutexProfileFraction(0)
	}()

	if err := pprof.StartCPUProfile(&cpuBuf); err != nil {
		return nil, fmt.Errorf("could not start CPU profile: %w", err)
	}
	if err := trace.Start(&traceBuf); err != nil {
		pprof.StopCPUProfile()
		return nil, fmt.Errorf("could not start trace: %w", err)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		pprof.StopCPUProfile()
		trace.Stop()
		return nil, ctx.Err()
	}

	pprof.StopCPUProfile()
	trace.Stop()

	if err := pprof.WriteHeapProfile(&heapBuf); err != nil {
		return nil, fmt.Errorf("could not write heap profile: %w", err)
	}
	for name, buf := range map[string]*bytes.Buffer{
		"goroutine": &goroutineBuf,
		"block":     &blockBuf,
		"mutex":     &mutexBuf,
	} {
		if prof := pprof.Lookup(name); prof != nil {
			_ = prof.WriteTo(buf, 0)
		}
	}

	host, _ := os.Hostname()
	return &Profile{
		Host:      host,
		Timestamp: time.Now(),
		CPU:       cpuBuf.Bytes(),
		Trace:     traceBuf.Bytes(),
		Heap:      heapBuf.Bytes(),
		Goroutine: goroutineBuf.Bytes(),
		Block:     blockBuf.Bytes(),
		Mutex:     mutexBuf.Bytes(),
	}, nil
}

// ServeHTTP runs a collection of ?seconds= and streams it back as a zip
func (p *Profiler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	duration := DefaultDuration
	if s := r.URL.Query().Get("seconds"); s != "" {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || n <= 0 {
			http.Error(w, "seconds must be a positive number", http.StatusBadRequest)
			return
		}
		duration = time.Duration(n * float64(time.Second))
	}

	logger.Info(ctx).Dur("duration", duration).Msg("collecting performance profile")
	prof, err := p.Collect(ctx, duration)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrBusy) {
			status = http.StatusConflict
		}
		logger.Warn(ctx).Err(err).Msg("profile collection failed")
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="profile-%s-%d.zip"`, prof.Host, prof.Timestamp.Unix()))

	zw := zip.NewWriter(w)
	for name, data := range prof.Files() {
		f, err := zw.Create(name)
		if err != nil {
			logger.Error(ctx).Err(err).Msg("write profile archive")
			return
		}
		if _, err := f.Write(data); err != nil {
			logger.Error(ctx).Err(err).Msg("write profile archive")
			return
		}
	}
	if err := zw.Close(); err != nil {
		logger.Error(ctx).Err(err).Msg("write profile archive")
	}
}
