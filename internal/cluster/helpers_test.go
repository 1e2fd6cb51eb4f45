package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type fakeProc struct {
	pid        int
	ignoreTerm bool
	done       chan struct{}
	once       sync.Once
	terminated atomic.Bool
	killed     atomic.Bool
}

func newFakeProc(pid int, ignoreTerm bool) *fakeProc {
	return &fakeProc{pid: pid, ignoreTerm: ignoreTerm, done: make(chan struct{})}
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) Terminate() error {
	p.terminated.Store(true)
	if !p.ignoreTerm {
		p.exit()
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.killed.Store(true)
	p.exit()
	return nil
}

func (p *fakeProc) Wait() error {
	<-p.done
	if p.killed.Load() {
		return errors.New("signal: killed")
	}
	return nil
}

func (p *fakeProc) exit() {
	p.once.Do(func() { close(p.done) })
}

type fakeLauncher struct {
	mu         sync.Mutex
	specs      []InstanceSpec
	procs      []*fakeProc
	failAt     int
	ignoreTerm bool
}

func (l *fakeLauncher) Launch(_ context.Context, spec InstanceSpec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if spec.Ordinal == l.failAt {
		return nil, fmt.Errorf("launch %d refused", spec.Ordinal)
	}
	p := newFakeProc(1000+spec.Ordinal, l.ignoreTerm)
	l.specs = append(l.specs, spec)
	l.procs = append(l.procs, p)
	return p, nil
}

type recordSink struct {
	path   string
	closed atomic.Bool
}

func (s *recordSink) Write(p []byte) (int, error) { return len(p), nil }

func (s *recordSink) Close() error {
	s.closed.Store(true)
	return nil
}

type sinkRecorder struct {
	mu    sync.Mutex
	sinks []*recordSink
}

func (r *sinkRecorder) open(path string) io.WriteCloser {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &recordSink{path: path}
	r.sinks = append(r.sinks, s)
	return s
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return r.err
}
