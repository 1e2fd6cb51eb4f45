package cluster

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Instance is one supervised backend.
type Instance struct {
	Ordinal int
	Port    int
	URL     string
	Started time.Time

	proc Process
	sink io.WriteCloser
	done chan struct{}

	mu      sync.Mutex
	exitErr error
	exited  time.Time
}

func newInstance(ordinal, port int, host string, proc Process, sink io.WriteCloser, now func() time.Time) *Instance {
	inst := &Instance{
		Ordinal: ordinal,
		Port:    port,
		URL:     fmt.Sprintf("http://%s:%d", host, port),
		Started: now(),
		proc:    proc,
		sink:    sink,
		done:    make(chan struct{}),
	}
	go func() {
		err := proc.Wait()
		inst.mu.Lock()
		inst.exitErr = err
		inst.exited = now()
		inst.mu.Unlock()
		close(inst.done)
	}()
	return inst
}

// Pid returns the process id.
func (i *Instance) Pid() int {
	return i.proc.Pid()
}

// Alive reports whether the process is still running.
func (i *Instance) Alive() bool {
	select {
	case <-i.done:
		return false
	default:
		return true
	}
}

// Done is closed when the process exits.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// ExitErr returns the error the process exited with, if it has exited.
func (i *Instance) ExitErr() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exitErr
}

func (i *Instance) exitTime() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exited
}

func (i *Instance) closeSink() error {
	if i.sink == nil {
		return nil
	}
	return i.sink.Close()
}
