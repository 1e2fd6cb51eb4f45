package cluster

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderLog struct {
	mu    sync.Mutex
	names []string
}

func (o *orderLog) add(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
}

type fakeComponent struct {
	name        string
	log         *orderLog
	shutdownErr error
	forced      bool
}

func (c *fakeComponent) Name() string { return c.name }

func (c *fakeComponent) Shutdown(context.Context) error {
	c.log.add(c.name)
	return c.shutdownErr
}

func (c *fakeComponent) ForceStop() error {
	c.forced = true
	return nil
}

// recorded notes when a real component begins its shutdown.
type recorded struct {
	Component
	log *orderLog
}

func (r recorded) Shutdown(ctx context.Context) error {
	r.log.add(r.Name())
	return r.Component.Shutdown(ctx)
}

func TestLifecycle_ReverseOrder(t *testing.T) {
	order := &orderLog{}
	lc := NewLifecycle(time.Second)
	lc.Register(&fakeComponent{name: "first", log: order})
	lc.Register(&fakeComponent{name: "second", log: order})
	lc.Register(&fakeComponent{name: "third", log: order})

	require.NoError(t, lc.Shutdown(context.Background()))
	assert.Equal(t, []string{"third", "second", "first"}, order.names)

	// runs once
	require.NoError(t, lc.Shutdown(context.Background()))
	assert.Len(t, order.names, 3)

	lc.Register(&fakeComponent{name: "late", log: order})
	require.NoError(t, lc.Shutdown(context.Background()))
	assert.Len(t, order.names, 3)
}

func TestLifecycle_ForceStopOnFailure(t *testing.T) {
	order := &orderLog{}
	failing := &fakeComponent{name: "failing", log: order, shutdownErr: errors.New("stuck")}
	fine := &fakeComponent{name: "fine", log: order}

	lc := NewLifecycle(0)
	lc.Register(fine)
	lc.Register(failing)

	require.NoError(t, lc.Shutdown(context.Background()))
	assert.True(t, failing.forced)
	assert.False(t, fine.forced)
	assert.Equal(t, []string{"failing", "fine"}, order.names)
}

func TestLifecycle_DispatcherStopsBeforeInstances(t *testing.T) {
	launcher := &fakeLauncher{}
	sup, _, _ := newTestSupervisor(t, Config{Instances: 2, BasePort: 9000, GracePeriod: time.Second}, launcher)
	require.NoError(t, sup.Start(context.Background()))

	d, err := NewDispatcher(sup.Backends(), time.Second)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	proxy := NewProxyServer(ln.Addr().String(), d)
	served := make(chan error, 1)
	go func() { served <- proxy.Serve(ln) }()

	order := &orderLog{}
	lc := NewLifecycle(5 * time.Second)
	lc.Register(recorded{Component: sup, log: order})
	lc.Register(recorded{Component: proxy, log: order})

	require.NoError(t, lc.Shutdown(context.Background()))
	assert.Equal(t, []string{"dispatcher", "cluster supervisor"}, order.names)
	require.NoError(t, <-served)

	_, err = http.Get("http://" + ln.Addr().String() + "/")
	assert.Error(t, err)
	for _, p := range launcher.procs {
		assert.True(t, p.terminated.Load())
	}
}
