package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Defaults for instance log rotation.
const (
	DefaultLogMaxSize    = 10 // megabytes
	DefaultLogMaxBackups = 3
	DefaultLogMaxAge     = 7 // days
)

// Config describes the cluster.
type Config struct {
	Instances    int
	BasePort     int
	Host         string
	Stagger      time.Duration
	GracePeriod  time.Duration
	PollInterval time.Duration
	LogDir       string
}

// ExitEvent reports an instance that exited without being asked to.
type ExitEvent struct {
	Ordinal int
	Port    int
	Pid     int
	Err     error
	At      time.Time
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSleep replaces the stagger delay.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) SupervisorOption {
	return func(s *Supervisor) { s.sleep = fn }
}

// WithLogSink replaces the per-instance log writer factory.
func WithLogSink(fn func(path string) io.WriteCloser) SupervisorOption {
	return func(s *Supervisor) { s.newSink = fn }
}

// Supervisor starts, watches and stops a fixed set of instances.
type Supervisor struct {
	config   Config
	launcher Launcher
	sleep    func(ctx context.Context, d time.Duration) error
	newSink  func(path string) io.WriteCloser
	now      func() time.Time
	logger   *log.Logger

	mu        sync.Mutex
	instances []*Instance
	reported  map[int]bool
	exits     chan ExitEvent
	stopping  atomic.Bool
}

// New returns a Supervisor. Nothing is started until Start.
func New(config Config, launcher Launcher, opts ...SupervisorOption) (*Supervisor, error) {
	if launcher == nil {
		return nil, fmt.Errorf("launcher cannot be nil")
	}
	if config.Instances < 1 {
		return nil, fmt.Errorf("instances must be at least 1, got %d", config.Instances)
	}
	if config.BasePort < 1 || config.BasePort+config.Instances-1 > 65535 {
		return nil, fmt.Errorf("base port %d leaves no room for %d instances", config.BasePort, config.Instances)
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.LogDir == "" {
		config.LogDir = "logs"
	}

	s := &Supervisor{
		config:   config,
		launcher: launcher,
		sleep:    sleepContext,
		newSink:  rotatingSink,
		now:      time.Now,
		logger:   log.WithPrefix("cluster"),
		reported: make(map[int]bool),
		exits:    make(chan ExitEvent, config.Instances),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements Component.
func (s *Supervisor) Name() string {
	return "cluster supervisor"
}

// LogPath returns the log file of the instance with the given ordinal.
func (s *Supervisor) LogPath(ordinal int) string {
	return filepath.Join(s.config.LogDir, fmt.Sprintf("instance_%d.log", ordinal))
}

// Start launches every instance on consecutive ports, waiting the stagger
// delay between launches. If any launch fails the instances already running
// are stopped.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if len(s.instances) > 0 {
		s.mu.Unlock()
		return fmt.Errorf("cluster already started")
	}
	s.mu.Unlock()

	n := s.config.Instances
	s.logger.Info("Starting cluster", "instances", n, "base_port", s.config.BasePort, "stagger", s.config.Stagger)

	for i := 0; i < n; i++ {
		ordinal := i + 1
		port := s.config.BasePort + i
		logPath := s.LogPath(ordinal)
		sink := s.newSink(logPath)

		proc, err := s.launcher.Launch(ctx, InstanceSpec{Ordinal: ordinal, Port: port, Output: sink})
		if err != nil {
			_ = sink.Close()
			s.logger.Error("Instance failed to start", "instance", ordinal, "port", port, "error", err)
			s.ForceStop()
			return err
		}

		inst := newInstance(ordinal, port, s.config.Host, proc, sink, s.now)
		s.mu.Lock()
		s.instances = append(s.instances, inst)
		s.mu.Unlock()
		s.logger.Info("Instance started", "instance", ordinal, "port", port, "pid", proc.Pid(), "log", logPath)

		if i < n-1 && s.config.Stagger > 0 {
			s.logger.Info("Waiting before next instance", "delay", s.config.Stagger)
			if err := s.sleep(ctx, s.config.Stagger); err != nil {
				s.ForceStop()
				return fmt.Errorf("cluster start interrupted: %w", err)
			}
		}
	}
	return nil
}

// Instances returns the started instances in start order.
func (s *Supervisor) Instances() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Instance(nil), s.instances...)
}

// Backends returns the base URL of every instance in start order.
func (s *Supervisor) Backends() []string {
	instances := s.Instances()
	urls := make([]string, len(instances))
	for i, inst := range instances {
		urls[i] = inst.URL
	}
	return urls
}

// Exits delivers one event per instance that exits on its own while
// Monitor runs.
func (s *Supervisor) Exits() <-chan ExitEvent {
	return s.exits
}

// Monitor polls instance liveness until ctx is done.
func (s *Supervisor) Monitor(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Supervisor) check() {
	if s.stopping.Load() {
		return
	}
	for _, inst := range s.Instances() {
		if inst.Alive() {
			continue
		}
		s.mu.Lock()
		seen := s.reported[inst.Ordinal]
		s.reported[inst.Ordinal] = true
		s.mu.Unlock()
		if seen {
			continue
		}

		event := ExitEvent{
			Ordinal: inst.Ordinal,
			Port:    inst.Port,
			Pid:     inst.Pid(),
			Err:     inst.ExitErr(),
			At:      inst.exitTime(),
		}
		s.logger.Warn("Instance exited unexpectedly", "instance", event.Ordinal, "port", event.Port, "pid", event.Pid, "error", event.Err)
		select {
		case s.exits <- event:
		default:
		}
	}
}

// Shutdown terminates every instance and waits up to the grace period for
// each to exit, killing those that do not.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stopping.Store(true)
	instances := s.Instances()
	if len(instances) == 0 {
		return nil
	}
	s.logger.Info("Stopping instances", "count", len(instances), "grace_period", s.config.GracePeriod)

	var g errgroup.Group
	var killed atomic.Int32
	for _, inst := range instances {
		g.Go(func() error {
			defer inst.closeSink()
			if !inst.Alive() {
				return nil
			}
			if err := inst.proc.Terminate(); err != nil {
				s.logger.Warn("Failed to terminate instance", "instance", inst.Ordinal, "error", err)
			}

			grace := time.NewTimer(s.config.GracePeriod)
			defer grace.Stop()
			select {
			case <-inst.done:
				s.logger.Debug("Instance stopped", "instance", inst.Ordinal)
				return nil
			case <-grace.C:
			case <-ctx.Done():
			}

			s.logger.Warn("Instance did not stop in time, killing", "instance", inst.Ordinal, "pid", inst.Pid())
			killed.Add(1)
			if err := inst.proc.Kill(); err != nil {
				return fmt.Errorf("kill instance %d: %w", inst.Ordinal, err)
			}
			<-inst.done
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("All instances stopped", "killed", killed.Load())
	return nil
}

// ForceStop kills every instance that is still running.
func (s *Supervisor) ForceStop() error {
	s.stopping.Store(true)
	var errs []error
	for _, inst := range s.Instances() {
		if inst.Alive() {
			if err := inst.proc.Kill(); err != nil {
				errs = append(errs, fmt.Errorf("kill instance %d: %w", inst.Ordinal, err))
			}
		}
		_ = inst.closeSink()
	}
	return errors.Join(errs...)
}

func rotatingSink(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    DefaultLogMaxSize,
		MaxBackups: DefaultLogMaxBackups,
		MaxAge:     DefaultLogMaxAge,
		Compress:   true,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
