package skald

import (
	"context"
	"fmt"
	"runtime"

	"github.com/skaldb/skald/buffer"
	"github.com/skaldb/skald/event"
	"github.com/skaldb/skald/internal/clock"
	"github.com/skaldb/skald/metrics"
	"github.com/skaldb/skald/scheduler"
	"github.com/skaldb/skald/service/meta"
	"github.com/skaldb/skald/topology"
)

// Service is the engine facade: it wires the topology, the task scheduler,
// the buffer manager and the shared metrics tracker. Construction is cheap;
// Start spawns the workers and Shutdown drains and joins them.
type Service struct {
	config      *Config
	configURL   string
	metaService *meta.Service
	topo        *topology.Topology
	runtime     *Runtime
	events      *event.Publisher[scheduler.TaskEvent]
}

// New creates an engine from the supplied options.
func New(options ...Option) (*Service, error) {
	s := &Service{runtime: &Runtime{}}
	for _, option := range options {
		option(s)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	if s.metaService == nil {
		s.metaService = meta.New(nil, "")
	}
	if s.configURL != "" {
		cfg := DefaultConfig()
		if err := s.metaService.Load(context.Background(), s.configURL, cfg); err != nil {
			return err
		}
		s.config = cfg
	}
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.topo == nil {
		s.topo = topology.Detect()
	}

	tracker := &metrics.Tracker{StartedAt: clock.Now()}
	s.runtime.metrics = tracker

	schedOpts := scheduler.DefaultOptions()
	if s.config.Scheduler.NumGroups > 0 {
		schedOpts.NumGroups = s.config.Scheduler.NumGroups
	}
	if s.config.Scheduler.WaitPollMs > 0 {
		schedOpts.WaitPoll = s.config.Scheduler.WaitPoll()
	}
	if s.config.Scheduler.ShutdownTimeoutMs > 0 {
		schedOpts.ShutdownTimeout = s.config.Scheduler.ShutdownTimeout()
	}
	if s.config.Scheduler.PinWorkers != nil {
		schedOpts.PinWorkers = *s.config.Scheduler.PinWorkers
	}

	schedulerOptions := []scheduler.Option{
		scheduler.WithOptions(schedOpts),
		scheduler.WithMetrics(tracker),
	}
	if s.events != nil {
		schedulerOptions = append(schedulerOptions, scheduler.WithEventPublisher(s.events))
	}
	s.runtime.scheduler = scheduler.New(s.topo, schedulerOptions...)
	tracker.InstanceID = s.runtime.scheduler.InstanceID()

	manager, err := buffer.NewManager(buffer.Options{
		PoolBytes:         s.config.Buffer.PoolBytes,
		SizeClasses:       buffer.SizeClasses(s.config.Buffer.SizeClasses),
		StorageDir:        s.config.Buffer.StorageDir,
		EnableNumaBinding: s.config.Buffer.EnableNumaBinding,
		Topology:          s.topo,
		Metrics:           tracker,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise buffer manager: %w", err)
	}
	s.runtime.buffers = manager
	return nil
}

// Runtime exposes the wired components.
func (s *Service) Runtime() *Runtime { return s.runtime }

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.config }

// Topology returns the NUMA layout the engine runs on.
func (s *Service) Topology() *topology.Topology { return s.topo }

// Start spawns one pinned worker per CPU and waits until all are ready.
func (s *Service) Start(ctx context.Context) error {
	return s.runtime.scheduler.Begin(ctx)
}

// Shutdown drains every queue, joins the workers and releases the buffer
// regions. It is idempotent.
func (s *Service) Shutdown() error {
	if err := s.runtime.scheduler.Finish(); err != nil {
		return err
	}
	if s.runtime.buffers != nil {
		if err := s.runtime.buffers.Close(); err != nil {
			return err
		}
		s.runtime.buffers = nil
	}
	return nil
}

// GOMAXPROCSHint returns the worker count the engine will spawn, useful for
// sizing the Go runtime before Start.
func (s *Service) GOMAXPROCSHint() int {
	if n := s.topo.NumCpus(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}
