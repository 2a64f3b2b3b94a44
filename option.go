package skald

import (
	"github.com/skaldb/skald/event"
	"github.com/skaldb/skald/scheduler"
	"github.com/skaldb/skald/service/meta"
	"github.com/skaldb/skald/topology"
)

// Option customises the engine facade.
type Option func(s *Service)

// WithConfig sets the configuration explicitly.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithConfigURL loads the configuration from the given location through the
// meta service.
func WithConfigURL(URL string) Option {
	return func(s *Service) { s.configURL = URL }
}

// WithMetaService sets the configuration document loader.
func WithMetaService(service *meta.Service) Option {
	return func(s *Service) { s.metaService = service }
}

// WithTopology overrides topology detection, e.g. with topology.Fake in
// tests.
func WithTopology(topo *topology.Topology) Option {
	return func(s *Service) { s.topo = topo }
}

// WithEventPublisher attaches a task lifecycle event stream.
func WithEventPublisher(publisher *event.Publisher[scheduler.TaskEvent]) Option {
	return func(s *Service) { s.events = publisher }
}
