package skald

import (
	"fmt"
	"time"

	"github.com/skaldb/skald/buffer"
)

// Config is a serialisable representation of the engine configuration. It can
// be populated from YAML or JSON. A zero nested field selects the package
// default, except Buffer.PoolBytes: a zero pool budget is rejected by
// Validate.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Buffer    BufferConfig    `json:"buffer" yaml:"buffer"`
}

// SchedulerConfig tunes the task scheduler.
type SchedulerConfig struct {
	// NumGroups is the task-grouping target; 0 means 4x the CPU count.
	NumGroups int `json:"numGroups" yaml:"numGroups"`

	// WaitPollMs is the drain poll interval of WaitForAllTasks.
	WaitPollMs int `json:"waitPollMs" yaml:"waitPollMs"`

	// ShutdownTimeoutMs aborts the drain when it makes no progress.
	ShutdownTimeoutMs int `json:"shutdownTimeoutMs" yaml:"shutdownTimeoutMs"`

	// PinWorkers binds worker threads to their CPUs.
	PinWorkers *bool `json:"pinWorkers" yaml:"pinWorkers"`
}

// BufferConfig tunes the buffer manager.
type BufferConfig struct {
	// PoolBytes is the residency budget.
	PoolBytes uint64 `json:"poolBytes" yaml:"poolBytes"`

	// SizeClasses lists the page sizes in bytes, ascending powers of two.
	SizeClasses []uint64 `json:"sizeClasses" yaml:"sizeClasses"`

	// StorageDir backs evicted dirty pages; empty disables write-back.
	StorageDir string `json:"storageDir" yaml:"storageDir"`

	// EnableNumaBinding moves fresh pages onto the allocating worker's node.
	EnableNumaBinding bool `json:"enableNumaBinding" yaml:"enableNumaBinding"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			WaitPollMs:        10,
			ShutdownTimeoutMs: 100_000,
		},
		Buffer: BufferConfig{
			PoolBytes:   256 << 20,
			SizeClasses: buffer.DefaultSizeClasses(),
		},
	}
}

// Validate returns an error describing the first invalid setting, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Scheduler.WaitPollMs < 0 {
		return fmt.Errorf("scheduler.waitPollMs must be >= 0")
	}
	if c.Scheduler.ShutdownTimeoutMs < 0 {
		return fmt.Errorf("scheduler.shutdownTimeoutMs must be >= 0")
	}
	if c.Buffer.PoolBytes == 0 {
		return fmt.Errorf("buffer.poolBytes must be > 0")
	}
	if len(c.Buffer.SizeClasses) > 0 {
		if err := buffer.SizeClasses(c.Buffer.SizeClasses).Validate(); err != nil {
			return fmt.Errorf("buffer.sizeClasses: %w", err)
		}
	}
	return nil
}

// WaitPoll returns the drain poll interval as a duration.
func (c *SchedulerConfig) WaitPoll() time.Duration {
	return time.Duration(c.WaitPollMs) * time.Millisecond
}

// ShutdownTimeout returns the drain abort threshold as a duration.
func (c *SchedulerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}
