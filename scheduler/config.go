package scheduler

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the Scheduler's externally loadable configuration, mirroring
// the teacher's SchedulerConfig struct-tag style (modules/scheduler/
// config.go) generalized from a job scheduler to this real-time kernel.
type Config struct {
	// Policy is the initial scheduling policy: "EDF", "RMS" or "FIXED".
	Policy string `json:"policy" yaml:"policy" toml:"policy" env:"SCHEDULER_POLICY"`

	// Preemption selects "cooperative" (default) or "strict" preemption
	// of non-eligible tasks, per SPEC_FULL.md §E.1.
	Preemption string `json:"preemption" yaml:"preemption" toml:"preemption" env:"SCHEDULER_PREEMPTION"`

	// TickInterval is how often the preemption loop re-evaluates policy
	// and eligibility.
	TickInterval time.Duration `json:"tickInterval" yaml:"tickInterval" toml:"tick_interval" env:"SCHEDULER_TICK_INTERVAL"`

	// ShutdownGrace bounds how long StopAll/RemoveTask wait for
	// cooperative termination before forcing it.
	ShutdownGrace time.Duration `json:"shutdownGrace" yaml:"shutdownGrace" toml:"shutdown_grace" env:"SCHEDULER_SHUTDOWN_GRACE"`

	// MailboxCapacity bounds each task's mailbox; 0 selects
	// mailbox.DefaultCapacity.
	MailboxCapacity int `json:"mailboxCapacity" yaml:"mailboxCapacity" toml:"mailbox_capacity" env:"SCHEDULER_MAILBOX_CAPACITY"`

	// RestartRatePerMinute bounds Supervisor restarts per task per
	// minute, addressing spec.md §9's flapping Open Question.
	RestartRatePerMinute int `json:"restartRatePerMinute" yaml:"restartRatePerMinute" toml:"restart_rate_per_minute" env:"SCHEDULER_RESTART_RATE_PER_MINUTE"`
}

// DefaultConfig returns sane defaults, matching the teacher's pattern of
// an explicit default-config constructor.
func DefaultConfig() Config {
	return Config{
		Policy:               "EDF",
		Preemption:           "cooperative",
		TickInterval:         time.Millisecond,
		ShutdownGrace:        time.Second,
		MailboxCapacity:      0,
		RestartRatePerMinute: 5,
	}
}

// LoadYAML loads a Config from a YAML file, starting from DefaultConfig.
func LoadYAML(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("scheduler: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("scheduler: parse yaml config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads a Config from a TOML file, starting from DefaultConfig.
func LoadTOML(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("scheduler: parse toml config: %w", err)
	}
	return cfg, nil
}

func (c Config) policy() (Policy, error) {
	switch c.Policy {
	case "", "EDF":
		return PolicyEDF, nil
	case "RMS":
		return PolicyRMS, nil
	case "FIXED":
		return PolicyFixed, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, c.Policy)
	}
}

func (c Config) preemption() PreemptionMode {
	if c.Preemption == "strict" {
		return PreemptionStrict
	}
	return PreemptionCooperative
}

// withDefaults fills any non-positive duration field from DefaultConfig,
// so a hand-constructed Config (e.g. Config{Policy: "EDF"}, valid input
// since every field is exported) can't reach time.NewTicker with a
// zero/negative interval and panic, and can't silently turn
// RemoveTask/StopAll into always-forced termination via a zero grace
// period.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaults.ShutdownGrace
	}
	return c
}
