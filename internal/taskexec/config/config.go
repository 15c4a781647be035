// Package config loads the agent's resource specifications and tunables.
//
// Properties come from a YAML document (usually served by the central config
// service and materialized to disk by the deployment). The remote service
// itself stays behind the Source interface; the agent only sees Properties
// and a cache time-to-live.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/majorhost/taskexec/internal/taskexec/runtime"
	"github.com/majorhost/taskexec/internal/taskexec/service"
)

// ScheduleEntry configures one recurring task class.
type ScheduleEntry struct {
	// Daily triggers once a day at the given wall-clock time.
	Daily bool `yaml:"daily"`
	// At is the daily trigger time, "HH:MM" (24h). Required when Daily.
	At string `yaml:"at"`
	// Interval triggers on a fixed period. Ignored when Daily.
	Interval time.Duration `yaml:"interval"`
	// Mode is "parallel" (independent targets run concurrently) or
	// "serial" (one target at a time). Defaults to serial.
	Mode string `yaml:"mode"`
}

// ServiceDecl declares one managed service of this host.
type ServiceDecl struct {
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind"`
	Image       string            `yaml:"image"`
	NetworkMode string            `yaml:"networkMode"`
	Hostname    string            `yaml:"hostname"`
	Mounts      []runtime.Mount   `yaml:"mounts"`
	Env         map[string]string `yaml:"env"`
}

// Spec converts the declaration into the reconciler's service spec.
func (d ServiceDecl) Spec() service.Spec {
	return service.Spec{
		Name:        d.Name,
		Kind:        service.Kind(d.Kind),
		Image:       d.Image,
		Mounts:      d.Mounts,
		NetworkMode: d.NetworkMode,
		Hostname:    d.Hostname,
		Env:         d.Env,
	}
}

// RetrySettings bound task re-execution.
type RetrySettings struct {
	// MaxAttempts is the total attempts per task, including the first.
	MaxAttempts int `yaml:"maxAttempts"`
	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration `yaml:"initialDelay"`
}

// QueueSettings locate the task queue backend.
type QueueSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Properties is the full tunable surface of the agent.
type Properties struct {
	// Hostname identifies this agent's queue namespace. Defaults to the
	// OS hostname.
	Hostname string `yaml:"hostname"`
	// EnabledResources lists the resource types this host manages.
	EnabledResources []string `yaml:"enabledResources"`
	// Pools sizes the per-resource-type worker pools. The special key
	// "backup" sizes the dedicated backup pool.
	Pools map[string]int `yaml:"pools"`
	// DefaultPoolSize applies to resource types absent from Pools.
	DefaultPoolSize int `yaml:"defaultPoolSize"`
	// Retry bounds task re-execution.
	Retry RetrySettings `yaml:"retry"`
	// TaskTimeout is the per-task execution budget.
	TaskTimeout time.Duration `yaml:"taskTimeout"`
	// Schedule keys recurring task classes by "<resource-type>.<operation>".
	Schedule map[string]ScheduleEntry `yaml:"schedule"`
	// Services declares the containerized services of this host.
	Services []ServiceDecl `yaml:"services"`
	// Queue locates the task queue backend.
	Queue QueueSettings `yaml:"queue"`
}

// Defaults applied by Validate when fields are zero.
const (
	DefaultPoolSize    = 4
	DefaultMaxAttempts = 3
	DefaultTaskTimeout = 10 * time.Minute
)

// Parse decodes and validates a YAML properties document.
func Parse(data []byte) (*Properties, error) {
	var p Properties
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate fills defaults and rejects malformed entries.
func (p *Properties) Validate() error {
	if p.Hostname == "" {
		hn, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("config: hostname unset and unavailable: %w", err)
		}
		p.Hostname = hn
	}
	if p.DefaultPoolSize <= 0 {
		p.DefaultPoolSize = DefaultPoolSize
	}
	for name, size := range p.Pools {
		if size <= 0 {
			return fmt.Errorf("config: pool %q size must be positive, got %d", name, size)
		}
	}
	if p.Retry.MaxAttempts <= 0 {
		p.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if p.Retry.InitialDelay <= 0 {
		p.Retry.InitialDelay = time.Second
	}
	if p.TaskTimeout <= 0 {
		p.TaskTimeout = DefaultTaskTimeout
	}
	for key, entry := range p.Schedule {
		if entry.Daily {
			if _, err := time.Parse("15:04", entry.At); err != nil {
				return fmt.Errorf("config: schedule %q: daily requires at=HH:MM: %w", key, err)
			}
		} else if entry.Interval <= 0 {
			return fmt.Errorf("config: schedule %q: interval must be positive", key)
		}
		switch entry.Mode {
		case "", "serial", "parallel":
		default:
			return fmt.Errorf("config: schedule %q: unknown mode %q", key, entry.Mode)
		}
	}
	seen := make(map[string]struct{}, len(p.Services))
	for _, d := range p.Services {
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("config: duplicate service %q", d.Name)
		}
		seen[d.Name] = struct{}{}
		if err := d.Spec().Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// ServiceByName looks up a declared service.
func (p *Properties) ServiceByName(name string) (ServiceDecl, bool) {
	for _, d := range p.Services {
		if d.Name == name {
			return d, true
		}
	}
	return ServiceDecl{}, false
}

// PoolSize returns the configured pool size for a resource type.
func (p *Properties) PoolSize(resourceType string) int {
	if size, ok := p.Pools[resourceType]; ok {
		return size
	}
	return p.DefaultPoolSize
}
