// Package service contains the declarative service model and the reconciler
// that drives container-runtime operations to match it.
package service

import (
	"encoding/json"
	"fmt"

	"github.com/majorhost/taskexec/internal/taskexec/runtime"
)

// Kind identifies a managed service variant. The set is closed: each kind
// carries its own reload semantics.
type Kind string

const (
	KindWebProxy  Kind = "web-proxy"
	KindAppServer Kind = "app-server"
	KindDatabase  Kind = "database"
	KindCron      Kind = "cron"
	KindMailRelay Kind = "mail-relay"
)

// Spec is the declarative description of one containerized system service.
// It is owned by the resource-type handler that constructed it from
// configuration and read-only to the reconciler.
type Spec struct {
	// Name is unique per host and doubles as the container name.
	Name string
	// Kind selects the reload strategy.
	Kind Kind
	// Image is the image reference to run.
	Image string
	// Mounts is the ordered mount list. Targets must be unique.
	Mounts []runtime.Mount
	// NetworkMode is the container network mode ("host" for most services).
	NetworkMode string
	// Hostname inside the container (ignored with host networking).
	Hostname string
	// Env holds environment entries for the service process.
	Env map[string]string
}

// Validate checks the structural invariants of the spec. Violations are
// configuration problems: the caller should treat them as terminal.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("service spec: name is required")
	}
	if s.Image == "" {
		return fmt.Errorf("service spec %s: image reference is required", s.Name)
	}
	seen := make(map[string]struct{}, len(s.Mounts))
	for _, m := range s.Mounts {
		if m.Target == "" {
			return fmt.Errorf("service spec %s: mount target is required", s.Name)
		}
		if _, dup := seen[m.Target]; dup {
			return fmt.Errorf("service spec %s: duplicate mount target %s", s.Name, m.Target)
		}
		seen[m.Target] = struct{}{}
		switch m.Kind {
		case runtime.MountBind:
			if m.Source == "" {
				return fmt.Errorf("service spec %s: bind mount %s needs a source", s.Name, m.Target)
			}
		case runtime.MountTmpfs:
			if m.Source != "" {
				return fmt.Errorf("service spec %s: tmpfs mount %s must not have a source", s.Name, m.Target)
			}
		default:
			return fmt.Errorf("service spec %s: mount %s has unknown kind %q", s.Name, m.Target, m.Kind)
		}
	}
	return nil
}

const (
	// RunHintsLabel carries the serialized effective run arguments on the
	// running container, so an operator can reconstruct the run command
	// without consulting agent state.
	RunHintsLabel = "taskexec.run-hints"

	// RunHintsVersion is bumped whenever the RunHints wire shape changes.
	RunHintsVersion = 1

	// ExecLabelPrefix marks image labels that define commands executable
	// inside the container ("taskexec.exec.reload-cmd", ...).
	ExecLabelPrefix = "taskexec.exec."
)

// RunHints is the typed, versioned serialization of the effective run
// arguments. It is the audit/recovery trail of the agent.
type RunHints struct {
	Version     int             `json:"version"`
	Name        string          `json:"name"`
	Image       string          `json:"image"`
	Mounts      []runtime.Mount `json:"mounts,omitempty"`
	NetworkMode string          `json:"networkMode,omitempty"`
	Hostname    string          `json:"hostname,omitempty"`
}

// HintsFor computes the run hints for a spec.
func HintsFor(s Spec) RunHints {
	return RunHints{
		Version:     RunHintsVersion,
		Name:        s.Name,
		Image:       s.Image,
		Mounts:      s.Mounts,
		NetworkMode: s.NetworkMode,
		Hostname:    s.Hostname,
	}
}

// Encode serializes the hints for storage in a container label.
func (h RunHints) Encode() (string, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode run hints for %s: %w", h.Name, err)
	}
	return string(b), nil
}

// ParseRunHints recovers hints from a container label value.
func ParseRunHints(s string) (RunHints, error) {
	var h RunHints
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return RunHints{}, fmt.Errorf("parse run hints: %w", err)
	}
	if h.Version != RunHintsVersion {
		return RunHints{}, fmt.Errorf("parse run hints: unsupported version %d", h.Version)
	}
	return h, nil
}

// Equal reports whether two hint sets describe the same effective run
// arguments. Any divergence means the live container needs full recreation;
// specs are deliberately not diffed field-by-field beyond this.
func (h RunHints) Equal(other RunHints) bool {
	a, errA := json.Marshal(h)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && string(a) == string(b)
}
