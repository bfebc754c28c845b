package spec

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var dependencyNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// RunSpec is the top-level structure for a supervised run definition.
type RunSpec struct {
	Dependency Dependency `yaml:"dependency"`
	Network    *Network   `yaml:"network,omitempty"`
	Runtime    *Runtime   `yaml:"runtime,omitempty"`
	Readiness  Readiness  `yaml:"readiness"`
	Teardown   *Teardown  `yaml:"teardown,omitempty"`
	Audit      *Audit     `yaml:"audit,omitempty"`
}

// Dependency describes the background process the workload depends on.
type Dependency struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`                   // "native" | "container"
	Command     string            `yaml:"command,omitempty"`      // native only
	WorkingDir  string            `yaml:"working_dir,omitempty"`  // native only
	Image       string            `yaml:"image,omitempty"`        // container only
	NetworkMode string            `yaml:"network_mode,omitempty"` // container only, default "host"
	Env         map[string]string `yaml:"env,omitempty"`
}

// Network declares the port the dependency serves on.
// Port 0 requests dynamic allocation at run time.
type Network struct {
	Port int `yaml:"port"`
}

// Runtime configures discovery of a required runtime installation
// (e.g. a JVM for a Java-based dependency). The resolved install's bin
// directory is prepended to PATH for both dependency and workload.
type Runtime struct {
	Root    string `yaml:"root"`
	Pattern string `yaml:"pattern"`
	Bin     string `yaml:"bin,omitempty"` // subdir holding binaries, default "bin"
}

// Readiness selects how the supervisor decides the dependency is usable
// before handing off to the workload.
type Readiness struct {
	Policy string   `yaml:"policy"`          // "fixed" | "probe"
	Wait   Duration `yaml:"wait,omitempty"`  // fixed only
	Probe  *Probe   `yaml:"probe,omitempty"` // probe only
}

// Probe is an active readiness check polled until success or timeout.
type Probe struct {
	Type     string   `yaml:"type"` // "http" | "tcp" | "exec"
	Path     string   `yaml:"path,omitempty"`
	Port     int      `yaml:"port,omitempty"` // 0 => network port
	Command  string   `yaml:"command,omitempty"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// Teardown bounds the dependency's graceful shutdown.
type Teardown struct {
	GracePeriod Duration `yaml:"grace_period"`
}

// Audit enables the JSONL lifecycle event log.
type Audit struct {
	Path string `yaml:"path"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10s", "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Load reads and parses a run spec from a YAML file.
func Load(path string) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec %s: %w", path, err)
	}

	var spec RunSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing spec %s: %w", path, err)
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validating spec %s: %w", path, err)
	}

	return &spec, nil
}

// NeedsDynamicPort returns true when the spec has a network block with port 0,
// indicating the supervisor should allocate a port at runtime.
func (s *RunSpec) NeedsDynamicPort() bool {
	return s.Network != nil && s.Network.Port == 0
}

// GracePeriod returns the configured teardown grace period or the default.
func (s *RunSpec) GracePeriod() time.Duration {
	if s.Teardown != nil && s.Teardown.GracePeriod.Duration > 0 {
		return s.Teardown.GracePeriod.Duration
	}
	return 10 * time.Second
}

// Validate checks that a run spec is well-formed.
func (s *RunSpec) Validate() error {
	if s.Dependency.Name == "" {
		return fmt.Errorf("dependency.name is required")
	}
	if !dependencyNameRe.MatchString(s.Dependency.Name) {
		return fmt.Errorf("dependency.name %q is invalid: must match ^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$", s.Dependency.Name)
	}

	switch s.Dependency.Type {
	case "native":
		if s.Dependency.Command == "" {
			return fmt.Errorf("dependency.command is required for native dependencies")
		}
		if s.Dependency.Image != "" {
			return fmt.Errorf("dependency.image is not valid for native dependencies")
		}
	case "container":
		if s.Dependency.Image == "" {
			return fmt.Errorf("dependency.image is required for container dependencies")
		}
		if s.Dependency.Command != "" {
			return fmt.Errorf("dependency.command is not valid for container dependencies")
		}
	default:
		return fmt.Errorf("dependency.type must be \"native\" or \"container\", got %q", s.Dependency.Type)
	}

	if r := s.Runtime; r != nil {
		if r.Root == "" {
			return fmt.Errorf("runtime.root is required when runtime discovery is configured")
		}
		if r.Pattern == "" {
			return fmt.Errorf("runtime.pattern is required when runtime discovery is configured")
		}
	}

	switch s.Readiness.Policy {
	case "fixed":
		if s.Readiness.Wait.Duration <= 0 {
			return fmt.Errorf("readiness.wait must be positive for the fixed policy")
		}
	case "probe":
		p := s.Readiness.Probe
		if p == nil {
			return fmt.Errorf("readiness.probe is required for the probe policy")
		}
		switch p.Type {
		case "http":
			if p.Path == "" {
				return fmt.Errorf("readiness.probe.path is required for http probes")
			}
		case "tcp":
			// port is sufficient
		case "exec":
			if p.Command == "" {
				return fmt.Errorf("readiness.probe.command is required for exec probes")
			}
		default:
			return fmt.Errorf("readiness.probe.type must be \"http\", \"tcp\", or \"exec\", got %q", p.Type)
		}
		if p.Type != "exec" && p.Port == 0 && s.Network == nil {
			return fmt.Errorf("readiness.probe needs a port: set readiness.probe.port or a network block")
		}
		if p.Interval.Duration <= 0 {
			return fmt.Errorf("readiness.probe.interval must be positive")
		}
		if p.Timeout.Duration <= 0 {
			return fmt.Errorf("readiness.probe.timeout must be positive")
		}
	default:
		return fmt.Errorf("readiness.policy must be \"fixed\" or \"probe\", got %q", s.Readiness.Policy)
	}

	if t := s.Teardown; t != nil && t.GracePeriod.Duration <= 0 {
		return fmt.Errorf("teardown.grace_period must be positive")
	}

	if a := s.Audit; a != nil && a.Path == "" {
		return fmt.Errorf("audit.path is required when audit is configured")
	}

	return nil
}
