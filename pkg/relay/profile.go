package relay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the optional YAML configuration for bastion-relay.
//
// Example YAML:
//
// ssh_config: ~/.ssh/config
// session_ttl_minutes: 180
// poll_interval_seconds: 10
// settle_delay_seconds: 5
//
// targets:
//   - name: db1
//     bastion_ocid: ocid1.bastion.oc1..aaaa
//     target_ocid: ocid1.instance.oc1..bbbb
//     target_ip: 10.0.0.5
//     user: opc
//     alias: db1-relay
type Profile struct {
	// SSHConfig overrides the SSH client config file to maintain.
	SSHConfig string `yaml:"ssh_config,omitempty"`

	// SessionTTLMinutes bounds created sessions (clamped to the service max).
	SessionTTLMinutes int `yaml:"session_ttl_minutes,omitempty"`

	// PollIntervalSeconds is the status-poll cadence.
	PollIntervalSeconds int `yaml:"poll_interval_seconds,omitempty"`

	// SettleDelaySeconds is the post-ready delay before first use.
	SettleDelaySeconds int `yaml:"settle_delay_seconds,omitempty"`

	// Targets are named relay targets selectable on the command line.
	Targets []Target `yaml:"targets,omitempty"`
}

// Target names one reachable resource and its session parameters.
type Target struct {
	// Name is the identifier used on the command line.
	Name string `yaml:"name"`

	// BastionID is the OCID of the brokering bastion.
	BastionID string `yaml:"bastion_ocid"`

	// TargetID is the OCID of the target resource.
	TargetID string `yaml:"target_ocid"`

	// TargetIP is the private IP of the target. Optional for managed-ssh
	// targets the service can resolve itself; required for port forwarding.
	TargetIP string `yaml:"target_ip,omitempty"`

	// User is the default OS user for managed-ssh sessions.
	User string `yaml:"user,omitempty"`

	// Port is the SSH port on the target (default 22).
	Port int `yaml:"port,omitempty"`

	// Alias is the Host alias maintained in the SSH config (default: Name).
	Alias string `yaml:"alias,omitempty"`
}

// ErrProfileNotFound is returned when no profile file can be located.
var ErrProfileNotFound = errors.New("profile not found")

// LoadProfile discovers and loads the YAML profile.
// If explicitPath is empty, it searches common locations in order:
// 1. $BASTION_RELAY_CONFIG
// 2. $XDG_CONFIG_HOME/bastion-relay/targets.yaml
// 3. ~/.config/bastion-relay/targets.yaml
//
// Returns the parsed Profile and the path that was used.
func LoadProfile(explicitPath string) (*Profile, string, error) {
	candidates := ProfilePathCandidates(explicitPath)
	var lastErr error
	for _, p := range candidates {
		p = expandPath(p)
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		var prof Profile
		if err := yaml.Unmarshal(data, &prof); err != nil {
			return nil, p, fmt.Errorf("parse yaml %s: %w", p, err)
		}
		if err := prof.Validate(); err != nil {
			return nil, p, fmt.Errorf("invalid profile %s: %w", p, err)
		}
		return &prof, p, nil
	}
	if lastErr == nil {
		lastErr = ErrProfileNotFound
	}
	return nil, "", lastErr
}

// ProfilePathCandidates returns possible profile file paths, in priority
// order. If explicitPath is provided, it is returned first.
func ProfilePathCandidates(explicitPath string) []string {
	var out []string
	if explicitPath != "" {
		out = append(out, explicitPath)
	}
	if env := os.Getenv("BASTION_RELAY_CONFIG"); env != "" {
		out = append(out, env)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		out = append(out, filepath.Join(xdg, "bastion-relay", "targets.yaml"))
	}
	home, _ := os.UserHomeDir()
	if home != "" {
		out = append(out, filepath.Join(home, ".config", "bastion-relay", "targets.yaml"))
	}
	return out
}

// Validate performs basic sanity checks on the profile.
//
// - Target names must be unique and non-empty.
// - Targets must carry both OCIDs.
// - Durations must be >= 0.
func (p *Profile) Validate() error {
	if p.SessionTTLMinutes < 0 {
		return fmt.Errorf("session_ttl_minutes: must be >= 0")
	}
	if p.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll_interval_seconds: must be >= 0")
	}
	if p.SettleDelaySeconds < 0 {
		return fmt.Errorf("settle_delay_seconds: must be >= 0")
	}

	seen := map[string]struct{}{}
	for i, t := range p.Targets {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("targets[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("targets[%d]: duplicate target name %q", i, name)
		}
		seen[name] = struct{}{}

		if strings.TrimSpace(t.BastionID) == "" {
			return fmt.Errorf("targets[%d](%s): bastion_ocid is required", i, name)
		}
		if strings.TrimSpace(t.TargetID) == "" {
			return fmt.Errorf("targets[%d](%s): target_ocid is required", i, name)
		}
		if t.Port < 0 || t.Port > 65535 {
			return fmt.Errorf("targets[%d](%s): invalid port %d", i, name, t.Port)
		}
	}
	return nil
}

// TargetByName returns a pointer to the first target matching the provided
// name, or nil if not found.
func (p *Profile) TargetByName(name string) *Target {
	name = strings.TrimSpace(name)
	for i := range p.Targets {
		if p.Targets[i].Name == name {
			return &p.Targets[i]
		}
	}
	return nil
}

// EffectiveAlias returns the SSH config Host alias for the target.
func (t Target) EffectiveAlias() string {
	if a := strings.TrimSpace(t.Alias); a != "" {
		return a
	}
	return strings.TrimSpace(t.Name)
}

// SessionTTL returns the configured TTL as a duration (0 when unset).
func (p *Profile) SessionTTL() time.Duration {
	return time.Duration(p.SessionTTLMinutes) * time.Minute
}

// PollInterval returns the configured poll interval (0 when unset).
func (p *Profile) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

// SettleDelay returns the configured settle delay, or the default when the
// field is absent. A profile cannot currently disable the delay entirely;
// the empirical key-propagation lag applies to every deployment we have seen.
func (p *Profile) SettleDelay() time.Duration {
	if p.SettleDelaySeconds > 0 {
		return time.Duration(p.SettleDelaySeconds) * time.Second
	}
	return DefaultSettleDelay
}

// expandPath expands leading "~" and environment variables in a path.
// If the input is empty, returns "".
func expandPath(p string) string {
	if p == "" {
		return ""
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		home, _ := os.UserHomeDir()
		if home != "" {
			if p == "~" {
				p = home
			} else if strings.HasPrefix(p, "~/") {
				p = filepath.Join(home, p[2:])
			}
		}
	}
	return p
}
