// Package relay brokers short-lived SSH access through the OCI Bastion
// service: it creates a time-boxed relay session, waits for it to become
// usable, derives concrete connection parameters from the service response,
// and maintains the local SSH client config so ordinary ssh/sftp tooling can
// reuse the relay for the session's lifetime.
package relay

import (
	"fmt"
	"strings"
	"time"
)

// SessionMode selects the kind of relay session requested from the service.
type SessionMode string

const (
	// ModeManagedSSH requests a managed SSH session: the service brokers an
	// interactive shell to a named OS user on the target.
	ModeManagedSSH SessionMode = "managed-ssh"

	// ModePortForward requests a port-forwarding session: the service relays
	// a single TCP port on the target.
	ModePortForward SessionMode = "port-forward"
)

const (
	// MaxSessionTTL is the hard service-side cap on session lifetime.
	// Requested TTLs above this are clamped, not rejected.
	MaxSessionTTL = 3 * time.Hour

	// DefaultSessionTTL is used when the request leaves TTL unset.
	DefaultSessionTTL = MaxSessionTTL

	// DefaultPollInterval is the status-poll cadence when unset.
	DefaultPollInterval = 10 * time.Second

	// DefaultSettleDelay is applied after a session reports ready and before
	// first use. Key propagation on the service side is observed to lag
	// session-ready status by a few seconds; this is an empirical workaround,
	// not a protocol guarantee.
	DefaultSettleDelay = 5 * time.Second

	// DefaultTargetPort is the SSH port used when the request leaves it unset.
	DefaultTargetPort = 22
)

// SessionRequest describes one relay session to create. It is immutable once
// submitted; every invocation creates a brand-new, independent session (no
// deduplication or reuse across invocations).
type SessionRequest struct {
	// Mode selects managed-ssh (interactive) or port-forward (tunnel).
	Mode SessionMode

	// BastionID is the OCID of the bastion that brokers the session.
	BastionID string

	// TargetID is the OCID of the target resource.
	TargetID string

	// TargetIP is the private IP of the target resource.
	TargetIP string

	// TargetUser is the OS user on the target. Required for managed-ssh.
	TargetUser string

	// TargetPort is the SSH port on the target (default 22).
	TargetPort int

	// PublicKey is the authorized_keys line submitted to the service.
	PublicKey string

	// DisplayName labels the session in the service console. Optional.
	DisplayName string

	// TTL bounds the session lifetime; clamped to MaxSessionTTL.
	TTL time.Duration

	// PollInterval is the cadence for status polling while pending.
	PollInterval time.Duration
}

// Validate checks the request for the fields the service requires before
// submission. It does not normalize; use the Effective* accessors for
// defaults and clamping.
func (r SessionRequest) Validate() error {
	switch r.Mode {
	case ModeManagedSSH, ModePortForward:
	default:
		return fmt.Errorf("session request: unknown mode %q", r.Mode)
	}
	if strings.TrimSpace(r.BastionID) == "" {
		return fmt.Errorf("session request: bastion OCID is required")
	}
	if strings.TrimSpace(r.TargetID) == "" {
		return fmt.Errorf("session request: target OCID is required")
	}
	if strings.TrimSpace(r.PublicKey) == "" {
		return fmt.Errorf("session request: public key is required")
	}
	if r.Mode == ModeManagedSSH && strings.TrimSpace(r.TargetUser) == "" {
		return fmt.Errorf("session request: target user is required for managed-ssh")
	}
	if r.TargetPort < 0 || r.TargetPort > 65535 {
		return fmt.Errorf("session request: invalid target port %d", r.TargetPort)
	}
	if r.TTL < 0 {
		return fmt.Errorf("session request: negative TTL")
	}
	if r.PollInterval < 0 {
		return fmt.Errorf("session request: negative poll interval")
	}
	return nil
}

// EffectiveTTL returns the TTL to submit: the default when unset, and never
// more than MaxSessionTTL.
func (r SessionRequest) EffectiveTTL() time.Duration {
	ttl := r.TTL
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	if ttl > MaxSessionTTL {
		ttl = MaxSessionTTL
	}
	return ttl
}

// EffectivePort returns the target port, defaulting to 22.
func (r SessionRequest) EffectivePort() int {
	if r.TargetPort > 0 {
		return r.TargetPort
	}
	return DefaultTargetPort
}

// EffectivePollInterval returns the poll interval, defaulting when unset.
func (r SessionRequest) EffectivePollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return DefaultPollInterval
}
