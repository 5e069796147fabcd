package relay

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholder tokens in the service-provided connection command templates.
const (
	privateKeyToken = "<privateKey>"
	localPortToken  = "<localPort>"
)

// destinationPattern recovers the relay destination embedded in a connection
// command template: the bastion-session OCID, followed by '@' and the relay
// host, terminated at the well-known service domain suffix. Surrounding
// template text (flags, quotes, ProxyCommand wrappers) is irrelevant to the
// match; absence of either marker means the response is malformed.
var destinationPattern = regexp.MustCompile(
	`(ocid1\.bastionsession\.[0-9A-Za-z._-]+)@([0-9A-Za-z._-]+\.oci\.oraclecloud\.com)`)

// ConnectionDescriptor holds the concrete connection parameters derived from
// a Succeeded session's metadata. It is never constructed independently of a
// service response and lives only for the remainder of the invocation.
type ConnectionDescriptor struct {
	// SessionID is the bastion-session OCID extracted from the template.
	SessionID string

	// RelayHost is the bastion relay host address.
	RelayHost string

	// Destination is "SessionID@RelayHost", the ProxyJump-able relay target.
	Destination string

	// Command is the executable tunnel command (tunnel mode only): the
	// template with the private-key option removed and the local-port
	// placeholder bound.
	Command string

	// LocalPort is the local binding for the tunnel (tunnel mode only).
	LocalPort int
}

// DeriveInteractive extracts the relay destination from a managed-ssh
// connection command template. It returns ErrMalformedResponse when the
// expected identifier prefix or domain suffix is absent.
func DeriveInteractive(raw string) (*ConnectionDescriptor, error) {
	m := destinationPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("no relay destination in session metadata %q: %w", raw, ErrMalformedResponse)
	}
	return &ConnectionDescriptor{
		SessionID:   m[1],
		RelayHost:   m[2],
		Destination: m[1] + "@" + m[2],
	}, nil
}

// DeriveTunnel extracts the relay destination from a port-forwarding command
// template and binds its placeholders: the private-key option is removed
// entirely (key material comes from the caller's agent or default
// identities) and <localPort> becomes a concrete localhost:<port> binding.
// No other token is altered.
func DeriveTunnel(raw string, localPort int) (*ConnectionDescriptor, error) {
	d, err := DeriveInteractive(raw)
	if err != nil {
		return nil, err
	}
	if localPort <= 0 || localPort > 65535 {
		return nil, fmt.Errorf("invalid local port %d", localPort)
	}

	cmd := stripPrivateKeyOption(raw)
	cmd = strings.ReplaceAll(cmd, localPortToken, fmt.Sprintf("localhost:%d", localPort))

	d.Command = cmd
	d.LocalPort = localPort
	return d, nil
}

// Argv splits the tunnel command into an exec-ready argument vector. The
// port-forwarding templates are flat flag lists (no quoting), so whitespace
// splitting is sufficient.
func (d *ConnectionDescriptor) Argv() []string {
	return strings.Fields(d.Command)
}

// stripPrivateKeyOption removes the <privateKey> placeholder, together with
// the -i flag that carries it: leaving a dangling -i would make ssh consume
// the next token as its argument.
func stripPrivateKeyOption(cmd string) string {
	fields := strings.Fields(cmd)
	out := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		if fields[i] == "-i" && i+1 < len(fields) && fields[i+1] == privateKeyToken {
			i++
			continue
		}
		if fields[i] == privateKeyToken {
			continue
		}
		out = append(out, fields[i])
	}
	return strings.Join(out, " ")
}
