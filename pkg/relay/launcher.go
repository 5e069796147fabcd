package relay

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"
)

// WaitFunc awaits session readiness. The launcher uses Client.AwaitReady by
// default; the CLI substitutes the interactive spinner UI on a terminal.
type WaitFunc func(ctx context.Context, c *Client, sessionID string, interval time.Duration) (*SessionResult, error)

// Launcher orchestrates the two supported flows: interactive login and local
// port-forwarding tunnel. Control is strictly linear per invocation:
// request -> poll-until-terminal -> settle -> derive -> (login: mutate
// config) -> hand argv to the process boundary.
type Launcher struct {
	// Client talks to the session service.
	Client *Client

	// SSHConfigPath is the client config file maintained in login mode.
	SSHConfigPath string

	// SettleDelay is waited after readiness and before first use.
	// Zero means DefaultSettleDelay; negative disables the wait (tests).
	SettleDelay time.Duration

	// Wait overrides the readiness wait. Nil means Client.AwaitReady.
	Wait WaitFunc

	// Out receives progress lines. Nil discards them.
	Out io.Writer

	// DryRun derives and reports without mutating the config file.
	DryRun bool
}

// LoginSession is the outcome of the login flow: the derived descriptor, the
// maintained Host alias, and the argv for an optional interactive shell.
type LoginSession struct {
	Descriptor *ConnectionDescriptor
	Alias      string
	Argv       []string
}

// TunnelSession is the outcome of the tunnel flow: the derived descriptor
// and the blocking tunnel argv, used verbatim.
type TunnelSession struct {
	Descriptor *ConnectionDescriptor
	Argv       []string
}

// Login creates a managed-ssh session, waits for it, and upserts the
// ProxyJump directive for alias into the SSH config so any SSH/SFTP tooling
// can reuse the relay. On a failed session it aborts before any config
// mutation. The returned argv opens an interactive shell through the relay;
// running it is the caller's decision.
func (l *Launcher) Login(ctx context.Context, req SessionRequest, alias string) (*LoginSession, error) {
	req.Mode = ModeManagedSSH
	res, err := l.provision(ctx, req)
	if err != nil {
		return nil, err
	}

	d, err := DeriveInteractive(res.SSHCommand)
	if err != nil {
		return nil, err
	}

	if l.DryRun {
		l.printf("dry-run: would set %q in block %q of %s\n", "ProxyJump "+d.Destination, "Host "+alias, l.SSHConfigPath)
	} else {
		if err := UpsertHostDirective(l.SSHConfigPath, alias, "ProxyJump", d.Destination); err != nil {
			return nil, err
		}
		l.printf("updated %s: Host %s now routes via %s\n", l.SSHConfigPath, alias, d.SessionID)
	}

	return &LoginSession{
		Descriptor: d,
		Alias:      alias,
		Argv:       buildLoginArgv(req, d),
	}, nil
}

// Tunnel creates a port-forwarding session, waits for it, and derives the
// blocking tunnel command with localPort bound. No config mutation happens
// in tunnel mode.
func (l *Launcher) Tunnel(ctx context.Context, req SessionRequest, localPort int) (*TunnelSession, error) {
	req.Mode = ModePortForward
	res, err := l.provision(ctx, req)
	if err != nil {
		return nil, err
	}

	d, err := DeriveTunnel(res.SSHCommand, localPort)
	if err != nil {
		return nil, err
	}
	return &TunnelSession{Descriptor: d, Argv: d.Argv()}, nil
}

// provision runs the shared create -> await -> settle prefix of both flows.
func (l *Launcher) provision(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	id, err := l.Client.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	l.printf("relay session requested: %s (ttl %s)\n", id, req.EffectiveTTL())

	wait := l.Wait
	if wait == nil {
		wait = func(ctx context.Context, c *Client, sessionID string, interval time.Duration) (*SessionResult, error) {
			return c.AwaitReady(ctx, sessionID, interval)
		}
	}
	res, err := wait(ctx, l.Client, id, req.EffectivePollInterval())
	if err != nil {
		return nil, err
	}

	if err := l.settle(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// settle waits out the post-ready key-propagation lag.
func (l *Launcher) settle(ctx context.Context) error {
	delay := l.SettleDelay
	if delay == 0 {
		delay = DefaultSettleDelay
	}
	if delay < 0 {
		return nil
	}
	l.printf("session active; waiting %s for key propagation\n", delay)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (l *Launcher) printf(format string, args ...any) {
	if l.Out == nil {
		return
	}
	fmt.Fprintf(l.Out, format, args...)
}

// buildLoginArgv builds the interactive shell argv: ssh through the relay
// via -J, to the target user and private IP. When the target IP is unknown
// the caller cannot be given a destination; an empty argv is returned and
// the shell launch is skipped.
func buildLoginArgv(req SessionRequest, d *ConnectionDescriptor) []string {
	if req.TargetIP == "" {
		return nil
	}
	argv := []string{"ssh"}
	if p := req.EffectivePort(); p != DefaultTargetPort {
		argv = append(argv, "-p", strconv.Itoa(p))
	}
	argv = append(argv, "-J", d.Destination)
	dest := req.TargetIP
	if req.TargetUser != "" {
		dest = req.TargetUser + "@" + dest
	}
	return append(argv, dest)
}
