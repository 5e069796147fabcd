package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"bastion-relay/pkg/relay"
)

var (
	flagConfig     string
	flagOCIProfile string
	flagUser       string
	flagPort       int
	flagLocalPort  int
	flagAlias      string
	flagPubKey     string
	flagSSHConfig  string
	flagTTL        time.Duration
	flagPollEvery  time.Duration
	flagName       string

	flagDryRun      bool
	flagNoShell     bool
	flagExecReplace bool
)

func init() {
	flag.StringVar(&flagConfig, "config", "", "Path to targets YAML (defaults to XDG paths if empty)")
	flag.StringVar(&flagOCIProfile, "profile", "", "OCI config profile to authenticate with (default: DEFAULT chain)")
	flag.StringVar(&flagUser, "user", "", "Target OS user for login sessions (overrides target entry)")
	flag.IntVar(&flagPort, "port", 0, "Target SSH port (default 22, overrides target entry)")
	flag.IntVar(&flagLocalPort, "local-port", 0, "Local port to bind for tunnel sessions (default: target port)")
	flag.StringVar(&flagAlias, "alias", "", "Host alias to maintain in the SSH config (default: target name)")
	flag.StringVar(&flagPubKey, "pub-key", "", "Public key file to submit (default: first of ~/.ssh/id_*.pub)")
	flag.StringVar(&flagSSHConfig, "ssh-config", "", "SSH client config to maintain (default: ~/.ssh/config)")
	flag.DurationVar(&flagTTL, "ttl", 0, "Session time-to-live (capped at 3h; default 3h)")
	flag.DurationVar(&flagPollEvery, "poll-interval", 0, "Session status poll interval (default 10s)")
	flag.StringVar(&flagName, "name", "", "Display name for the session in the service console")
	flag.BoolVar(&flagDryRun, "dry-run", false, "Derive and print the plan without mutating config or launching")
	flag.BoolVar(&flagNoShell, "no-shell", false, "Login: maintain the config entry but do not open a shell")
	flag.BoolVar(&flagExecReplace, "exec-replace", false, "Replace this process with ssh when launching")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "bastion-relay\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  bastion-relay [options] login [target-name]\n")
		fmt.Fprintf(os.Stderr, "  bastion-relay [options] tunnel [target-name]\n\n")
		fmt.Fprintf(os.Stderr, "Targets come from the YAML profile, or from the environment when no\n")
		fmt.Fprintf(os.Stderr, "target name is given: BASTION_OCID, TARGET_OCID and optionally TARGET_IP.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  bastion-relay login db1
  bastion-relay -user opc -port 22 login
  bastion-relay -local-port 15432 tunnel db1
  bastion-relay -dry-run login db1
`)
	}
}

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch flag.Arg(0) {
	case "login":
		err = runLogin(ctx, flag.Args()[1:])
	case "tunnel":
		err = runTunnel(ctx, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "bastion-relay: unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bastion-relay: %v\n", err)
		os.Exit(exitCodeFromErr(err))
	}
}

// invocation is everything resolved up front, before any remote call.
type invocation struct {
	request   relay.SessionRequest
	alias     string
	sshConfig string
	settle    time.Duration
}

// resolveInvocation merges the profile target (when named), environment
// variables, and flags into a validated session request. All prerequisite
// failures surface here, before the first remote call.
func resolveInvocation(args []string) (*invocation, error) {
	if _, err := exec.LookPath("ssh"); err != nil {
		return nil, fmt.Errorf("ssh not found on PATH: %w", relay.ErrPrerequisiteMissing)
	}

	targetName := ""
	if len(args) > 0 {
		targetName = strings.TrimSpace(args[0])
	}

	prof, _, perr := relay.LoadProfile(flagConfig)
	if perr != nil {
		// A missing profile is fine as long as the environment supplies the
		// identifiers; a named target without a profile is not.
		if targetName != "" {
			return nil, fmt.Errorf("target %q needs a profile: %w", targetName, perr)
		}
		prof = &relay.Profile{}
	}

	inv := &invocation{settle: prof.SettleDelay()}

	req := relay.SessionRequest{
		TTL:          flagTTL,
		PollInterval: flagPollEvery,
		DisplayName:  flagName,
	}
	if req.TTL == 0 {
		req.TTL = prof.SessionTTL()
	}
	if req.PollInterval == 0 {
		req.PollInterval = prof.PollInterval()
	}

	if targetName != "" {
		t := prof.TargetByName(targetName)
		if t == nil {
			return nil, fmt.Errorf("target %q not found in profile: %w", targetName, relay.ErrPrerequisiteMissing)
		}
		req.BastionID = t.BastionID
		req.TargetID = t.TargetID
		req.TargetIP = t.TargetIP
		req.TargetUser = t.User
		req.TargetPort = t.Port
		inv.alias = t.EffectiveAlias()
	} else {
		req.BastionID = os.Getenv("BASTION_OCID")
		req.TargetID = os.Getenv("TARGET_OCID")
		req.TargetIP = os.Getenv("TARGET_IP")
		if strings.TrimSpace(req.BastionID) == "" {
			return nil, fmt.Errorf("BASTION_OCID is not set: %w", relay.ErrPrerequisiteMissing)
		}
		if strings.TrimSpace(req.TargetID) == "" {
			return nil, fmt.Errorf("TARGET_OCID is not set: %w", relay.ErrPrerequisiteMissing)
		}
	}

	// Flags override whatever the target entry or environment provided.
	if flagUser != "" {
		req.TargetUser = flagUser
	}
	if flagPort > 0 {
		req.TargetPort = flagPort
	}
	if flagAlias != "" {
		inv.alias = flagAlias
	}
	if inv.alias == "" {
		if req.TargetIP != "" {
			inv.alias = req.TargetIP
		} else {
			inv.alias = "bastion-target"
		}
	}

	key, err := relay.FindPublicKey(flagPubKey, "")
	if err != nil {
		return nil, err
	}
	req.PublicKey = key.Content
	fmt.Fprintf(os.Stderr, "using public key %s (%s)\n", key.Path, key.Fingerprint)

	inv.sshConfig = flagSSHConfig
	if inv.sshConfig == "" {
		inv.sshConfig = prof.SSHConfig
	}
	if inv.sshConfig == "" {
		p, err := relay.DefaultSSHConfigPath()
		if err != nil {
			return nil, err
		}
		inv.sshConfig = p
	}

	inv.request = req
	return inv, nil
}

func newLauncher(inv *invocation) (*relay.Launcher, error) {
	client, err := relay.NewClient(flagOCIProfile)
	if err != nil {
		return nil, err
	}
	return &relay.Launcher{
		Client:        client,
		SSHConfigPath: inv.sshConfig,
		SettleDelay:   inv.settle,
		Wait:          relay.AwaitReadyUI,
		Out:           os.Stderr,
		DryRun:        flagDryRun,
	}, nil
}

func runLogin(ctx context.Context, args []string) error {
	inv, err := resolveInvocation(args)
	if err != nil {
		return err
	}
	launcher, err := newLauncher(inv)
	if err != nil {
		return err
	}

	ls, err := launcher.Login(ctx, inv.request, inv.alias)
	if err != nil {
		return err
	}

	if flagDryRun {
		fmt.Printf("dry-run: shell argv: %s\n", strings.Join(ls.Argv, " "))
		return nil
	}

	fmt.Fprintf(os.Stderr, "relay ready: ssh/sftp/scp against %q now route via the session (until its TTL expires)\n", ls.Alias)

	if flagNoShell {
		return nil
	}
	if len(ls.Argv) == 0 {
		fmt.Fprintf(os.Stderr, "no target IP known; skipping shell (connect with: ssh %s)\n", ls.Alias)
		return nil
	}
	return runInteractive(ls.Argv, flagExecReplace)
}

func runTunnel(ctx context.Context, args []string) error {
	inv, err := resolveInvocation(args)
	if err != nil {
		return err
	}
	launcher, err := newLauncher(inv)
	if err != nil {
		return err
	}

	localPort := flagLocalPort
	if localPort == 0 {
		localPort = inv.request.EffectivePort()
	}

	ts, err := launcher.Tunnel(ctx, inv.request, localPort)
	if err != nil {
		return err
	}

	if flagDryRun {
		fmt.Printf("dry-run: tunnel argv: %s\n", strings.Join(ts.Argv, " "))
		return nil
	}

	fmt.Fprintf(os.Stderr, "forwarding localhost:%d; blocks until the relay session expires or is terminated\n", ts.Descriptor.LocalPort)
	return runAttached(ts.Argv)
}

// runInteractive launches the interactive ssh session. With -exec-replace the
// process image is replaced outright. Otherwise, when stdin is a terminal,
// ssh runs under a PTY with window-size propagation so full-screen remote
// apps behave; off-TTY it falls back to a plain attached run.
func runInteractive(argv []string, replace bool) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	if replace {
		path, err := exec.LookPath(argv[0])
		if err != nil {
			return fmt.Errorf("command not found: %s", argv[0])
		}
		return syscall.Exec(path, argv, os.Environ())
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return runAttached(argv)
	}

	// Stale terminal-integration replies queued while we waited on the
	// session would otherwise be fed to the remote shell as keystrokes.
	flushTTYInput()

	cmd := exec.Command(argv[0], argv[1:]...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("pty start: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	// Seed PTY size from stdout; a 0x0 PTY breaks full-screen remote apps.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if cols, rows, sizeErr := term.GetSize(int(os.Stdout.Fd())); sizeErr == nil && rows > 0 && cols > 0 {
			_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
		}
	}
	startPTYResizeWatcher(ptmx)

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		oldState, sErr := term.MakeRaw(fd)
		if sErr == nil {
			defer func() { _ = term.Restore(fd, oldState) }()
		}
	}

	go func() {
		_, _ = io.Copy(ptmx, os.Stdin)
	}()
	_, _ = io.Copy(os.Stdout, ptmx)

	return cmd.Wait()
}

// runAttached runs argv with the current stdio attached, blocking until it
// exits.
func runAttached(argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func exitCodeFromErr(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if status, ok := ee.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	if errors.Is(err, relay.ErrPrerequisiteMissing) {
		return 2
	}
	return 1
}
