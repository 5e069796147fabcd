package relay

import (
	"errors"
	"strings"
	"testing"
)

const (
	testSessionOCID = "ocid1.bastionsession.oc1.iad.amaaaaaaexampleb3xyz"
	testRelayHost   = "host.bastion.us-ashburn-1.oci.oraclecloud.com"

	// Managed-ssh template as the service returns it, including the nested
	// ProxyCommand wrapper and the private-key placeholders.
	testLoginTemplate = `ssh -i <privateKey> -o ProxyCommand="ssh -i <privateKey> -W %h:%p -p 22 ` +
		testSessionOCID + `@` + testRelayHost + `" -p 22 opc@10.0.0.5`

	// Port-forwarding template: a flat flag list with the local-port
	// placeholder in the -L argument.
	testTunnelTemplate = `ssh -i <privateKey> -N -L <localPort>:10.0.0.5:5432 -p 22 ` +
		testSessionOCID + `@` + testRelayHost
)

func TestDeriveInteractive_ExtractsDestination(t *testing.T) {
	d, err := DeriveInteractive(testLoginTemplate)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if d.SessionID != testSessionOCID {
		t.Fatalf("expected session id %q, got %q", testSessionOCID, d.SessionID)
	}
	if d.RelayHost != testRelayHost {
		t.Fatalf("expected relay host %q, got %q", testRelayHost, d.RelayHost)
	}
	if want := testSessionOCID + "@" + testRelayHost; d.Destination != want {
		t.Fatalf("expected destination %q, got %q", want, d.Destination)
	}
}

func TestDeriveInteractive_IndependentOfSurroundingText(t *testing.T) {
	raw := "some preamble " + testSessionOCID + "@" + testRelayHost + " trailing noise"
	d, err := DeriveInteractive(raw)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if want := testSessionOCID + "@" + testRelayHost; d.Destination != want {
		t.Fatalf("expected destination %q, got %q", want, d.Destination)
	}
}

func TestDeriveInteractive_MalformedResponse(t *testing.T) {
	for _, raw := range []string{
		"",
		"ssh -i <privateKey> opc@10.0.0.5",
		"ocid1.instance.oc1.iad.aaa@" + testRelayHost,       // wrong identifier prefix
		testSessionOCID + "@host.bastion.example.com",       // wrong domain suffix
		testSessionOCID + " " + testRelayHost,               // no @ join
	} {
		if _, err := DeriveInteractive(raw); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("input %q: expected ErrMalformedResponse, got %v", raw, err)
		}
	}
}

func TestDeriveTunnel_SubstitutesPlaceholders(t *testing.T) {
	d, err := DeriveTunnel(testTunnelTemplate, 15432)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	want := `ssh -N -L localhost:15432:10.0.0.5:5432 -p 22 ` + testSessionOCID + `@` + testRelayHost
	if d.Command != want {
		t.Fatalf("expected command %q, got %q", want, d.Command)
	}
	if d.LocalPort != 15432 {
		t.Fatalf("expected local port 15432, got %d", d.LocalPort)
	}
	if strings.Contains(d.Command, privateKeyToken) || strings.Contains(d.Command, localPortToken) {
		t.Fatalf("placeholders must be gone, got %q", d.Command)
	}
}

func TestDeriveTunnel_ArgvSplitsCleanly(t *testing.T) {
	d, err := DeriveTunnel(testTunnelTemplate, 9000)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	argv := d.Argv()
	if len(argv) == 0 || argv[0] != "ssh" {
		t.Fatalf("expected argv starting with ssh, got %v", argv)
	}
	for _, a := range argv {
		if strings.ContainsAny(a, " \t") {
			t.Fatalf("argv element with embedded whitespace: %q", a)
		}
	}
}

func TestDeriveTunnel_RejectsBadPort(t *testing.T) {
	if _, err := DeriveTunnel(testTunnelTemplate, 0); err == nil {
		t.Fatalf("expected error for port 0")
	}
	if _, err := DeriveTunnel(testTunnelTemplate, 70000); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestStripPrivateKeyOption_RemovesFlagAndToken(t *testing.T) {
	got := stripPrivateKeyOption("ssh -i <privateKey> -N -p 22 dest")
	if got != "ssh -N -p 22 dest" {
		t.Fatalf("expected -i pair removed, got %q", got)
	}

	// Bare token without a -i flag is still removed.
	got = stripPrivateKeyOption("ssh <privateKey> -N dest")
	if got != "ssh -N dest" {
		t.Fatalf("expected bare token removed, got %q", got)
	}
}
