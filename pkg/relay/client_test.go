package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oracle/oci-go-sdk/v65/bastion"
	"github.com/oracle/oci-go-sdk/v65/common"
)

// fakeBastion scripts the service: CreateSession returns a fixed id, and
// successive GetSession calls walk the states slice (the last state repeats).
type fakeBastion struct {
	sessionID string
	command   string
	details   string
	states    []bastion.SessionLifecycleStateEnum

	createErr  error
	getErr     error
	getCalls   int
	lastCreate bastion.CreateSessionDetails
}

func (f *fakeBastion) CreateSession(_ context.Context, req bastion.CreateSessionRequest) (bastion.CreateSessionResponse, error) {
	f.lastCreate = req.CreateSessionDetails
	if f.createErr != nil {
		return bastion.CreateSessionResponse{}, f.createErr
	}
	return bastion.CreateSessionResponse{
		Session: bastion.Session{
			Id:             common.String(f.sessionID),
			LifecycleState: bastion.SessionLifecycleStateCreating,
		},
	}, nil
}

func (f *fakeBastion) GetSession(_ context.Context, _ bastion.GetSessionRequest) (bastion.GetSessionResponse, error) {
	if f.getErr != nil {
		return bastion.GetSessionResponse{}, f.getErr
	}
	idx := f.getCalls
	if idx >= len(f.states) {
		idx = len(f.states) - 1
	}
	f.getCalls++

	s := bastion.Session{
		Id:             common.String(f.sessionID),
		LifecycleState: f.states[idx],
	}
	switch f.states[idx] {
	case bastion.SessionLifecycleStateActive:
		s.SshMetadata = map[string]string{"command": f.command}
	case bastion.SessionLifecycleStateFailed:
		if f.details != "" {
			s.LifecycleDetails = common.String(f.details)
		}
	}
	return bastion.GetSessionResponse{Session: s}, nil
}

func newFake(states ...bastion.SessionLifecycleStateEnum) *fakeBastion {
	return &fakeBastion{
		sessionID: testSessionOCID,
		command:   testLoginTemplate,
		states:    states,
	}
}

func baseRequest() SessionRequest {
	return SessionRequest{
		Mode:         ModeManagedSSH,
		BastionID:    "ocid1.bastion.oc1.iad.aaa",
		TargetID:     "ocid1.instance.oc1.iad.bbb",
		TargetIP:     "10.0.0.5",
		TargetUser:   "opc",
		PublicKey:    "ssh-ed25519 AAAA test@host",
		PollInterval: time.Millisecond,
	}
}

func TestCreate_ReturnsSessionID(t *testing.T) {
	fake := newFake(bastion.SessionLifecycleStateCreating)
	c := NewClientWithAPI(fake)

	id, err := c.Create(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != testSessionOCID {
		t.Fatalf("expected session id %q, got %q", testSessionOCID, id)
	}
}

func TestCreate_SubmitsCappedTTL(t *testing.T) {
	fake := newFake(bastion.SessionLifecycleStateCreating)
	c := NewClientWithAPI(fake)

	req := baseRequest()
	req.TTL = 12 * time.Hour

	if _, err := c.Create(context.Background(), req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if fake.lastCreate.SessionTtlInSeconds == nil {
		t.Fatalf("expected TTL to be submitted")
	}
	if got := *fake.lastCreate.SessionTtlInSeconds; got != int(MaxSessionTTL.Seconds()) {
		t.Fatalf("expected TTL capped at %d seconds, got %d", int(MaxSessionTTL.Seconds()), got)
	}
}

func TestCreate_ManagedSSHTargetDetails(t *testing.T) {
	fake := newFake(bastion.SessionLifecycleStateCreating)
	c := NewClientWithAPI(fake)

	if _, err := c.Create(context.Background(), baseRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}

	details, ok := fake.lastCreate.TargetResourceDetails.(bastion.CreateManagedSshSessionTargetResourceDetails)
	if !ok {
		t.Fatalf("expected managed-ssh target details, got %T", fake.lastCreate.TargetResourceDetails)
	}
	if details.TargetResourceOperatingSystemUserName == nil || *details.TargetResourceOperatingSystemUserName != "opc" {
		t.Fatalf("expected target user opc, got %v", details.TargetResourceOperatingSystemUserName)
	}
	if details.TargetResourcePort == nil || *details.TargetResourcePort != 22 {
		t.Fatalf("expected default port 22, got %v", details.TargetResourcePort)
	}
}

func TestCreate_PortForwardTargetDetails(t *testing.T) {
	fake := newFake(bastion.SessionLifecycleStateCreating)
	c := NewClientWithAPI(fake)

	req := baseRequest()
	req.Mode = ModePortForward
	req.TargetUser = ""
	req.TargetPort = 5432

	if _, err := c.Create(context.Background(), req); err != nil {
		t.Fatalf("create: %v", err)
	}
	details, ok := fake.lastCreate.TargetResourceDetails.(bastion.CreatePortForwardingSessionTargetResourceDetails)
	if !ok {
		t.Fatalf("expected port-forward target details, got %T", fake.lastCreate.TargetResourceDetails)
	}
	if details.TargetResourcePort == nil || *details.TargetResourcePort != 5432 {
		t.Fatalf("expected port 5432, got %v", details.TargetResourcePort)
	}
}

func TestCreate_ValidatesBeforeSubmitting(t *testing.T) {
	fake := newFake(bastion.SessionLifecycleStateCreating)
	c := NewClientWithAPI(fake)

	req := baseRequest()
	req.TargetUser = "" // required for managed-ssh

	if _, err := c.Create(context.Background(), req); err == nil {
		t.Fatalf("expected validation error")
	}
	if fake.lastCreate.BastionId != nil {
		t.Fatalf("invalid request must not reach the service")
	}
}

func TestAwaitReady_PendingThenActive(t *testing.T) {
	fake := newFake(
		bastion.SessionLifecycleStateCreating,
		bastion.SessionLifecycleStateCreating,
		bastion.SessionLifecycleStateActive,
	)
	c := NewClientWithAPI(fake)

	res, err := c.AwaitReady(context.Background(), testSessionOCID, time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if res.State != StateSucceeded {
		t.Fatalf("expected succeeded, got %s", res.State)
	}
	if res.SSHCommand != testLoginTemplate {
		t.Fatalf("expected command template, got %q", res.SSHCommand)
	}
	if fake.getCalls != 3 {
		t.Fatalf("expected 3 polls, got %d", fake.getCalls)
	}
}

func TestAwaitReady_FailedSurfacesRemoteReason(t *testing.T) {
	fake := newFake(bastion.SessionLifecycleStateFailed)
	fake.details = "quota exceeded for bastion"
	c := NewClientWithAPI(fake)

	res, err := c.AwaitReady(context.Background(), testSessionOCID, time.Millisecond)
	var rf *RemoteFailureError
	if !errors.As(err, &rf) {
		t.Fatalf("expected RemoteFailureError, got %v", err)
	}
	if rf.Reason != "quota exceeded for bastion" {
		t.Fatalf("expected remote reason, got %q", rf.Reason)
	}
	if res == nil || res.State != StateFailed {
		t.Fatalf("expected failed result alongside the error, got %+v", res)
	}
}

func TestAwaitReady_DeletedMapsToFailed(t *testing.T) {
	fake := newFake(bastion.SessionLifecycleStateDeleted)
	c := NewClientWithAPI(fake)

	_, err := c.AwaitReady(context.Background(), testSessionOCID, time.Millisecond)
	var rf *RemoteFailureError
	if !errors.As(err, &rf) {
		t.Fatalf("expected RemoteFailureError for deleted session, got %v", err)
	}
}

func TestAwaitReady_ContextCancellation(t *testing.T) {
	fake := newFake(bastion.SessionLifecycleStateCreating)
	c := NewClientWithAPI(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.AwaitReady(ctx, testSessionOCID, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
