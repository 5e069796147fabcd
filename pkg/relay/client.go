package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oracle/oci-go-sdk/v65/bastion"
	"github.com/oracle/oci-go-sdk/v65/common"
)

// SessionState is the local view of a relay session's lifecycle.
type SessionState string

const (
	// StatePending: the service is still provisioning the session.
	StatePending SessionState = "pending"
	// StateSucceeded: the session is active and usable.
	StateSucceeded SessionState = "succeeded"
	// StateFailed: the session reached a terminal failed state (or was
	// deleted/expired before becoming usable).
	StateFailed SessionState = "failed"
)

// SessionResult is the terminal outcome of a session's provisioning, plus the
// metadata needed to derive a ConnectionDescriptor.
type SessionResult struct {
	// SessionID is the session OCID.
	SessionID string

	// State is the mapped lifecycle state at observation time.
	State SessionState

	// SSHCommand is the service-provided connection command template
	// (contains <privateKey> and, for tunnels, <localPort> placeholders).
	// Populated only when State is StateSucceeded.
	SSHCommand string

	// FailureReason is the remote-supplied detail when State is StateFailed.
	FailureReason string
}

// bastionAPI is the slice of the OCI bastion client this package uses.
// Narrowed so tests can substitute a fake service.
type bastionAPI interface {
	CreateSession(ctx context.Context, request bastion.CreateSessionRequest) (bastion.CreateSessionResponse, error)
	GetSession(ctx context.Context, request bastion.GetSessionRequest) (bastion.GetSessionResponse, error)
}

// Client talks to the bastion session-management service: it submits creation
// requests, polls status, and retrieves final connection metadata.
type Client struct {
	api bastionAPI
}

// NewClient builds a Client authenticated from the local OCI configuration.
// An empty profile uses the default provider chain (~/.oci/config DEFAULT
// profile, instance principal fallback per SDK rules); a non-empty profile
// selects that named profile from ~/.oci/config.
func NewClient(profile string) (*Client, error) {
	var provider common.ConfigurationProvider
	if strings.TrimSpace(profile) == "" {
		provider = common.DefaultConfigProvider()
	} else {
		provider = common.CustomProfileConfigProvider("", profile)
	}
	bc, err := bastion.NewBastionClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("bastion client: %w", err)
	}
	return &Client{api: &bc}, nil
}

// NewClientWithAPI wraps an existing service implementation. Used by tests.
func NewClientWithAPI(api bastionAPI) *Client {
	return &Client{api: api}
}

// Create submits the session request and returns the session OCID
// immediately; the service provisions asynchronously. Every call is a fresh
// side effect: there is no deduplication against existing sessions.
func (c *Client) Create(ctx context.Context, req SessionRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	var target bastion.CreateSessionTargetResourceDetails
	switch req.Mode {
	case ModeManagedSSH:
		details := bastion.CreateManagedSshSessionTargetResourceDetails{
			TargetResourceId:                      common.String(req.TargetID),
			TargetResourceOperatingSystemUserName: common.String(req.TargetUser),
			TargetResourcePort:                    common.Int(req.EffectivePort()),
		}
		if strings.TrimSpace(req.TargetIP) != "" {
			details.TargetResourcePrivateIpAddress = common.String(req.TargetIP)
		}
		target = details
	case ModePortForward:
		details := bastion.CreatePortForwardingSessionTargetResourceDetails{
			TargetResourceId:   common.String(req.TargetID),
			TargetResourcePort: common.Int(req.EffectivePort()),
		}
		if strings.TrimSpace(req.TargetIP) != "" {
			details.TargetResourcePrivateIpAddress = common.String(req.TargetIP)
		}
		target = details
	}

	create := bastion.CreateSessionDetails{
		BastionId:             common.String(req.BastionID),
		TargetResourceDetails: target,
		KeyType:               bastion.CreateSessionDetailsKeyTypePub,
		KeyDetails: &bastion.PublicKeyDetails{
			PublicKeyContent: common.String(req.PublicKey),
		},
		SessionTtlInSeconds: common.Int(int(req.EffectiveTTL().Seconds())),
	}
	if strings.TrimSpace(req.DisplayName) != "" {
		create.DisplayName = common.String(req.DisplayName)
	}

	resp, err := c.api.CreateSession(ctx, bastion.CreateSessionRequest{CreateSessionDetails: create})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if resp.Session.Id == nil || strings.TrimSpace(*resp.Session.Id) == "" {
		return "", fmt.Errorf("create session: response carries no session id: %w", ErrMalformedResponse)
	}
	return *resp.Session.Id, nil
}

// Poll queries the session once and maps its lifecycle state. A Failed state
// is reported in the result, not as an error; AwaitReady converts it.
func (c *Client) Poll(ctx context.Context, sessionID string) (*SessionResult, error) {
	resp, err := c.api.GetSession(ctx, bastion.GetSessionRequest{SessionId: common.String(sessionID)})
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return mapSession(sessionID, resp.Session), nil
}

// AwaitReady polls the session at the given interval until it observes a
// terminal state. Succeeded yields the connection metadata; Failed yields a
// *RemoteFailureError and must not be retried by the caller.
//
// There is no local timeout distinct from the session's own TTL: a remote
// that never reaches a terminal state blocks until ctx is cancelled.
func (c *Client) AwaitReady(ctx context.Context, sessionID string, interval time.Duration) (*SessionResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		res, err := c.Poll(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if res.State != StatePending {
			return res, terminalErr(res)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// terminalErr converts a terminal SessionResult into the error the lifecycle
// contract requires: nil for Succeeded, *RemoteFailureError for Failed.
func terminalErr(res *SessionResult) error {
	if res.State == StateFailed {
		return &RemoteFailureError{SessionID: res.SessionID, Reason: res.FailureReason}
	}
	return nil
}

// mapSession reduces the service lifecycle states to the three local ones.
// Deleting/deleted before first use means the session expired or was torn
// down underneath us; that is terminal and unusable, so it maps to failed.
func mapSession(sessionID string, s bastion.Session) *SessionResult {
	out := &SessionResult{SessionID: sessionID}
	if s.Id != nil && strings.TrimSpace(*s.Id) != "" {
		out.SessionID = *s.Id
	}
	switch s.LifecycleState {
	case bastion.SessionLifecycleStateActive:
		out.State = StateSucceeded
		out.SSHCommand = s.SshMetadata["command"]
	case bastion.SessionLifecycleStateFailed,
		bastion.SessionLifecycleStateDeleting,
		bastion.SessionLifecycleStateDeleted:
		out.State = StateFailed
		if s.LifecycleDetails != nil {
			out.FailureReason = strings.TrimSpace(*s.LifecycleDetails)
		}
		if out.FailureReason == "" {
			out.FailureReason = string(s.LifecycleState)
		}
	default:
		out.State = StatePending
	}
	return out
}
