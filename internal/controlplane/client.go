// Package controlplane is a thin client for the replication control plane
// HTTP API.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/netbek/dw/internal/mirrorconfig"
)

// Flow states reported and accepted by the control plane.
const (
	StateRunning    = "STATUS_RUNNING"
	StatePaused     = "STATUS_PAUSED"
	StateTerminated = "STATUS_TERMINATED"
	StateUnknown    = "STATUS_UNKNOWN"
)

const (
	defaultTimeout = 30 * time.Second

	peerCreated            = "CREATED"
	mirrorNotFoundFragment = "unable to get the workflow id of mirror"
)

// Config configures a Client.
type Config struct {
	URL     string
	Timeout time.Duration
	// Password enables basic auth with an empty user name.
	Password string
}

// Client talks to the control plane. Drop and state-change requests run
// without a client timeout since they wait for workflows to wind down.
type Client struct {
	baseURL   string
	client    *http.Client
	noTimeout *http.Client
	password  string
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("control plane url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
		client:    &http.Client{Timeout: timeout},
		noTimeout: &http.Client{},
		password:  cfg.Password,
	}, nil
}

// PeerSummary is one entry of the peer listing.
type PeerSummary struct {
	Name string `json:"name"`
}

type response struct {
	status int
	body   []byte
}

func (r response) decode(v any) error {
	if len(bytes.TrimSpace(r.body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.body, v)
}

func (c *Client) do(ctx context.Context, client *http.Client, op, method, path string, payload any) (response, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("marshal %s payload: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return response{}, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.password != "" {
		req.SetBasicAuth("", c.password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read %s response: %w", op, err)
	}
	return response{status: resp.StatusCode, body: data}, nil
}

func failed(op string, resp response) error {
	return &OperationFailedError{Op: op, StatusCode: resp.status, Body: string(resp.body)}
}

// UpdateSetting sets one dynamic setting.
func (c *Client) UpdateSetting(ctx context.Context, name, value string) error {
	op := "update setting " + name
	resp, err := c.do(ctx, c.client, op, http.MethodPost, "/v1/dynamic_settings",
		map[string]string{"name": name, "value": value})
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return failed(op, resp)
	}
	return nil
}

func (c *Client) ListPeers(ctx context.Context) ([]PeerSummary, error) {
	const op = "list peers"
	resp, err := c.do(ctx, c.client, op, http.MethodGet, "/v1/peers/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, failed(op, resp)
	}
	var decoded struct {
		Items []PeerSummary `json:"items"`
	}
	if err := resp.decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	return decoded.Items, nil
}

func (c *Client) CreatePeer(ctx context.Context, peer mirrorconfig.Peer) error {
	op := "create peer " + peer.Name
	resp, err := c.do(ctx, c.client, op, http.MethodPost, "/v1/peers/create", map[string]any{"peer": peer})
	if err != nil {
		return err
	}
	var decoded struct {
		Status string `json:"status"`
	}
	if resp.status != http.StatusOK || resp.decode(&decoded) != nil || decoded.Status != peerCreated {
		return failed(op, resp)
	}
	return nil
}

func (c *Client) DropPeer(ctx context.Context, name string) error {
	op := "drop peer " + name
	resp, err := c.do(ctx, c.noTimeout, op, http.MethodPost, "/v1/peers/drop", map[string]string{"peerName": name})
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return failed(op, resp)
	}
	return nil
}

// MirrorStatus returns the current flow state of a mirror, or
// ErrMirrorNotFound when the control plane has no workflow for it. A 200
// without a flow state is an OperationFailedError.
func (c *Client) MirrorStatus(ctx context.Context, name string) (string, error) {
	op := "mirror status " + name
	resp, err := c.do(ctx, c.client, op, http.MethodPost, "/v1/mirrors/status", map[string]string{"flowJobName": name})
	if err != nil {
		return "", err
	}
	var decoded struct {
		CurrentFlowState string `json:"currentFlowState"`
		Message          string `json:"message"`
	}
	decodeErr := resp.decode(&decoded)
	switch {
	case resp.status == http.StatusOK && decodeErr == nil && decoded.CurrentFlowState != "":
		return decoded.CurrentFlowState, nil
	case resp.status == http.StatusInternalServerError &&
		strings.Contains(strings.ToLower(decoded.Message), mirrorNotFoundFragment):
		return "", fmt.Errorf("%s: %w", name, ErrMirrorNotFound)
	default:
		return "", failed(op, resp)
	}
}

// CreateMirror starts a CDC flow and returns its workflow id.
func (c *Client) CreateMirror(ctx context.Context, mirror mirrorconfig.Mirror) (string, error) {
	op := "create mirror " + mirror.FlowJobName
	resp, err := c.do(ctx, c.client, op, http.MethodPost, "/v1/flows/cdc/create",
		map[string]any{"connection_configs": mirror})
	if err != nil {
		return "", err
	}
	var decoded struct {
		WorkflowID string `json:"workflowId"`
	}
	if resp.status != http.StatusOK || resp.decode(&decoded) != nil || decoded.WorkflowID == "" {
		return "", failed(op, resp)
	}
	return decoded.WorkflowID, nil
}

// ChangeMirrorState requests a flow state transition.
func (c *Client) ChangeMirrorState(ctx context.Context, name, state string) error {
	op := "change mirror " + name + " to " + state
	resp, err := c.do(ctx, c.noTimeout, op, http.MethodPost, "/v1/mirrors/state_change",
		map[string]string{"flowJobName": name, "requestedFlowState": state})
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return failed(op, resp)
	}
	return nil
}
