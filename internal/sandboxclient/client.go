// Package sandboxclient is the RPC contract the Containers service speaks
// to a per-container sandbox helper process over a dedicated unix socket:
// bootstrap, process lifecycle, resize, and teardown.
package sandboxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/corevisor/corectl/internal/containers"
	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/pkg/types"
)

const socketFileName = "sandbox.sock"

var _ containers.SandboxClient = (*Client)(nil)

// SocketPath returns the per-container socket path under bundleDir.
func SocketPath(bundleDir string) string {
	return filepath.Join(bundleDir, socketFileName)
}

// Client dials the sandbox helper for a single container over its unix
// socket, mirroring the teacher's http-over-unix-socket mux client idiom.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// Dial returns a client for the helper listening at socketPath. It does not
// connect or check that the socket exists; the first request surfaces the
// error.
func Dial(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: 0,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *Client) do(ctx context.Context, path string, body, result any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return corerr.Wrap(corerr.InvalidArgument, err, "marshaling sandbox request")
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, reader)
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "building sandbox request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "sandbox helper unreachable at %q", c.socketPath)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return &corerr.Error{Kind: corerr.Kind(errResp.Kind), Message: errResp.Error}
		}
		return corerr.Internalf("sandbox helper: HTTP %d", resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

type bootstrapRequest struct {
	Stdin  bool `json:"stdin"`
	Stdout bool `json:"stdout"`
	Stderr bool `json:"stderr"`
}

// Bootstrap issues the one-time helper bootstrap call (§4.G). Only the
// presence of each stdio fd is sent, as a boolean; the fds themselves are
// not transferred to the helper.
func (c *Client) Bootstrap(ctx context.Context, stdio containers.StdioFDs) error {
	req := bootstrapRequest{Stdin: stdio.Stdin != nil, Stdout: stdio.Stdout != nil, Stderr: stdio.Stderr != nil}
	return c.do(ctx, "/bootstrap", req, nil)
}

type startProcessRequest struct {
	ProcessID string         `json:"processID"`
	Process   *types.Process `json:"process"`
}

// StartProcess starts processID (init if it equals the container id).
func (c *Client) StartProcess(ctx context.Context, processID string, proc *types.Process) error {
	return c.do(ctx, "/startProcess", startProcessRequest{ProcessID: processID, Process: proc}, nil)
}

type signalRequest struct {
	ProcessID string `json:"processID"`
	Signal    string `json:"signal"`
}

// Kill delivers signal to processID without waiting for exit.
func (c *Client) Kill(ctx context.Context, processID, signal string) error {
	return c.do(ctx, "/kill", signalRequest{ProcessID: processID, Signal: signal}, nil)
}

// Stop asks the helper to gracefully terminate the container per opts.
func (c *Client) Stop(ctx context.Context, opts types.StopOptions) error {
	return c.do(ctx, "/stop", opts, nil)
}

type waitRequest struct {
	ProcessID string `json:"processID"`
}

// Wait blocks until processID exits and returns its status.
func (c *Client) Wait(ctx context.Context, processID string) (types.ExitStatus, error) {
	var status types.ExitStatus
	longCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := c.do(longCtx, "/wait", waitRequest{ProcessID: processID}, &status)
	return status, err
}

type resizeRequest struct {
	ProcessID string `json:"processID"`
	Cols      uint32 `json:"cols"`
	Rows      uint32 `json:"rows"`
}

// Resize propagates a terminal resize to processID's pty, if it has one.
func (c *Client) Resize(ctx context.Context, processID string, cols, rows uint32) error {
	return c.do(ctx, "/resize", resizeRequest{ProcessID: processID, Cols: cols, Rows: rows}, nil)
}

// Networks returns the container's currently allocated network attachments.
func (c *Client) Networks(ctx context.Context) ([]types.Attachment, error) {
	var atts []types.Attachment
	err := c.do(ctx, "/networks", nil, &atts)
	return atts, err
}

// Shutdown asks the helper to tear itself down after its container stopped.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, "/shutdown", nil, nil)
}

// Close is a no-op; the client holds no local resources beyond the HTTP
// transport, which needs no explicit teardown.
func (c *Client) Close() error {
	return nil
}

// waitForSocket polls until path is dialable or the deadline elapses,
// used right after the supervisor reports a helper registered.
func waitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("unix", path, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return corerr.Timeoutf("sandbox helper socket %q did not come up", path)
}

// WaitReady blocks until the helper's socket at bundleDir is dialable.
func WaitReady(bundleDir string, timeout time.Duration) error {
	return waitForSocket(SocketPath(bundleDir), timeout)
}
