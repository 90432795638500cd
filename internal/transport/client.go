package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/corevisor/corectl/internal/containers"
	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/pkg/types"
	"github.com/corevisor/corectl/version"
)

// Client is the caller-side stub for the transport bus.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient dials the given socket path lazily (the unix socket is only
// connected on first request).
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return corerr.Wrap(corerr.InvalidArgument, err, "marshaling request")
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, reqBody)
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "daemon not reachable at %q", c.socketPath)
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
		return corerr.Internalf("HTTP %d", resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "decoding response")
	}
	return nil
}

// Ping round-trips a liveness check against the daemon.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil)
}

// Version returns the daemon's build info.
func (c *Client) Version(ctx context.Context) (version.Info, error) {
	var v version.Info
	err := c.do(ctx, http.MethodGet, "/version", nil, &v)
	return v, err
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/shutdown", nil, nil)
}

// CreateContainer issues container.create.
func (c *Client) CreateContainer(ctx context.Context, cfg types.ContainerConfig, opts containers.CreateOptions) (types.ContainerSnapshot, error) {
	var snap types.ContainerSnapshot
	err := c.do(ctx, http.MethodPost, "/container.create", createContainerRequest{Config: cfg, Options: opts}, &snap)
	return snap, err
}

// BootstrapContainer issues container.bootstrap.
func (c *Client) BootstrapContainer(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/container.bootstrap", idRequest{ID: id}, nil)
}

// StartProcess issues container.startProcess.
func (c *Client) StartProcess(ctx context.Context, id, processID string, proc *types.Process) error {
	return c.do(ctx, http.MethodPost, "/container.startProcess", startProcessRequest{ID: id, ProcessID: processID, Process: proc}, nil)
}

// Kill issues container.kill.
func (c *Client) Kill(ctx context.Context, id, processID, signal string) error {
	return c.do(ctx, http.MethodPost, "/container.kill", killRequest{ID: id, ProcessID: processID, Signal: signal}, nil)
}

// Stop issues container.stop.
func (c *Client) Stop(ctx context.Context, id string, opts types.StopOptions) error {
	return c.do(ctx, http.MethodPost, "/container.stop", stopRequest{ID: id, Options: opts}, nil)
}

// DeleteContainer issues container.delete.
func (c *Client) DeleteContainer(ctx context.Context, id string, force bool) error {
	return c.do(ctx, http.MethodPost, "/container.delete", deleteRequest{ID: id, Force: force}, nil)
}

// GetContainer issues container.get.
func (c *Client) GetContainer(ctx context.Context, id string) (types.ContainerSnapshot, error) {
	var snap types.ContainerSnapshot
	err := c.do(ctx, http.MethodPost, "/container.get", idRequest{ID: id}, &snap)
	return snap, err
}

// ListContainers issues container.list.
func (c *Client) ListContainers(ctx context.Context) ([]types.ContainerSnapshot, error) {
	var snaps []types.ContainerSnapshot
	err := c.do(ctx, http.MethodGet, "/container.list", nil, &snaps)
	return snaps, err
}

// CreateNetwork issues network.create.
func (c *Client) CreateNetwork(ctx context.Context, cfg types.NetworkConfig) (types.NetworkSnapshot, error) {
	var snap types.NetworkSnapshot
	err := c.do(ctx, http.MethodPost, "/network.create", cfg, &snap)
	return snap, err
}

// DeleteNetwork issues network.delete.
func (c *Client) DeleteNetwork(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/network.delete", idRequest{ID: id}, nil)
}

// AllocateNetwork issues network.allocate.
func (c *Client) AllocateNetwork(ctx context.Context, networkID, hostname, mac string) (types.Attachment, types.PluginInfo, error) {
	var result struct {
		Attachment types.Attachment `json:"attachment"`
		Plugin     types.PluginInfo `json:"plugin"`
	}
	err := c.do(ctx, http.MethodPost, "/network.allocate", allocateRequest{NetworkID: networkID, Hostname: hostname, MAC: mac}, &result)
	return result.Attachment, result.Plugin, err
}

// DeallocateNetwork issues network.deallocate.
func (c *Client) DeallocateNetwork(ctx context.Context, att types.Attachment) error {
	return c.do(ctx, http.MethodPost, "/network.deallocate", att, nil)
}

// GetNetwork issues network.get.
func (c *Client) GetNetwork(ctx context.Context, id string) (types.NetworkSnapshot, error) {
	var snap types.NetworkSnapshot
	err := c.do(ctx, http.MethodPost, "/network.get", idRequest{ID: id}, &snap)
	return snap, err
}

// ListNetworks issues network.list.
func (c *Client) ListNetworks(ctx context.Context) ([]types.NetworkSnapshot, error) {
	var snaps []types.NetworkSnapshot
	err := c.do(ctx, http.MethodGet, "/network.list", nil, &snaps)
	return snaps, err
}

// LookupNetwork issues network.lookup.
func (c *Client) LookupNetwork(ctx context.Context, hostname string) (types.Attachment, error) {
	var att types.Attachment
	err := c.do(ctx, http.MethodPost, "/network.lookup", hostnameRequest{Hostname: hostname}, &att)
	return att, err
}

// GetBlob issues content.get.
func (c *Client) GetBlob(ctx context.Context, d digest.Digest) (types.Blob, error) {
	var blob types.Blob
	err := c.do(ctx, http.MethodPost, "/content.get", digestRequest{Digest: d.String()}, &blob)
	return blob, err
}

// NewIngestSession issues content.newIngestSession.
func (c *Client) NewIngestSession(ctx context.Context) (types.IngestSession, error) {
	var session types.IngestSession
	err := c.do(ctx, http.MethodPost, "/content.newIngestSession", nil, &session)
	return session, err
}

// CompleteIngestSession issues content.completeIngestSession.
func (c *Client) CompleteIngestSession(ctx context.Context, sessionID string) ([]digest.Digest, error) {
	var raw []string
	if err := c.do(ctx, http.MethodPost, "/content.completeIngestSession", sessionRequest{SessionID: sessionID}, &raw); err != nil {
		return nil, err
	}
	out := make([]digest.Digest, len(raw))
	for i, s := range raw {
		d, err := digest.Parse(s)
		if err != nil {
			return nil, corerr.Wrap(corerr.InternalError, err, "decoding committed digest %q", s)
		}
		out[i] = d
	}
	return out, nil
}

// CancelIngestSession issues content.cancelIngestSession.
func (c *Client) CancelIngestSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/content.cancelIngestSession", sessionRequest{SessionID: sessionID}, nil)
}

// DeleteBlobsByDigests issues content.deleteByDigests.
func (c *Client) DeleteBlobsByDigests(ctx context.Context, digests []digest.Digest) ([]digest.Digest, int64, error) {
	return c.deleteBlobs(ctx, "/content.deleteByDigests", digests)
}

// DeleteBlobsKeeping issues content.deleteKeeping, garbage-collecting every
// blob not present in keep.
func (c *Client) DeleteBlobsKeeping(ctx context.Context, keep []digest.Digest) ([]digest.Digest, int64, error) {
	return c.deleteBlobs(ctx, "/content.deleteKeeping", keep)
}

func (c *Client) deleteBlobs(ctx context.Context, path string, digests []digest.Digest) ([]digest.Digest, int64, error) {
	raw := make([]string, len(digests))
	for i, d := range digests {
		raw[i] = d.String()
	}
	var resp deleteDigestsResponse
	if err := c.do(ctx, http.MethodPost, path, digestsRequest{Digests: raw}, &resp); err != nil {
		return nil, 0, err
	}
	out := make([]digest.Digest, len(resp.Deleted))
	for i, s := range resp.Deleted {
		d, err := digest.Parse(s)
		if err != nil {
			return nil, 0, corerr.Wrap(corerr.InternalError, err, "decoding deleted digest %q", s)
		}
		out[i] = d
	}
	return out, resp.BytesFreed, nil
}
