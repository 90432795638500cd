// Package transport is the IPC bus (§6): a JSON-over-HTTP server and client
// pair speaking over a unix domain socket, exposing container.*, network.*,
// and content.* routes.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/corevisor/corectl/internal/containers"
	"github.com/corevisor/corectl/internal/content"
	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/internal/networks"
	"github.com/corevisor/corectl/pkg/types"
	"github.com/corevisor/corectl/version"
)

const (
	defaultSocketFile = "corectl.sock"
	defaultLockFile   = "corectl.lock"
)

// Server exposes the Containers and Networks services and the content store
// over a local socket.
type Server struct {
	AppRoot    string
	SocketPath string

	containers *containers.Service
	networks   *networks.Service
	content    *content.Store

	listener net.Listener
	lockFile *os.File
	shutdown chan struct{}
}

// NewServer constructs a Server bound to appRoot/corectl.sock.
func NewServer(appRoot string, containerSvc *containers.Service, networkSvc *networks.Service, contentStore *content.Store) *Server {
	return &Server{
		AppRoot:    appRoot,
		SocketPath: filepath.Join(appRoot, defaultSocketFile),
		containers: containerSvc,
		networks:   networkSvc,
		content:    contentStore,
	}
}

// Serve acquires the daemon lock, binds the unix socket, and blocks until
// Shutdown is called or SIGINT/SIGTERM is received.
func (s *Server) Serve(ctx context.Context) error {
	lockPath := filepath.Join(s.AppRoot, defaultLockFile)
	lockFile, err := acquireLock(lockPath)
	if err != nil {
		return err
	}
	s.lockFile = lockFile

	os.Remove(s.SocketPath)
	listener, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "binding socket %q", s.SocketPath)
	}
	if err := os.Chmod(s.SocketPath, 0o600); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "chmod socket %q", s.SocketPath)
	}

	s.listener = listener
	s.shutdown = make(chan struct{})

	go s.waitForSignal(ctx)
	go s.serveHTTP()

	<-s.shutdown
	return nil
}

func (s *Server) waitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
		s.Shutdown(ctx)
	case <-sigCh:
		s.Shutdown(ctx)
	case <-s.shutdown:
	}
}

// Shutdown closes the listener, removes the socket and lock files, and
// unblocks Serve.
func (s *Server) Shutdown(ctx context.Context) {
	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(s.SocketPath)

	if s.lockFile != nil {
		syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
		s.lockFile.Close()
		if err := os.Remove(filepath.Join(s.AppRoot, defaultLockFile)); err != nil {
			slog.ErrorContext(ctx, "transport: removing lockfile", "error", err)
		}
	}

	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

func (s *Server) serveHTTP() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/shutdown", s.handleShutdown)

	mux.HandleFunc("/container.create", s.handleContainerCreate)
	mux.HandleFunc("/container.bootstrap", s.handleContainerBootstrap)
	mux.HandleFunc("/container.startProcess", s.handleContainerStartProcess)
	mux.HandleFunc("/container.kill", s.handleContainerKill)
	mux.HandleFunc("/container.stop", s.handleContainerStop)
	mux.HandleFunc("/container.delete", s.handleContainerDelete)
	mux.HandleFunc("/container.get", s.handleContainerGet)
	mux.HandleFunc("/container.list", s.handleContainerList)

	mux.HandleFunc("/network.create", s.handleNetworkCreate)
	mux.HandleFunc("/network.delete", s.handleNetworkDelete)
	mux.HandleFunc("/network.allocate", s.handleNetworkAllocate)
	mux.HandleFunc("/network.deallocate", s.handleNetworkDeallocate)
	mux.HandleFunc("/network.get", s.handleNetworkGet)
	mux.HandleFunc("/network.list", s.handleNetworkList)
	mux.HandleFunc("/network.lookup", s.handleNetworkLookup)

	mux.HandleFunc("/content.get", s.handleContentGet)
	mux.HandleFunc("/content.newIngestSession", s.handleContentNewIngestSession)
	mux.HandleFunc("/content.completeIngestSession", s.handleContentCompleteIngestSession)
	mux.HandleFunc("/content.cancelIngestSession", s.handleContentCancelIngestSession)
	mux.HandleFunc("/content.deleteByDigests", s.handleContentDeleteByDigests)
	mux.HandleFunc("/content.deleteKeeping", s.handleContentDeleteKeeping)

	server := &http.Server{Handler: mux}
	server.Serve(s.listener)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeErr maps a corerr.Kind to the matching HTTP status, per §6.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch corerr.KindOf(err) {
	case corerr.InvalidArgument:
		status = http.StatusBadRequest
	case corerr.NotFound:
		status = http.StatusNotFound
	case corerr.Exists:
		status = http.StatusConflict
	case corerr.InvalidState:
		status = http.StatusConflict
	case corerr.Unsupported:
		status = http.StatusNotImplemented
	case corerr.Timeout:
		status = http.StatusGatewayTimeout
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "kind": string(corerr.KindOf(err))})
}

func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return v, corerr.InvalidArgumentf("decoding request body: %v", err)
	}
	return v, nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "pong"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, version.Get())
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.Shutdown(r.Context())
	}()
}

type createContainerRequest struct {
	Config  types.ContainerConfig      `json:"config"`
	Options containers.CreateOptions   `json:"options"`
}

func (s *Server) handleContainerCreate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[createContainerRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.containers.Create(r.Context(), req.Config, req.Options)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, snap)
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleContainerBootstrap(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[idRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.containers.Bootstrap(r.Context(), req.ID, containers.StdioFDs{}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type startProcessRequest struct {
	ID        string         `json:"id"`
	ProcessID string         `json:"processID"`
	Process   *types.Process `json:"process"`
}

func (s *Server) handleContainerStartProcess(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[startProcessRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.containers.StartProcess(r.Context(), req.ID, req.ProcessID, req.Process); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type killRequest struct {
	ID        string `json:"id"`
	ProcessID string `json:"processID"`
	Signal    string `json:"signal"`
}

func (s *Server) handleContainerKill(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[killRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.containers.Kill(r.Context(), req.ID, req.ProcessID, req.Signal); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type stopRequest struct {
	ID      string             `json:"id"`
	Options types.StopOptions  `json:"options"`
}

func (s *Server) handleContainerStop(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[stopRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.containers.Stop(r.Context(), req.ID, req.Options); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type deleteRequest struct {
	ID    string `json:"id"`
	Force bool   `json:"force"`
}

func (s *Server) handleContainerDelete(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[deleteRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.containers.Delete(r.Context(), req.ID, req.Force); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleContainerGet(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[idRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.containers.Get(req.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleContainerList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.containers.Snapshots())
}

func (s *Server) handleNetworkCreate(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeBody[types.NetworkConfig](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.networks.Create(r.Context(), cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleNetworkDelete(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[idRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.networks.Delete(r.Context(), req.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type allocateRequest struct {
	NetworkID string `json:"networkID"`
	Hostname  string `json:"hostname"`
	MAC       string `json:"mac"`
}

func (s *Server) handleNetworkAllocate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[allocateRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	att, plugin, err := s.networks.Allocate(req.NetworkID, req.Hostname, req.MAC)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{"attachment": att, "plugin": plugin})
}

func (s *Server) handleNetworkDeallocate(w http.ResponseWriter, r *http.Request) {
	att, err := decodeBody[types.Attachment](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.networks.Deallocate(att); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleNetworkGet(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[idRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.networks.Get(req.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleNetworkList(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.networks.List()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, snaps)
}

type hostnameRequest struct {
	Hostname string `json:"hostname"`
}

func (s *Server) handleNetworkLookup(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[hostnameRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	att, ok := s.networks.Lookup(req.Hostname)
	if !ok {
		writeErr(w, corerr.NotFoundf("hostname %q not found", req.Hostname))
		return
	}
	writeJSON(w, att)
}

type digestRequest struct {
	Digest string `json:"digest"`
}

func (s *Server) handleContentGet(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[digestRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	d, err := digest.Parse(req.Digest)
	if err != nil {
		writeErr(w, corerr.InvalidArgumentf("invalid digest %q: %v", req.Digest, err))
		return
	}
	blob, ok, err := s.content.Stat(d)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, corerr.NotFoundf("blob %q not found", req.Digest))
		return
	}
	writeJSON(w, blob)
}

func (s *Server) handleContentNewIngestSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.content.NewIngestSession()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, session)
}

type sessionRequest struct {
	SessionID string `json:"sessionID"`
}

func (s *Server) handleContentCompleteIngestSession(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[sessionRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	digests, err := s.content.CompleteIngestSession(req.SessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]string, len(digests))
	for i, d := range digests {
		out[i] = d.String()
	}
	writeJSON(w, out)
}

func (s *Server) handleContentCancelIngestSession(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[sessionRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.content.CancelIngestSession(req.SessionID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type digestsRequest struct {
	Digests []string `json:"digests"`
}

func parseDigests(raw []string) ([]digest.Digest, error) {
	out := make([]digest.Digest, len(raw))
	for i, s := range raw {
		d, err := digest.Parse(s)
		if err != nil {
			return nil, corerr.InvalidArgumentf("invalid digest %q: %v", s, err)
		}
		out[i] = d
	}
	return out, nil
}

type deleteDigestsResponse struct {
	Deleted    []string `json:"deleted"`
	BytesFreed int64    `json:"bytesFreed"`
}

func (s *Server) handleContentDeleteByDigests(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[digestsRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	digests, err := parseDigests(req.Digests)
	if err != nil {
		writeErr(w, err)
		return
	}
	deleted, bytesFreed, err := s.content.DeleteDigests(digests)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]string, len(deleted))
	for i, d := range deleted {
		out[i] = d.String()
	}
	writeJSON(w, deleteDigestsResponse{Deleted: out, BytesFreed: bytesFreed})
}

func (s *Server) handleContentDeleteKeeping(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[digestsRequest](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	keep, err := parseDigests(req.Digests)
	if err != nil {
		writeErr(w, err)
		return
	}
	keepSet := make(map[digest.Digest]bool, len(keep))
	for _, d := range keep {
		keepSet[d] = true
	}
	deleted, bytesFreed, err := s.content.DeleteExcept(keepSet)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]string, len(deleted))
	for i, d := range deleted {
		out[i] = d.String()
	}
	writeJSON(w, deleteDigestsResponse{Deleted: out, BytesFreed: bytesFreed})
}

func acquireLock(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, corerr.Wrap(corerr.InternalError, err, "opening lock file %q", path)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, corerr.InvalidStatef("daemon already running (lock %q held)", path)
	}
	file.Truncate(0)
	fmt.Fprintf(file, "%d", os.Getpid())
	return file, nil
}
