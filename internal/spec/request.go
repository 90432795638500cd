package spec

import (
	"os"
	"time"

	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/pkg/idgen"
	"github.com/corevisor/corectl/pkg/types"
)

// ContainerRequest is the raw, string-typed shape a CLI front-end (or any
// other caller) hands to BuildContainerConfig: one entry per repeatable
// flag, exactly as received on the wire, with no validation performed yet.
type ContainerRequest struct {
	ID             string
	Image          string
	Platform       types.Platform
	Executable     string
	Arguments      []string
	EnvDirectives  []string // KEY=VALUE or bare KEY, per ParseEnv
	EnvFiles       []string // paths, read with ReadEnvFile
	WorkingDir     string
	User           string
	CPUs           int
	MemoryInBytes  int64
	Mounts         []string // mount directives, per ParseMount
	Volumes        []string // short-form volume specs, per ParseVolumeShortForm
	Networks       []string // network attachment specs, per ParseNetworkAttachment
	DNSNameservers []string
	DNSDomain      string
	DNSSearch      []string
	Ports          []string // published-port directives
	RuntimeHandler string
	Labels         []string // KEY=VALUE, per ParseLabel
	AutoRemove     bool
}

// BuildContainerConfig validates and assembles a full container
// configuration from the wire-level request, the one entry point that ties
// together every §4.A grammar. On any error, no partial configuration is
// returned.
func BuildContainerConfig(req ContainerRequest, r *Resolver, now time.Time) (types.ContainerConfig, error) {
	id := req.ID
	if id == "" {
		id = idgen.FallbackContainerName()
	}
	if err := ValidateContainerID(id); err != nil {
		return types.ContainerConfig{}, err
	}

	env := make([]string, 0, len(req.EnvDirectives))
	for _, d := range req.EnvDirectives {
		kv, ok, err := ParseEnv(d, os.LookupEnv)
		if err != nil {
			return types.ContainerConfig{}, err
		}
		if ok {
			env = append(env, kv)
		}
	}
	for _, path := range req.EnvFiles {
		kvs, err := ReadEnvFile(path)
		if err != nil {
			return types.ContainerConfig{}, err
		}
		env = append(env, kvs...)
	}

	mounts := make([]types.Mount, 0, len(req.Mounts)+len(req.Volumes))
	for _, spec := range req.Mounts {
		m, err := r.ParseMount(spec, now)
		if err != nil {
			return types.ContainerConfig{}, err
		}
		mounts = append(mounts, m)
	}
	for _, spec := range req.Volumes {
		m, err := r.ParseVolumeShortForm(spec, now)
		if err != nil {
			return types.ContainerConfig{}, err
		}
		mounts = append(mounts, m)
	}

	networks := make([]types.NetworkAttachmentConfig, 0, len(req.Networks))
	for _, spec := range req.Networks {
		n, err := ParseNetworkAttachment(spec)
		if err != nil {
			return types.ContainerConfig{}, err
		}
		networks = append(networks, n)
	}

	var dns *types.DNSConfig
	if len(req.DNSNameservers) > 0 || req.DNSDomain != "" || len(req.DNSSearch) > 0 {
		if err := ValidateDNSConfig(req.DNSNameservers, req.DNSDomain, req.DNSSearch); err != nil {
			return types.ContainerConfig{}, err
		}
		dns = &types.DNSConfig{
			Nameservers:   req.DNSNameservers,
			Domain:        req.DNSDomain,
			SearchDomains: req.DNSSearch,
		}
	}

	ports := make([]types.PublishedPort, 0, len(req.Ports))
	for _, spec := range req.Ports {
		p, err := ParsePublishedPort(spec)
		if err != nil {
			return types.ContainerConfig{}, err
		}
		ports = append(ports, p)
	}
	if err := ValidatePublishedPorts(ports); err != nil {
		return types.ContainerConfig{}, err
	}

	labels := make(map[string]string, len(req.Labels))
	for _, spec := range req.Labels {
		k, v, err := ParseLabel(spec)
		if err != nil {
			return types.ContainerConfig{}, err
		}
		labels[k] = v
	}
	if err := ValidateLabels(labels); err != nil {
		return types.ContainerConfig{}, err
	}

	if req.Executable == "" {
		return types.ContainerConfig{}, corerr.InvalidArgumentf("container %q: missing executable", id)
	}
	if req.Image == "" {
		return types.ContainerConfig{}, corerr.InvalidArgumentf("container %q: missing image reference", id)
	}
	if req.RuntimeHandler == "" {
		return types.ContainerConfig{}, corerr.InvalidArgumentf("container %q: missing runtime handler", id)
	}

	return types.ContainerConfig{
		ID: id,
		Image: types.ImageReference{
			Reference: req.Image,
			Platform:  req.Platform,
		},
		Process: types.Process{
			Executable:       req.Executable,
			Arguments:        req.Arguments,
			Environment:      env,
			WorkingDirectory: req.WorkingDir,
			User:             req.User,
		},
		Resources: types.Resources{
			CPUs:          req.CPUs,
			MemoryInBytes: req.MemoryInBytes,
		},
		Mounts:         mounts,
		Networks:       networks,
		DNS:            dns,
		PublishedPorts: ports,
		RuntimeHandler: req.RuntimeHandler,
		Labels:         labels,
		AutoRemove:     req.AutoRemove,
	}, nil
}
