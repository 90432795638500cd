// Package types defines the shared, JSON-serializable data model records
// that flow across the IPC bus between the core services and their callers.
package types

import "time"

// ContainerStatus is the container runtime state machine (§3).
type ContainerStatus string

const (
	StatusStopped  ContainerStatus = "stopped"
	StatusRunning  ContainerStatus = "running"
	StatusStopping ContainerStatus = "stopping"
)

// Platform identifies an image's target OS/architecture/variant.
type Platform struct {
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	Variant      string `json:"variant,omitempty"`
}

// ImageReference is a resolved image reference plus the platform it targets.
type ImageReference struct {
	Reference string   `json:"reference"`
	Platform  Platform `json:"platform"`
}

// Process describes the init process (or an exec'd process) configuration.
type Process struct {
	Executable         string   `json:"executable"`
	Arguments          []string `json:"arguments,omitempty"`
	Environment        []string `json:"environment,omitempty"`
	WorkingDirectory   string   `json:"workingDirectory,omitempty"`
	User               string   `json:"user,omitempty"`
	UID                *uint32  `json:"uid,omitempty"`
	GID                *uint32  `json:"gid,omitempty"`
	SupplementalGroups []uint32 `json:"supplementalGroups,omitempty"`
	Terminal           bool     `json:"terminal"`
}

// Resources are the container's resource grants.
type Resources struct {
	CPUs          int   `json:"cpus"`
	MemoryInBytes int64 `json:"memoryInBytes"`
}

// MountKind is the tag of a Mount's tagged union.
type MountKind string

const (
	MountTmpfs  MountKind = "tmpfs"
	MountBind   MountKind = "bind"
	MountVolume MountKind = "volume"
)

// Mount is one entry of a container's ordered mount list.
type Mount struct {
	Kind        MountKind `json:"kind"`
	Source      string    `json:"source,omitempty"`
	Destination string    `json:"destination"`
	Options     []string  `json:"options,omitempty"`

	// VolumeFormat and VolumeName are set only when Kind == MountVolume.
	VolumeFormat string `json:"volumeFormat,omitempty"`
	VolumeName   string `json:"volumeName,omitempty"`

	// SizeBytes is set only when Kind == MountTmpfs and a size= option was given.
	SizeBytes int64 `json:"sizeBytes,omitempty"`
}

// NetworkAttachmentConfig is one entry of a container's ordered network list.
type NetworkAttachmentConfig struct {
	NetworkID string `json:"networkID"`
	Hostname  string `json:"hostname"`
	MAC       string `json:"mac,omitempty"`
}

// DNSConfig is the container's optional resolver configuration.
type DNSConfig struct {
	Nameservers   []string `json:"nameservers,omitempty"`
	Domain        string   `json:"domain,omitempty"`
	SearchDomains []string `json:"searchDomains,omitempty"`
	Options       []string `json:"options,omitempty"`
}

// PublishedPort is a host<->container port mapping.
type PublishedPort struct {
	HostIP        string `json:"hostIP"`
	HostPort      uint16 `json:"hostPort"`
	ContainerPort uint16 `json:"containerPort"`
	Proto         string `json:"proto"`
	Count         int    `json:"count"`
}

// PublishedSocket is a host<->container unix socket mapping.
type PublishedSocket struct {
	HostPath      string `json:"hostPath"`
	ContainerPath string `json:"containerPath"`
	Mode          *uint32 `json:"mode,omitempty"`
}

// ContainerConfig is the immutable-after-create record for a container.
type ContainerConfig struct {
	ID               string                    `json:"id"`
	Image            ImageReference            `json:"image"`
	Process          Process                   `json:"process"`
	Resources        Resources                 `json:"resources"`
	Mounts           []Mount                   `json:"mounts,omitempty"`
	Networks         []NetworkAttachmentConfig `json:"networks,omitempty"`
	DNS              *DNSConfig                `json:"dns,omitempty"`
	PublishedPorts   []PublishedPort           `json:"publishedPorts,omitempty"`
	PublishedSockets []PublishedSocket         `json:"publishedSockets,omitempty"`
	RuntimeHandler   string                    `json:"runtimeHandler"`
	Labels           map[string]string         `json:"labels,omitempty"`
	AutoRemove       bool                      `json:"autoRemove"`
}

// Attachment is the immutable snapshot produced when a container's network
// interface is allocated.
type Attachment struct {
	NetworkID     string `json:"networkID"`
	Hostname      string `json:"hostname"`
	IPv4Address   string `json:"ipv4Address"`
	IPv4Prefix    int    `json:"ipv4Prefix"`
	IPv4Gateway   string `json:"ipv4Gateway"`
	IPv6Address   string `json:"ipv6Address,omitempty"`
	IPv6Prefix    int    `json:"ipv6Prefix,omitempty"`
	MAC           string `json:"mac"`
}

// ContainerSnapshot is the mutable runtime state paired with its immutable
// configuration.
type ContainerSnapshot struct {
	Config            ContainerConfig  `json:"config"`
	Status            ContainerStatus  `json:"status"`
	StartedAt         *time.Time       `json:"startedAt,omitempty"`
	AllocatedNetworks []Attachment     `json:"allocatedNetworks,omitempty"`
}

// ExitStatus is the result of a process's termination.
type ExitStatus struct {
	ProcessID string `json:"processID"`
	ExitCode  int32  `json:"exitCode"`
}

// StopOptions parameterize Containers.Stop.
type StopOptions struct {
	Timeout time.Duration `json:"timeout"`
	Signal  string        `json:"signal"`
}
