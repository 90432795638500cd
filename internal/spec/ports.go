package spec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/pkg/types"
)

const maxPublishedPorts = 64

// ParsePublishedPort parses one published-port directive:
//
//	[host_ip:]host_port[-host_port_end]:container_port[-container_port_end][/proto]
//
// Host IP defaults to 0.0.0.0, proto defaults to tcp. The IPv6 form is
// recognized by brackets around the address, e.g. "[::1]:8080:80".
func ParsePublishedPort(s string) (types.PublishedPort, error) {
	rest := s
	proto := "tcp"
	if idx := strings.LastIndex(rest, "/"); idx >= 0 {
		proto = strings.ToLower(rest[idx+1:])
		rest = rest[:idx]
		if proto != "tcp" && proto != "udp" {
			return types.PublishedPort{}, corerr.InvalidArgumentf("published port %q: protocol must be tcp or udp", s)
		}
	}

	hostIP, portSpec, err := splitHostIP(rest)
	if err != nil {
		return types.PublishedPort{}, corerr.InvalidArgumentf("published port %q: %v", s, err)
	}

	fields := strings.Split(portSpec, ":")
	if len(fields) != 2 {
		return types.PublishedPort{}, corerr.InvalidArgumentf("published port %q: expected host:container port spec", s)
	}

	hostStart, hostEnd, err := parsePortRange(fields[0])
	if err != nil {
		return types.PublishedPort{}, corerr.InvalidArgumentf("published port %q: host range: %v", s, err)
	}
	ctrStart, ctrEnd, err := parsePortRange(fields[1])
	if err != nil {
		return types.PublishedPort{}, corerr.InvalidArgumentf("published port %q: container range: %v", s, err)
	}

	hostCount := int(hostEnd) - int(hostStart) + 1
	ctrCount := int(ctrEnd) - int(ctrStart) + 1
	if hostCount != ctrCount {
		return types.PublishedPort{}, corerr.InvalidArgumentf("published port %q: counts are not equal", s)
	}

	return types.PublishedPort{
		HostIP:        hostIP,
		HostPort:      hostStart,
		ContainerPort: ctrStart,
		Proto:         proto,
		Count:         hostCount,
	}, nil
}

func splitHostIP(s string) (hostIP, rest string, err error) {
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", fmt.Errorf("unterminated ipv6 address")
		}
		hostIP = s[1:end]
		remainder := s[end+1:]
		remainder = strings.TrimPrefix(remainder, ":")
		return hostIP, remainder, nil
	}

	// Count colons: host_ip:host_port[-end]:container_port[-end] has either
	// 1 colon (no host IP) or 2+ for an IPv4 host IP ("a.b.c.d" has no
	// colons itself).
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		return "0.0.0.0", s, nil
	case 3:
		return parts[0], parts[1] + ":" + parts[2], nil
	default:
		return "", "", fmt.Errorf("malformed port spec")
	}
}

func parsePortRange(s string) (start, end uint16, err error) {
	parts := strings.SplitN(s, "-", 2)
	startN, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", parts[0])
	}
	if startN < 2 {
		return 0, 0, fmt.Errorf("port %d out of range (must be >= 2)", startN)
	}
	if len(parts) == 1 {
		return uint16(startN), uint16(startN), nil
	}
	endN, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", parts[1])
	}
	if startN > endN {
		return 0, 0, fmt.Errorf("range start %d greater than end %d", startN, endN)
	}
	return uint16(startN), uint16(endN), nil
}

// RenderPublishedPort is the inverse of ParsePublishedPort, used to verify
// the round-trip law in §8.
func RenderPublishedPort(p types.PublishedPort) string {
	var sb strings.Builder
	host := p.HostIP
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	sb.WriteString(host)
	sb.WriteByte(':')
	sb.WriteString(portRangeString(p.HostPort, p.Count))
	sb.WriteByte(':')
	sb.WriteString(portRangeString(p.ContainerPort, p.Count))
	if p.Proto != "" && p.Proto != "tcp" {
		sb.WriteByte('/')
		sb.WriteString(p.Proto)
	}
	return sb.String()
}

func portRangeString(start uint16, count int) string {
	if count <= 1 {
		return strconv.Itoa(int(start))
	}
	end := int(start) + count - 1
	return fmt.Sprintf("%d-%d", start, end)
}

// ValidatePublishedPorts enforces the §4.A overlap rule and the §3 count
// limit across an entire set of publications.
func ValidatePublishedPorts(ports []types.PublishedPort) error {
	if len(ports) > maxPublishedPorts {
		return corerr.InvalidArgumentf("too many published ports: %d (max %d)", len(ports), maxPublishedPorts)
	}
	for i := 0; i < len(ports); i++ {
		for j := i + 1; j < len(ports); j++ {
			if portsOverlap(ports[i], ports[j]) {
				return corerr.InvalidArgumentf("published ports overlap: %s and %s",
					RenderPublishedPort(ports[i]), RenderPublishedPort(ports[j]))
			}
		}
	}
	return nil
}

func portsOverlap(a, b types.PublishedPort) bool {
	if a.Proto != b.Proto {
		return false
	}
	aStart, aEnd := int(a.HostPort), int(a.HostPort)+a.Count
	bStart, bEnd := int(b.HostPort), int(b.HostPort)+b.Count
	if aStart >= bEnd || bStart >= aEnd {
		return false
	}
	return true
}
