package networks

import (
	"crypto/sha256"
	"net"
)

// generateMAC derives a locally-administered, unicast MAC address
// deterministically from (networkID, hostname): allocating the same
// hostname twice must hand back the same address (§3 Attachment, "MAC, if
// absent, is locally-administered-unicast generated").
func generateMAC(networkID, hostname string) string {
	sum := sha256.Sum256([]byte(networkID + "\x00" + hostname))
	mac := make(net.HardwareAddr, 6)
	copy(mac, sum[:6])
	mac[0] = (mac[0] &^ 0x01) | 0x02 // clear multicast bit, set locally-administered bit
	return mac.String()
}

// deriveIPv6 computes the modified-EUI-64 interface identifier from mac and
// combines it with subnetCIDR's network prefix (§3 Attachment: "IPv6
// address... derived deterministically from the MAC under the subnet
// prefix"). ok is false if mac or subnetCIDR don't parse.
func deriveIPv6(mac, subnetCIDR string) (address string, prefixLen int, ok bool) {
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) != 6 {
		return "", 0, false
	}
	_, subnet, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return "", 0, false
	}
	ones, _ := subnet.Mask.Size()

	var iid [8]byte
	iid[0] = hw[0] ^ 0x02 // flip the universal/local bit, RFC 4291 appendix A
	iid[1] = hw[1]
	iid[2] = hw[2]
	iid[3] = 0xff
	iid[4] = 0xfe
	iid[5] = hw[3]
	iid[6] = hw[4]
	iid[7] = hw[5]

	addr := make(net.IP, 16)
	copy(addr, subnet.IP.To16())
	copy(addr[8:], iid[:])
	return addr.String(), ones, true
}
