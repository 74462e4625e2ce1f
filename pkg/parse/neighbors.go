package parse

import (
	"regexp"
	"strings"
)

// Protocol identifies the discovery protocol a neighbor was learned from.
type Protocol string

const (
	CDP  Protocol = "CDP"
	LLDP Protocol = "LLDP"
)

// Neighbor is one CDP or LLDP adjacency as seen from the local device.
type Neighbor struct {
	DeviceID     string   `json:"device_id"`
	ManagementIP string   `json:"management_ip,omitempty"`
	Platform     string   `json:"platform,omitempty"`
	LocalPort    string   `json:"local_port"`            // canonical
	RemotePort   string   `json:"remote_port,omitempty"` // canonical
	Capabilities []string `json:"capabilities,omitempty"`
	Protocol     Protocol `json:"protocol"`
}

// IsEndpoint reports whether the neighbor advertises only end-station
// capabilities (phone, host, access point). Such a neighbor terminates a
// trace instead of being followed. A neighbor with no capabilities is not
// an endpoint.
func (n Neighbor) IsEndpoint() bool {
	if len(n.Capabilities) == 0 {
		return false
	}
	infra := false
	for _, c := range n.Capabilities {
		switch c {
		case "Phone", "Host", "Station":
			return true
		case "Router", "Switch", "Bridge":
			infra = true
		}
	}
	return !infra
}

var (
	ipv4Addr       = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)
	blockSeparator = regexp.MustCompile(`^-{10,}$`)
	deviceSerial   = regexp.MustCompile(`\([^)]*\)$`)
	platformCaps   = regexp.MustCompile(`,?\s*Capabilities:\s*(.*)$`)
)

// lldpCapabilityCodes maps LLDP capability letters to the words CDP uses.
var lldpCapabilityCodes = map[string]string{
	"B": "Bridge",
	"R": "Router",
	"T": "Phone",
	"S": "Station",
	"W": "WLAN",
	"P": "Repeater",
	"C": "DOCSIS",
	"O": "Other",
}

// cdpCapabilityCodes maps the letters of the tabular CDP view.
var cdpCapabilityCodes = map[string]string{
	"R": "Router",
	"T": "Trans-Bridge",
	"B": "Source-Route-Bridge",
	"S": "Switch",
	"H": "Host",
	"I": "IGMP",
	"r": "Repeater",
	"P": "Phone",
	"D": "Remote",
	"C": "CVTA",
	"M": "Two-port",
}

// ParseNeighbors reads CDP or LLDP neighbor output. Detail output (the
// "Device ID:" / "System Name:" key-value form) is preferred; the tabular
// summary form is recognized as well but carries no management address.
// Records without a local port or device identity are dropped.
func ParseNeighbors(output string, proto Protocol) []Neighbor {
	if isDetailForm(output) {
		return parseNeighborDetail(output, proto)
	}
	return parseNeighborTable(output, proto)
}

func isDetailForm(output string) bool {
	for _, key := range []string{"Device ID:", "System Name:", "Chassis id:", "Local Intf:"} {
		if strings.Contains(output, key) {
			return true
		}
	}
	return false
}

// neighborBuilder accumulates the key-value lines of one detail block.
type neighborBuilder struct {
	n       Neighbor
	chassis string
	seen    map[string]bool
}

func newNeighborBuilder(proto Protocol) *neighborBuilder {
	return &neighborBuilder{n: Neighbor{Protocol: proto}, seen: make(map[string]bool)}
}

func (b *neighborBuilder) empty() bool {
	return len(b.seen) == 0
}

// starts reports whether key, already present in this block, marks the
// beginning of a new record. NX-OS LLDP detail has no separators.
func (b *neighborBuilder) starts(key string) bool {
	switch key {
	case "device id", "chassis id", "local intf", "local port id":
		return b.seen[key]
	}
	return false
}

func (b *neighborBuilder) build() (Neighbor, bool) {
	n := b.n
	if n.DeviceID == "" {
		n.DeviceID = b.chassis
	}
	if n.DeviceID == "" || n.LocalPort == "" {
		return Neighbor{}, false
	}
	return n, true
}

func parseNeighborDetail(output string, proto Protocol) []Neighbor {
	var neighbors []Neighbor
	b := newNeighborBuilder(proto)

	flush := func() {
		if n, ok := b.build(); ok {
			neighbors = append(neighbors, n)
		}
		b = newNeighborBuilder(proto)
	}

	for _, raw := range splitLines(output) {
		line := strings.TrimSpace(raw)
		if blockSeparator.MatchString(line) {
			if !b.empty() {
				flush()
			}
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if b.starts(key) {
			flush()
		}
		b.seen[key] = true
		b.apply(key, value, line)
	}
	if !b.empty() {
		flush()
	}
	return neighbors
}

func (b *neighborBuilder) apply(key, value, line string) {
	n := &b.n
	switch key {
	case "device id":
		n.DeviceID = deviceSerial.ReplaceAllString(value, "")
	case "system name":
		if n.DeviceID == "" || n.Protocol == LLDP {
			n.DeviceID = value
		}
	case "chassis id":
		b.chassis = value
	case "platform":
		b.applyPlatform(value)
	case "interface":
		// Interface: GigabitEthernet1/0/24,  Port ID (outgoing port): GigabitEthernet1/0/1
		local, remote, _ := strings.Cut(value, ",")
		n.LocalPort = CanonicalPort(local)
		if _, port, ok := strings.Cut(remote, "):"); ok {
			n.RemotePort = CanonicalPort(port)
		}
	case "local intf", "local port id":
		n.LocalPort = CanonicalPort(value)
	case "port id", "port id (outgoing port)":
		n.RemotePort = CanonicalPort(value)
	case "ip address", "ipv4 address", "ip", "management address", "management addresses":
		if n.ManagementIP == "" {
			if m := ipv4Addr.FindStringSubmatch(value); m != nil {
				n.ManagementIP = m[1]
			}
		}
	case "enabled capabilities":
		n.Capabilities = lldpCapabilities(value)
	case "system capabilities":
		if len(n.Capabilities) == 0 {
			n.Capabilities = lldpCapabilities(value)
		}
	}
}

// applyPlatform handles "Platform: cisco WS-C3850-24,  Capabilities: Switch IGMP".
func (b *neighborBuilder) applyPlatform(value string) {
	if m := platformCaps.FindStringSubmatch(value); m != nil {
		b.n.Capabilities = strings.Fields(m[1])
		value = platformCaps.ReplaceAllString(value, "")
	}
	b.n.Platform = cleanPlatform(value)
}

func cleanPlatform(platform string) string {
	platform = strings.TrimSuffix(strings.TrimSpace(platform), ",")
	platform = strings.TrimPrefix(platform, "cisco ")
	platform = strings.TrimPrefix(platform, "Cisco ")
	return strings.TrimSpace(platform)
}

func lldpCapabilities(value string) []string {
	var caps []string
	for _, code := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
		if word, ok := lldpCapabilityCodes[code]; ok {
			caps = append(caps, word)
		}
	}
	return caps
}

// parseNeighborTable handles "show cdp neighbors" / "show lldp neighbors"
// summary output. A device ID too long for its column sits alone on a line
// and the rest of the row follows on the next one; rows are split at the
// numeric hold time.
func parseNeighborTable(output string, proto Protocol) []Neighbor {
	var neighbors []Neighbor
	inTable := false
	pending := ""

	for _, raw := range splitLines(output) {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Device ID") || strings.HasPrefix(line, "Device-ID") {
			inTable = true
			continue
		}
		if !inTable || strings.HasPrefix(line, "Total ") {
			continue
		}

		fields := strings.Fields(line)
		if pending != "" {
			fields = append([]string{pending}, fields...)
			pending = ""
		}

		hold := -1
		for i := 2; i < len(fields); i++ {
			if isNumeric(fields[i]) {
				hold = i
				break
			}
		}
		if hold < 0 {
			if len(fields) == 1 {
				pending = fields[0]
			}
			continue
		}

		n := Neighbor{
			DeviceID:  deviceSerial.ReplaceAllString(fields[0], ""),
			LocalPort: CanonicalPort(strings.Join(fields[1:hold], " ")),
			Protocol:  proto,
		}
		tail := fields[hold+1:]
		n.Capabilities, tail = tableCapabilities(tail, proto)
		n.RemotePort, tail = tableRemotePort(tail)
		if proto == CDP && len(tail) > 0 {
			n.Platform = cleanPlatform(strings.Join(tail, " "))
		}
		neighbors = append(neighbors, n)
	}
	return neighbors
}

// tableCapabilities consumes the leading capability codes of a table row.
func tableCapabilities(fields []string, proto Protocol) ([]string, []string) {
	codes := cdpCapabilityCodes
	if proto == LLDP {
		codes = lldpCapabilityCodes
	}
	var caps []string
	for len(fields) > 1 {
		var found []string
		for _, code := range strings.Split(fields[0], ",") {
			if word, ok := codes[code]; ok {
				found = append(found, word)
			} else if code != "" && code != "s" {
				found = nil
				break
			}
		}
		if found == nil && fields[0] != "s" {
			break
		}
		caps = append(caps, found...)
		fields = fields[1:]
	}
	return caps, fields
}

// tableRemotePort takes the port ID off the end of a row. IOS prints it as
// two tokens ("Gig 1/0/1"), NX-OS as one.
func tableRemotePort(fields []string) (string, []string) {
	if len(fields) == 0 {
		return "", fields
	}
	last := len(fields) - 1
	if last > 0 && !strings.ContainsAny(fields[last-1], "0123456789") && startsWithDigit(fields[last]) {
		return CanonicalPort(fields[last-1] + fields[last]), fields[:last-1]
	}
	return CanonicalPort(fields[last]), fields[:last]
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// IndexNeighbors groups neighbors by canonical local port. A port can have
// more than one neighbor (hub, phone with a PC behind it).
func IndexNeighbors(neighbors []Neighbor) map[string][]Neighbor {
	idx := make(map[string][]Neighbor)
	for _, n := range neighbors {
		idx[n.LocalPort] = append(idx[n.LocalPort], n)
	}
	return idx
}

// MergeNeighbors combines CDP and LLDP results. Where both protocols report
// the same local port, only the CDP records are kept.
func MergeNeighbors(cdp, lldp []Neighbor) []Neighbor {
	merged := append([]Neighbor(nil), cdp...)
	covered := make(map[string]bool, len(cdp))
	for _, n := range cdp {
		covered[n.LocalPort] = true
	}
	for _, n := range lldp {
		if !covered[n.LocalPort] {
			merged = append(merged, n)
		}
	}
	return merged
}
