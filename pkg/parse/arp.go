package parse

import (
	"net"
	"strings"
)

// ARPEntry is one row of an ARP table.
type ARPEntry struct {
	IP        string `json:"ip"`
	Age       string `json:"age"` // minutes on IOS, hh:mm:ss on NX-OS, "-" for local
	MAC       string `json:"mac"`
	Interface string `json:"interface,omitempty"`
}

// ParseARP reads "show ip arp" output. Both the IOS layout
// (Internet 10.1.1.5 3 0011.2233.4455 ARPA Vlan10) and the NX-OS layout
// (10.1.1.5 00:01:12 0011.2233.4455 Vlan10) are recognized; incomplete
// entries are skipped.
func ParseARP(output string) []ARPEntry {
	var entries []ARPEntry
	for _, line := range splitLines(output) {
		fields := strings.Fields(line)

		var e ARPEntry
		switch {
		case len(fields) >= 5 && fields[0] == "Internet" && fields[4] == "ARPA":
			e = ARPEntry{IP: fields[1], Age: fields[2], MAC: fields[3]}
			if len(fields) >= 6 {
				e.Interface = fields[5]
			}
		case len(fields) >= 4 && net.ParseIP(fields[0]) != nil:
			e = ARPEntry{IP: fields[0], Age: fields[1], MAC: fields[2], Interface: fields[3]}
		default:
			continue
		}

		if !IsDottedMAC(e.MAC) {
			continue
		}
		e.MAC = strings.ToLower(e.MAC)
		e.Interface = CanonicalPort(e.Interface)
		entries = append(entries, e)
	}
	return entries
}
