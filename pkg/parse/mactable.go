package parse

import (
	"strings"
)

// MACEntry is one row of a MAC address table.
type MACEntry struct {
	VLAN string
	MAC  string // xxxx.xxxx.xxxx
	Type string // lowercased, e.g. "dynamic"
	Port string // canonical
}

// MACFilter narrows what ParseMACTable returns.
type MACFilter struct {
	// MAC, when set, keeps only rows for this address. Any notation is
	// accepted; an unparseable value matches nothing.
	MAC string

	// KeepAggregates retains port-channel rows. Inventory dumps drop them;
	// the tracer needs them to resolve bundle members.
	KeepAggregates bool
}

// nxosFlagTokens are the single-character markers NX-OS prints in front of
// the VLAN column (primary entry, vPC peer, gateway, control plane, ...).
const nxosFlagTokens = "*+GCO~"

// ParseMACTable extracts dynamic entries from "show mac address-table"
// output in either IOS/IOS-XE or NX-OS layout. Static entries, headers and
// pseudo-ports (CPU, Switch, Router, VLAN interfaces) are skipped.
func ParseMACTable(output string, filter MACFilter) []MACEntry {
	want := ""
	if filter.MAC != "" {
		mac, err := NormalizeMAC(filter.MAC)
		if err != nil {
			return nil
		}
		want = mac
	}

	var entries []MACEntry
	for _, line := range splitLines(output) {
		fields := stripFlagTokens(strings.Fields(line))
		if len(fields) < 4 || !isNumeric(fields[0]) || !IsDottedMAC(fields[1]) {
			continue
		}

		typ := strings.ToLower(fields[2])
		if !strings.Contains(typ, "dynamic") {
			continue
		}

		mac := strings.ToLower(fields[1])
		if want != "" && mac != want {
			continue
		}

		port := macTablePort(fields[3:])
		if port == "" || isPseudoPort(port, filter.KeepAggregates) {
			continue
		}

		entries = append(entries, MACEntry{
			VLAN: fields[0],
			MAC:  mac,
			Type: typ,
			Port: port,
		})
	}
	return entries
}

// stripFlagTokens drops leading NX-OS marker columns.
func stripFlagTokens(fields []string) []string {
	for len(fields) > 0 && len(fields[0]) == 1 && strings.Contains(nxosFlagTokens, fields[0]) {
		fields = fields[1:]
	}
	return fields
}

// macTablePort skips the metadata columns that follow the type (NX-OS age,
// secure and notify flags, the Catalyst 4500 protocol list) and joins what
// remains into a canonical port name.
func macTablePort(rest []string) string {
	for len(rest) > 1 && isMetadataToken(rest[0]) {
		rest = rest[1:]
	}
	return CanonicalPort(strings.Join(rest, " "))
}

func isMetadataToken(tok string) bool {
	switch {
	case tok == "-", tok == "T", tok == "F", tok == "NA", tok == "~~~", tok == "Yes", tok == "No":
		return true
	case isNumeric(tok):
		return true
	case strings.Contains(tok, ","):
		return true
	}
	return false
}

func isPseudoPort(port string, keepAggregates bool) bool {
	lower := strings.ToLower(port)
	for _, deny := range []string{"cpu", "switch", "router", "sup-eth", "drop"} {
		if strings.Contains(lower, deny) {
			return true
		}
	}
	if strings.HasPrefix(lower, "vl") {
		return true
	}
	return !keepAggregates && IsAggregate(port)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// splitLines splits on any line ending, including the bare carriage returns
// some terminals emit.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}
