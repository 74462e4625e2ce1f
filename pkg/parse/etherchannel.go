package parse

import "regexp"

// bundledMember matches a port flagged (P), bundled in port-channel, in
// etherchannel or port-channel summary output.
var bundledMember = regexp.MustCompile(`([A-Za-z][A-Za-z0-9/.-]*)\(P\)`)

// ParseEtherchannelMembers returns the canonical names of all bundled
// members in summary output, in the order they appear. The first member is
// the one the tracer follows.
func ParseEtherchannelMembers(output string) []string {
	var members []string
	seen := make(map[string]bool)
	for _, m := range bundledMember.FindAllStringSubmatch(output, -1) {
		port := CanonicalPort(m[1])
		if seen[port] {
			continue
		}
		seen[port] = true
		members = append(members, port)
	}
	return members
}
