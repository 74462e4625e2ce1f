package parse

import (
	"regexp"
	"strings"
)

// descriptionRow is the fallback for description output whose header was
// lost (paged, truncated, or captured mid-stream).
var descriptionRow = regexp.MustCompile(`^(\S+)\s+(up|down|admin down|administratively down|deleted)\s+(up|down)\s+(.*)$`)

// ParseDescriptions reads "show interfaces description" (IOS) or
// "show interface description" (NX-OS) output and returns description text
// keyed by canonical port. Ports without a description are omitted.
func ParseDescriptions(output string) map[string]string {
	descs := make(map[string]string)
	descCol := -1

	for _, line := range splitLines(output) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "---") {
			continue
		}

		if isDescriptionHeader(trimmed) {
			descCol = strings.Index(line, "Description")
			continue
		}

		var port, desc string
		switch {
		case descCol >= 0:
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			port = fields[0]
			if len(line) > descCol {
				desc = strings.TrimSpace(line[descCol:])
			}
		default:
			m := descriptionRow.FindStringSubmatch(trimmed)
			if m == nil {
				continue
			}
			port, desc = m[1], strings.TrimSpace(m[4])
		}

		if desc == "" {
			continue
		}
		descs[CanonicalPort(port)] = desc
	}
	return descs
}

func isDescriptionHeader(line string) bool {
	if !strings.Contains(line, "Description") {
		return false
	}
	return strings.HasPrefix(line, "Interface") || strings.HasPrefix(line, "Port")
}
