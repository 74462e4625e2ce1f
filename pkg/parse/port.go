package parse

import (
	"strconv"
	"strings"
)

// portAbbrev maps every known spelling of an interface type, lowercased, to
// its canonical short form.
var portAbbrev = map[string]string{
	"gigabitethernet":             "Gi",
	"gig":                         "Gi",
	"gi":                          "Gi",
	"tengigabitethernet":          "Te",
	"tengige":                     "Te",
	"ten":                         "Te",
	"te":                          "Te",
	"twentyfivegigabitethernet":   "Twe",
	"twentyfivegige":              "Twe",
	"twe":                         "Twe",
	"fortygigabitethernet":        "Fo",
	"fortygige":                   "Fo",
	"fo":                          "Fo",
	"hundredgigabitethernet":      "Hu",
	"hundredgige":                 "Hu",
	"hu":                          "Hu",
	"fastethernet":                "Fa",
	"fa":                          "Fa",
	"ethernet":                    "Eth",
	"eth":                         "Eth",
	"fivegigabitethernet":         "Fi",
	"fiv":                         "Fi",
	"fi":                          "Fi",
	"twopointfivegigabitethernet": "Tw",
	"two":                         "Tw",
	"tw":                          "Tw",
	"multigigabitethernet":        "Mg",
	"mg":                          "Mg",
	"port-channel":                "Po",
	"portchannel":                 "Po",
	"po":                          "Po",
}

// CanonicalPort reduces an interface name to its short form:
// GigabitEthernet1/0/1 -> Gi1/0/1, Port-channel 5 -> Po5, Eth1/1 -> Eth1/1.
// Whitespace is removed. Names with an unknown type pass through unchanged.
func CanonicalPort(name string) string {
	name = strings.Join(strings.Fields(name), "")
	if name == "" {
		return name
	}

	// The type is the leading run of letters (and '-', for Port-channel).
	split := strings.IndexFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-')
	})
	if split <= 0 {
		return name
	}
	prefix, rest := strings.ToLower(name[:split]), name[split:]

	if short, ok := portAbbrev[prefix]; ok {
		return short + rest
	}
	return name
}

// IsAggregate reports whether the port is a port-channel.
func IsAggregate(port string) bool {
	return strings.HasPrefix(CanonicalPort(port), "Po")
}

// AggregateNumber returns the channel-group number of a port-channel name,
// e.g. 12 for "Port-channel12".
func AggregateNumber(port string) (int, bool) {
	canon := CanonicalPort(port)
	if !strings.HasPrefix(canon, "Po") {
		return 0, false
	}
	n, err := strconv.Atoi(canon[len("Po"):])
	if err != nil {
		return 0, false
	}
	return n, true
}
