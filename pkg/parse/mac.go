// Package parse turns Cisco-style CLI output into typed records. Every parser
// is pure: it takes the text a command produced and returns what it found,
// tolerating banners, headers and blank lines. Ports are canonicalized before
// they leave this package so callers can join across commands.
package parse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/newtron-network/mactrace/pkg/util"
)

// macDotted matches a MAC in Cisco dotted notation, any case.
var macDotted = regexp.MustCompile(`^[0-9a-fA-F]{4}\.[0-9a-fA-F]{4}\.[0-9a-fA-F]{4}$`)

// NormalizeMAC converts any common MAC notation (colon, dash, dotted or bare)
// to lowercase xxxx.xxxx.xxxx.
func NormalizeMAC(input string) (string, error) {
	raw := strings.ToLower(strings.TrimSpace(input))
	raw = strings.NewReplacer(":", "", ".", "", "-", "").Replace(raw)

	if len(raw) != 12 {
		return "", fmt.Errorf("%w: %q", util.ErrInvalidMAC, input)
	}
	for _, c := range raw {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", fmt.Errorf("%w: %q", util.ErrInvalidMAC, input)
		}
	}
	return raw[0:4] + "." + raw[4:8] + "." + raw[8:12], nil
}

// IsDottedMAC reports whether s is already in xxxx.xxxx.xxxx form.
func IsDottedMAC(s string) bool {
	return macDotted.MatchString(s)
}
