package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/newtron-network/mactrace/pkg/trace"
)

// OutcomeColor returns the outcome name colored by severity.
func OutcomeColor(o trace.Outcome) string {
	switch {
	case o.Success():
		return Green(string(o))
	case o == trace.OutcomeAmbiguous, o == trace.OutcomeNotFound, o == trace.OutcomeCoreRequired:
		return Yellow(string(o))
	default:
		return Red(string(o))
	}
}

// PrintPath writes the hop table and a summary line for res.
func PrintPath(w io.Writer, res *trace.Result) {
	fmt.Fprintf(w, "%s %s\n\n", Bold("MAC"), res.MAC)

	t := NewTableTo(w, "HOP", "DEVICE", "ADDRESS", "PORT", "VLAN", "NEXT")
	for i, h := range res.Path {
		t.Row(strconv.Itoa(i+1), h.Hostname, h.Address, portCell(h), h.VLAN, nextCell(h))
	}
	t.Flush()
	if len(res.Path) > 0 {
		fmt.Fprintln(w)
	}

	for _, a := range res.ARP {
		fmt.Fprintf(w, "%s %s on %s\n", DotPad("ARP", 12), a.IP, a.Interface)
	}
	fmt.Fprintf(w, "%s %s\n", DotPad("Outcome", 12), OutcomeColor(res.Outcome))
	if last := res.Last(); last != nil && res.Outcome.Success() && last.Port != "" {
		loc := last.Hostname + " " + last.Port
		if last.Description != "" {
			loc += " (" + last.Description + ")"
		}
		fmt.Fprintf(w, "%s %s\n", DotPad("Location", 12), loc)
	}
	if res.Error != "" {
		fmt.Fprintf(w, "%s %s\n", DotPad("Error", 12), Dim(res.Error))
	}
}

func portCell(h trace.Hop) string {
	port := h.Port
	if len(h.Members) > 0 {
		port += " [" + strings.Join(h.Members, ",") + "]"
	}
	return port
}

func nextCell(h trace.Hop) string {
	var notes []string
	if h.RedirectedFrom != "" {
		notes = append(notes, "via core from "+h.RedirectedFrom)
	}
	switch {
	case h.AccessPort && h.Neighbor != nil:
		notes = append(notes, "access port, endpoint "+h.Neighbor.DeviceID)
	case h.AccessPort:
		notes = append(notes, "access port")
	case h.Neighbor != nil:
		notes = append(notes, h.Neighbor.DeviceID)
	}
	return strings.Join(notes, "; ")
}
