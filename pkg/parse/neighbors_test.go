package parse

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

const iosCDPDetail = `-------------------------
Device ID: sw-edge-12
Entry address(es): 
  IP address: 10.20.0.12
Platform: cisco WS-C3850-24,  Capabilities: Switch IGMP 
Interface: GigabitEthernet1/0/24,  Port ID (outgoing port): GigabitEthernet1/0/1
Holdtime : 150 sec

Version :
Cisco IOS Software [Everest], Catalyst L3 Switch Software (CAT3K_CAA-UNIVERSALK9-M), Version 16.6.4, RELEASE SOFTWARE (fc3)
Technical Support: http://www.cisco.com/techsupport
Copyright (c) 1986-2018 by Cisco Systems, Inc.

advertisement version: 2
Native VLAN: 1
Duplex: full
Management address(es): 
  IP address: 10.99.0.12

-------------------------
Device ID: SEP001122334455
Entry address(es): 
  IP address: 10.30.0.50
Platform: Cisco IP Phone 8845,  Capabilities: Host Phone Two-port Mac Relay 
Interface: GigabitEthernet1/0/24,  Port ID (outgoing port): Port 1

Total cdp entries displayed : 2
dist-1#`

const nxosCDPDetail = `----------------------------------------
Device ID:sw-core-1(FOX1234ABCD)
System Name: sw-core-1

Interface address(es):
    IPv4 Address: 10.0.0.1
Platform: N9K-C93180YC-EX, Capabilities: Router Switch IGMP Filtering Supports-STP-Dispute
Interface: Ethernet1/49, Port ID (outgoing port): Ethernet1/1
Holdtime: 163 sec

Mgmt address(es):
    IPv4 Address: 10.99.0.1
`

const iosLLDPDetail = `Capability codes:
    (R) Router, (B) Bridge, (T) Telephone, (C) DOCSIS Cable Device
    (W) WLAN Access Point, (P) Repeater, (S) Station, (O) Other

------------------------------------------------
Local Intf: Gi1/0/48
Chassis id: 00de.fb00.1234
Port id: Gi0/1
Port Description: GigabitEthernet0/1
System Name: sw-legacy-3.example.net

System Description: 
Cisco IOS Software, C2960 Software (C2960-LANBASEK9-M), Version 12.2(55)SE

Time remaining: 97 seconds
System Capabilities: B
Enabled Capabilities: B
Management Addresses:
    IP: 10.20.0.33
Auto Negotiation - supported, enabled

Total entries displayed: 1
`

const nxosLLDPDetail = `Chassis id: 00de.fb00.0001
Port id: Ethernet1/1
Local Port id: Eth1/49
Port Description: to dist
System Name: dist-a
System Description: Cisco Nexus Operating System (NX-OS) Software 9.3(8)
Time remaining: 110 seconds
System Capabilities: B, R
Enabled Capabilities: B, R
Management Address: 10.99.0.2
Management Address IPV6: not advertised
Vlan ID: 1

Chassis id: 00de.fb00.0002
Port id: Ethernet1/1
Local Port id: Eth1/50
System Name: dist-b
Enabled Capabilities: B, R
Management Address: 10.99.0.3
`

func TestParseNeighborsDetail(t *testing.T) {
	tests := []struct {
		name   string
		output string
		proto  Protocol
		want   []Neighbor
	}{
		{
			name:   "ios cdp",
			output: iosCDPDetail,
			proto:  CDP,
			want: []Neighbor{
				{
					DeviceID:     "sw-edge-12",
					ManagementIP: "10.20.0.12",
					Platform:     "WS-C3850-24",
					LocalPort:    "Gi1/0/24",
					RemotePort:   "Gi1/0/1",
					Capabilities: []string{"Switch", "IGMP"},
					Protocol:     CDP,
				},
				{
					DeviceID:     "SEP001122334455",
					ManagementIP: "10.30.0.50",
					Platform:     "IP Phone 8845",
					LocalPort:    "Gi1/0/24",
					RemotePort:   "Port1",
					Capabilities: []string{"Host", "Phone", "Two-port", "Mac", "Relay"},
					Protocol:     CDP,
				},
			},
		},
		{
			name:   "nxos cdp",
			output: nxosCDPDetail,
			proto:  CDP,
			want: []Neighbor{
				{
					DeviceID:     "sw-core-1",
					ManagementIP: "10.0.0.1",
					Platform:     "N9K-C93180YC-EX",
					LocalPort:    "Eth1/49",
					RemotePort:   "Eth1/1",
					Capabilities: []string{"Router", "Switch", "IGMP", "Filtering", "Supports-STP-Dispute"},
					Protocol:     CDP,
				},
			},
		},
		{
			name:   "ios lldp",
			output: iosLLDPDetail,
			proto:  LLDP,
			want: []Neighbor{
				{
					DeviceID:     "sw-legacy-3.example.net",
					ManagementIP: "10.20.0.33",
					LocalPort:    "Gi1/0/48",
					RemotePort:   "Gi0/1",
					Capabilities: []string{"Bridge"},
					Protocol:     LLDP,
				},
			},
		},
		{
			name:   "nxos lldp without separators",
			output: nxosLLDPDetail,
			proto:  LLDP,
			want: []Neighbor{
				{
					DeviceID:     "dist-a",
					ManagementIP: "10.99.0.2",
					LocalPort:    "Eth1/49",
					RemotePort:   "Eth1/1",
					Capabilities: []string{"Bridge", "Router"},
					Protocol:     LLDP,
				},
				{
					DeviceID:     "dist-b",
					ManagementIP: "10.99.0.3",
					LocalPort:    "Eth1/50",
					RemotePort:   "Eth1/1",
					Capabilities: []string{"Bridge", "Router"},
					Protocol:     LLDP,
				},
			},
		},
		{
			name:   "no neighbors",
			output: "Total cdp entries displayed : 0\nsw1#",
			proto:  CDP,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseNeighbors(tt.output, tt.proto)
			if diff := pretty.Compare(tt.want, got); diff != "" {
				t.Errorf("ParseNeighbors() diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseNeighborsTable(t *testing.T) {
	cdp := `Capability Codes: R - Router, T - Trans Bridge, B - Source Route Bridge
                  S - Switch, H - Host, I - IGMP, r - Repeater, P - Phone

Device ID        Local Intrfce     Holdtme    Capability  Platform  Port ID
sw-edge-12.example.com
                 Gig 1/0/24        150             S I   WS-C3850- Gig 1/0/1
sw-core          Gig 1/0/1         170            R S I  WS-C6509  Gig 3/1

Total cdp entries displayed : 2`

	lldp := `Device ID           Local Intf     Hold-time  Capability      Port ID
dist-a              Eth1/49        120        B,R             Ethernet1/1
Total entries displayed: 1`

	t.Run("cdp", func(t *testing.T) {
		want := []Neighbor{
			{
				DeviceID:     "sw-edge-12.example.com",
				Platform:     "WS-C3850-",
				LocalPort:    "Gi1/0/24",
				RemotePort:   "Gi1/0/1",
				Capabilities: []string{"Switch", "IGMP"},
				Protocol:     CDP,
			},
			{
				DeviceID:     "sw-core",
				Platform:     "WS-C6509",
				LocalPort:    "Gi1/0/1",
				RemotePort:   "Gi3/1",
				Capabilities: []string{"Router", "Switch", "IGMP"},
				Protocol:     CDP,
			},
		}
		if diff := pretty.Compare(want, ParseNeighbors(cdp, CDP)); diff != "" {
			t.Errorf("ParseNeighbors() diff (-want +got):\n%s", diff)
		}
	})

	t.Run("lldp", func(t *testing.T) {
		want := []Neighbor{
			{
				DeviceID:     "dist-a",
				LocalPort:    "Eth1/49",
				RemotePort:   "Eth1/1",
				Capabilities: []string{"Bridge", "Router"},
				Protocol:     LLDP,
			},
		}
		if diff := pretty.Compare(want, ParseNeighbors(lldp, LLDP)); diff != "" {
			t.Errorf("ParseNeighbors() diff (-want +got):\n%s", diff)
		}
	})
}

func TestNeighborIsEndpoint(t *testing.T) {
	tests := []struct {
		caps []string
		want bool
	}{
		{[]string{"Switch", "IGMP"}, false},
		{[]string{"Router", "Switch"}, false},
		{[]string{"Host", "Phone", "Two-port", "Mac", "Relay"}, true},
		{[]string{"Bridge", "Phone"}, true},
		{[]string{"Trans-Bridge"}, true},
		{[]string{"Bridge"}, false},
		{nil, false},
	}

	for _, tt := range tests {
		n := Neighbor{Capabilities: tt.caps}
		if got := n.IsEndpoint(); got != tt.want {
			t.Errorf("IsEndpoint(%v) = %v, want %v", tt.caps, got, tt.want)
		}
	}
}

func TestMergeAndIndexNeighbors(t *testing.T) {
	cdp := []Neighbor{
		{DeviceID: "dist-a", LocalPort: "Gi1/0/1", Protocol: CDP},
	}
	lldp := []Neighbor{
		{DeviceID: "dist-a", LocalPort: "Gi1/0/1", Protocol: LLDP},
		{DeviceID: "ap-3", LocalPort: "Gi1/0/9", Protocol: LLDP},
	}

	merged := MergeNeighbors(cdp, lldp)
	want := []Neighbor{
		{DeviceID: "dist-a", LocalPort: "Gi1/0/1", Protocol: CDP},
		{DeviceID: "ap-3", LocalPort: "Gi1/0/9", Protocol: LLDP},
	}
	if diff := pretty.Compare(want, merged); diff != "" {
		t.Errorf("MergeNeighbors() diff (-want +got):\n%s", diff)
	}

	idx := IndexNeighbors(append(merged, Neighbor{DeviceID: "pc-1", LocalPort: "Gi1/0/9"}))
	if len(idx["Gi1/0/9"]) != 2 {
		t.Errorf("IndexNeighbors should keep both neighbors on Gi1/0/9, got %v", idx["Gi1/0/9"])
	}
	if len(idx["Gi1/0/1"]) != 1 || idx["Gi1/0/1"][0].Protocol != CDP {
		t.Errorf("IndexNeighbors[Gi1/0/1] = %v", idx["Gi1/0/1"])
	}
}
