package metrics

//
// Packet dissection
//

import (
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// errNotIP means the packet carries no IPv4 layer.
var errNotIP = errors.New("metrics: not an IPv4 packet")

// errNotTransport means the packet carries neither TCP nor UDP.
var errNotTransport = errors.New("metrics: no transport layer")

// dissectedPacket is the subset of a captured packet the extractor
// needs. Captures are truncated to the headers, so the payload length
// derives from the IP total length rather than the captured bytes.
type dissectedPacket struct {
	// ts is the capture timestamp.
	ts time.Time

	// wireLength is the full packet length on the wire.
	wireLength int

	// tcp is the TCP layer or nil.
	tcp *layers.TCP

	// udp is the UDP layer or nil.
	udp *layers.UDP

	// payloadLength is the transport payload length.
	payloadLength int
}

// dissect decodes one captured packet.
func dissect(data []byte, ci gopacket.CaptureInfo) (*dissectedPacket, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, errNotIP
	}
	ip := ipLayer.(*layers.IPv4)
	dp := &dissectedPacket{
		ts:         ci.Timestamp,
		wireLength: ci.Length,
	}
	switch layer := packet.Layer(layers.LayerTypeTCP).(type) {
	case *layers.TCP:
		dp.tcp = layer
		dp.payloadLength = int(ip.Length) - int(ip.IHL)*4 - int(layer.DataOffset)*4
	default:
		udpLayer, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			return nil, errNotTransport
		}
		dp.udp = udpLayer
		dp.payloadLength = int(udpLayer.Length) - 8
	}
	if dp.payloadLength < 0 {
		dp.payloadLength = 0
	}
	return dp, nil
}

// ports returns the transport source and destination ports.
func (dp *dissectedPacket) ports() (src, dst int) {
	switch {
	case dp.tcp != nil:
		return int(dp.tcp.SrcPort), int(dp.tcp.DstPort)
	case dp.udp != nil:
		return int(dp.udp.SrcPort), int(dp.udp.DstPort)
	default:
		return 0, 0
	}
}
