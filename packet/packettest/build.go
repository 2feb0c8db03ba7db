// Package packettest builds wire-format packets for tests.
package packettest

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var opts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

func tcpLayer(dport uint16) *layers.TCP {
	return &layers.TCP{
		SrcPort: 51000,
		DstPort: layers.TCPPort(dport),
		Seq:     1000,
		Ack:     2000,
		PSH:     true,
		ACK:     true,
		Window:  64240,
	}
}

// TCP4 returns an IPv4/TCP packet with valid checksums.
func TCP4(src, dst string, dport uint16, payload []byte) []byte {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       0x1234,
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	tcp := tcpLayer(dport)
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return serialize(ip, tcp, gopacket.Payload(payload))
}

// TCP6 returns an IPv6/TCP packet with valid checksums.
func TCP6(src, dst string, dport uint16, payload []byte) []byte {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolTCP,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP(dst),
	}
	tcp := tcpLayer(dport)
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return serialize(ip, tcp, gopacket.Payload(payload))
}

// TCP6Ext is TCP6 with a destination options header before TCP.
func TCP6Ext(src, dst string, dport uint16, payload []byte) []byte {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolIPv6Destination,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP(dst),
	}
	dstOpts := &layers.IPv6Destination{}
	dstOpts.NextHeader = layers.IPProtocolTCP
	dstOpts.Options = []*layers.IPv6DestinationOption{{OptionType: 1, OptionData: []byte{0, 0, 0, 0}}}
	tcp := tcpLayer(dport)
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return serialize(ip, dstOpts, tcp, gopacket.Payload(payload))
}

// UDP4 returns an IPv4/UDP packet.
func UDP4(src, dst string, dport uint16, payload []byte) []byte {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	udp := &layers.UDP{SrcPort: 51000, DstPort: layers.UDPPort(dport)}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return serialize(ip, udp, gopacket.Payload(payload))
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

// Checksummed re-serializes raw with freshly computed checksums. A packet
// whose checksums are already correct comes back byte-identical.
func Checksummed(raw []byte) []byte {
	first := layers.LayerTypeIPv4
	if raw[0]>>4 == 6 {
		first = layers.LayerTypeIPv6
	}
	p := gopacket.NewPacket(raw, first, gopacket.Default)

	var ls []gopacket.SerializableLayer
	var netLayer gopacket.NetworkLayer
	for _, l := range p.Layers() {
		switch v := l.(type) {
		case *layers.IPv4:
			netLayer = v
			ls = append(ls, v)
		case *layers.IPv6:
			netLayer = v
			ls = append(ls, v)
		case *layers.IPv6Destination:
			ls = append(ls, v)
		case *layers.TCP:
			_ = v.SetNetworkLayerForChecksum(netLayer)
			ls = append(ls, v, gopacket.Payload(v.Payload))
		}
	}
	return serialize(ls...)
}
