package packet

import "encoding/binary"

// FixIPv4Checksum recomputes the header checksum of ip in place.
func FixIPv4Checksum(ip []byte) {
	if len(ip) < IPv4HeaderMinLen {
		return
	}
	ihl := int(ip[0]&0x0F) * 4
	if ihl < IPv4HeaderMinLen || ihl > len(ip) {
		return
	}
	ip[10], ip[11] = 0, 0
	binary.BigEndian.PutUint16(ip[10:12], fold(sum(0, ip[:ihl])))
}

// FixTCPChecksumV4 recomputes the TCP checksum of the segment at tcp using
// the IPv4 pseudo-header built from ip.
func FixTCPChecksumV4(ip, tcp []byte) {
	var pseudo [12]byte
	copy(pseudo[0:4], ip[12:16])
	copy(pseudo[4:8], ip[16:20])
	pseudo[9] = ProtoTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(tcp)))

	tcp[16], tcp[17] = 0, 0
	s := sum(sum(0, pseudo[:]), tcp)
	binary.BigEndian.PutUint16(tcp[16:18], fold(s))
}

// FixTCPChecksumV6 is FixTCPChecksumV4 for an IPv6 pseudo-header. The upper
// layer length is the TCP segment length, extension headers excluded.
func FixTCPChecksumV6(ip, tcp []byte) {
	var pseudo [40]byte
	copy(pseudo[0:16], ip[8:24])
	copy(pseudo[16:32], ip[24:40])
	binary.BigEndian.PutUint32(pseudo[32:36], uint32(len(tcp)))
	pseudo[39] = ProtoTCP

	tcp[16], tcp[17] = 0, 0
	s := sum(sum(0, pseudo[:]), tcp)
	binary.BigEndian.PutUint16(tcp[16:18], fold(s))
}

func sum(acc uint32, b []byte) uint32 {
	for i := 0; i+1 < len(b); i += 2 {
		acc += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		acc += uint32(b[len(b)-1]) << 8
	}
	return acc
}

func fold(s uint32) uint16 {
	for s > 0xffff {
		s = (s >> 16) + (s & 0xffff)
	}
	return ^uint16(s)
}
