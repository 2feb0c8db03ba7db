package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	IPv4 = 4
	IPv6 = 6

	IPv4HeaderMinLen = 20
	IPv6HeaderLen    = 40
	TCPHeaderMinLen  = 20

	ProtoTCP = uint8(layers.IPProtocolTCP)

	// MaxLen is the largest packet the queue copies to user space.
	MaxLen = 0xffff
)

var (
	ErrTruncated       = errors.New("packet truncated")
	ErrFragment        = errors.New("non-initial fragment")
	ErrVersionMismatch = errors.New("ip version mismatch")
	ErrNoTransport     = errors.New("transport header not parsed")
	ErrOutOfRange      = errors.New("mangle range outside tcp payload")
)

// Buffer is a private, mutable copy of one queued packet. Get one with
// Acquire and hand it back with Release once the verdict has been sent.
type Buffer struct {
	data    []byte
	version int

	l4    int // transport header offset
	l4End int // end of the transport segment
	proto uint8

	payload int // tcp payload offset, valid when tcp
	tcp     bool
	parsed  bool

	ip4  layers.IPv4
	ip6  layers.IPv6
	tcpL layers.TCP
}

var pool = sync.Pool{
	New: func() any { return &Buffer{data: make([]byte, 0, MaxLen)} },
}

// Acquire copies raw into a pooled buffer.
func Acquire(raw []byte) *Buffer {
	b := pool.Get().(*Buffer)
	b.reset()
	b.data = append(b.data[:0], raw...)
	return b
}

// Release returns b to the pool. b must not be used afterwards.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	if cap(b.data) > 2*MaxLen {
		b.data = make([]byte, 0, MaxLen)
	}
	b.reset()
	pool.Put(b)
}

func (b *Buffer) reset() {
	b.data = b.data[:0]
	b.version = 0
	b.l4, b.l4End, b.payload = 0, 0, 0
	b.proto = 0
	b.tcp, b.parsed = false, false
}

// Bytes returns the whole packet, mutations included.
func (b *Buffer) Bytes() []byte { return b.data }

// Protocol is the upper layer protocol found after the IP header chain.
func (b *Buffer) Protocol() uint8 { return b.proto }

func (b *Buffer) IsTCP() bool { return b.parsed && b.tcp }

// Parse locates the transport header for the given IP version. A non-TCP
// packet parses successfully; IsTCP tells them apart.
func (b *Buffer) Parse(version int) error {
	b.parsed, b.tcp = false, false
	if len(b.data) == 0 {
		return ErrTruncated
	}
	if got := int(b.data[0] >> 4); got != version {
		return fmt.Errorf("%w: header says %d, expected %d", ErrVersionMismatch, got, version)
	}
	b.version = version

	var err error
	switch version {
	case IPv4:
		err = b.parseIPv4()
	case IPv6:
		err = b.parseIPv6()
	default:
		return fmt.Errorf("unsupported ip version %d", version)
	}
	if err != nil {
		return err
	}

	if b.proto == ProtoTCP {
		if err := b.tcpL.DecodeFromBytes(b.data[b.l4:b.l4End], gopacket.NilDecodeFeedback); err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		b.payload = b.l4 + int(b.tcpL.DataOffset)*4
		b.tcp = true
	}
	b.parsed = true
	return nil
}

func (b *Buffer) parseIPv4() error {
	if err := b.ip4.DecodeFromBytes(b.data, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if b.ip4.FragOffset != 0 {
		return ErrFragment
	}
	b.l4 = int(b.ip4.IHL) * 4
	b.l4End = min(int(b.ip4.Length), len(b.data))
	b.proto = uint8(b.ip4.Protocol)
	return nil
}

func (b *Buffer) parseIPv6() error {
	if err := b.ip6.DecodeFromBytes(b.data, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	end := len(b.data)
	if pl := int(binary.BigEndian.Uint16(b.data[4:6])); pl != 0 && IPv6HeaderLen+pl < end {
		end = IPv6HeaderLen + pl
	}

	next := b.data[6]
	off := IPv6HeaderLen
	for {
		switch layers.IPProtocol(next) {
		case layers.IPProtocolIPv6HopByHop, layers.IPProtocolIPv6Routing, layers.IPProtocolIPv6Destination:
			if off+2 > end {
				return ErrTruncated
			}
			next = b.data[off]
			off += int(b.data[off+1])*8 + 8
		case layers.IPProtocolAH:
			if off+2 > end {
				return ErrTruncated
			}
			next = b.data[off]
			off += (int(b.data[off+1]) + 2) * 4
		case layers.IPProtocolIPv6Fragment:
			if off+8 > end {
				return ErrTruncated
			}
			if binary.BigEndian.Uint16(b.data[off+2:off+4])&0xfff8 != 0 {
				return ErrFragment
			}
			next = b.data[off]
			off += 8
		default:
			if off > end {
				return ErrTruncated
			}
			b.l4, b.l4End, b.proto = off, end, next
			return nil
		}
	}
}

// TCPPayload returns the application bytes of a parsed TCP segment. The
// slice aliases the buffer.
func (b *Buffer) TCPPayload() []byte {
	if !b.IsTCP() {
		return nil
	}
	return b.data[b.payload:b.l4End]
}

// MangleTCPPayload overwrites len(with) payload bytes at off and refreshes
// the IP and TCP checksums. The packet length never changes.
func (b *Buffer) MangleTCPPayload(off int, with []byte) error {
	if !b.IsTCP() {
		return ErrNoTransport
	}
	start := b.payload + off
	if off < 0 || start+len(with) > b.l4End {
		return fmt.Errorf("%w: off=%d len=%d payload=%d", ErrOutOfRange, off, len(with), b.l4End-b.payload)
	}
	copy(b.data[start:], with)

	seg := b.data[b.l4:b.l4End]
	if b.version == IPv4 {
		FixIPv4Checksum(b.data[:b.l4])
		FixTCPChecksumV4(b.data, seg)
	} else {
		FixTCPChecksumV6(b.data, seg)
	}
	return nil
}
