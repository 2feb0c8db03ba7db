// Package conntrack decodes the connection tracking attributes the kernel
// attaches to queued packets (NFQA_CT).
package conntrack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/mdlayher/netlink"
)

// Attribute types from linux/netfilter/nfnetlink_conntrack.h.
const (
	ctaTupleOrig = 1
	ctaMark      = 8

	ctaTupleIP    = 1
	ctaTupleProto = 2

	ctaIPv4Dst = 2
	ctaIPv6Dst = 4

	ctaProtoDstPort = 3
)

var ErrNoTuple = errors.New("conntrack: no original tuple")

// Info is the part of a conntrack entry the filter cares about: where the
// flow goes and which mark it currently carries.
type Info struct {
	Version int
	Dst     netip.Addr
	DstPort uint16

	Mark    uint32
	HasMark bool
}

// FlowKey identifies a flow by its original-direction destination.
type FlowKey struct {
	Addr netip.Addr
	Port uint16
}

func (k FlowKey) String() string {
	return netip.AddrPortFrom(k.Addr, k.Port).String()
}

func (i *Info) Key() FlowKey {
	return FlowKey{Addr: i.Dst, Port: i.DstPort}
}

// Parse decodes an NFQA_CT payload. Conntrack attributes are in network
// byte order.
func Parse(b []byte) (*Info, error) {
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return nil, fmt.Errorf("conntrack: %w", err)
	}
	ad.ByteOrder = binary.BigEndian

	info := &Info{}
	var haveTuple bool
	for ad.Next() {
		switch ad.Type() {
		case ctaTupleOrig:
			haveTuple = true
			ad.Nested(info.decodeTuple)
		case ctaMark:
			info.Mark = ad.Uint32()
			info.HasMark = true
		}
	}
	if err := ad.Err(); err != nil {
		return nil, fmt.Errorf("conntrack: %w", err)
	}
	if !haveTuple || !info.Dst.IsValid() {
		return nil, ErrNoTuple
	}
	return info, nil
}

func (i *Info) decodeTuple(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case ctaTupleIP:
			ad.Nested(i.decodeIP)
		case ctaTupleProto:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					if nad.Type() == ctaProtoDstPort {
						i.DstPort = nad.Uint16()
					}
				}
				return nil
			})
		}
	}
	return nil
}

func (i *Info) decodeIP(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case ctaIPv4Dst, ctaIPv6Dst:
			b := ad.Bytes()
			addr, ok := netip.AddrFromSlice(b)
			if !ok {
				return fmt.Errorf("bad destination address length %d", len(b))
			}
			i.Dst = addr
			i.Version = 4
			if len(b) == 16 {
				i.Version = 6
			}
		}
	}
	return nil
}
