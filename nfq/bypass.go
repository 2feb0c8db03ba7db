package nfq

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/yl2chen/cidranger"
)

// Bypass holds destination networks whose flows are never inspected.
type Bypass struct {
	ranger cidranger.Ranger
}

func NewBypass(prefixes []netip.Prefix) (*Bypass, error) {
	b := &Bypass{ranger: cidranger.NewPCTrieRanger()}
	for _, p := range prefixes {
		ipNet := &net.IPNet{
			IP:   p.Addr().AsSlice(),
			Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
		}
		if err := b.ranger.Insert(cidranger.NewBasicRangerEntry(*ipNet)); err != nil {
			return nil, fmt.Errorf("bypass %s: %w", p, err)
		}
	}
	return b, nil
}

func (b *Bypass) Len() int {
	if b == nil {
		return 0
	}
	return b.ranger.Len()
}

func (b *Bypass) Contains(addr netip.Addr) bool {
	if b.Len() == 0 || !addr.IsValid() {
		return false
	}
	ok, err := b.ranger.Contains(addr.Unmap().AsSlice())
	return err == nil && ok
}
