package packet

import (
	"fmt"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Describe renders the IP header for diagnostics. It never fails; an
// unreadable header is reported as such.
func (b *Buffer) Describe() string {
	return DescribeHeader(b.data)
}

func DescribeHeader(raw []byte) string {
	if len(raw) == 0 {
		return "<empty packet>"
	}
	switch raw[0] >> 4 {
	case IPv4:
		h, err := ipv4.ParseHeader(raw)
		if err != nil {
			return fmt.Sprintf("<ipv4 header: %v>", err)
		}
		return h.String()
	case IPv6:
		h, err := ipv6.ParseHeader(raw)
		if err != nil {
			return fmt.Sprintf("<ipv6 header: %v>", err)
		}
		return h.String()
	}
	return fmt.Sprintf("<unknown ip version %d, %d bytes>", raw[0]>>4, len(raw))
}
