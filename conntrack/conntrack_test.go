package conntrack

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dst     string
	port    uint16
	mark    uint32
	hasMark bool
	noTuple bool
}

func encode(t *testing.T, f fixture) []byte {
	t.Helper()
	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = binary.BigEndian

	if !f.noTuple {
		addr := netip.MustParseAddr(f.dst)
		ae.Nested(ctaTupleOrig, func(nae *netlink.AttributeEncoder) error {
			nae.Nested(ctaTupleIP, func(ip *netlink.AttributeEncoder) error {
				if addr.Is4() {
					ip.Bytes(1, []byte{10, 0, 0, 1})
					ip.Bytes(ctaIPv4Dst, addr.AsSlice())
				} else {
					ip.Bytes(3, netip.MustParseAddr("fe80::1").AsSlice())
					ip.Bytes(ctaIPv6Dst, addr.AsSlice())
				}
				return nil
			})
			nae.Nested(ctaTupleProto, func(p *netlink.AttributeEncoder) error {
				p.Uint8(1, 6)
				p.Uint16(2, 51000)
				p.Uint16(ctaProtoDstPort, f.port)
				return nil
			})
			return nil
		})
	}
	// status, between the tuple and the mark like the kernel emits it
	ae.Uint32(3, 0x18e)
	if f.hasMark {
		ae.Uint32(ctaMark, f.mark)
	}

	b, err := ae.Encode()
	require.NoError(t, err)
	return b
}

func TestParse_IPv4(t *testing.T) {
	info, err := Parse(encode(t, fixture{dst: "93.184.216.34", port: 80, mark: 17, hasMark: true}))
	require.NoError(t, err)

	assert.Equal(t, 4, info.Version)
	assert.Equal(t, netip.MustParseAddr("93.184.216.34"), info.Dst)
	assert.Equal(t, uint16(80), info.DstPort)
	assert.True(t, info.HasMark)
	assert.Equal(t, uint32(17), info.Mark)
	assert.Equal(t, "93.184.216.34:80", info.Key().String())
}

func TestParse_IPv6(t *testing.T) {
	info, err := Parse(encode(t, fixture{dst: "2001:db8::2", port: 8080}))
	require.NoError(t, err)

	assert.Equal(t, 6, info.Version)
	assert.Equal(t, uint16(8080), info.DstPort)
	assert.False(t, info.HasMark)
	assert.Equal(t, "[2001:db8::2]:8080", info.Key().String())
}

func TestParse_MarkZeroIsPresent(t *testing.T) {
	info, err := Parse(encode(t, fixture{dst: "10.1.2.3", port: 80, hasMark: true}))
	require.NoError(t, err)
	assert.True(t, info.HasMark)
	assert.Zero(t, info.Mark)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(encode(t, fixture{noTuple: true, hasMark: true, mark: 16}))
	assert.ErrorIs(t, err, ErrNoTuple)

	_, err = Parse([]byte{0xff, 0x00, 0x01})
	assert.Error(t, err)
}

func TestFlowKey_Comparable(t *testing.T) {
	a := FlowKey{Addr: netip.MustParseAddr("1.2.3.4"), Port: 80}
	b := FlowKey{Addr: netip.MustParseAddr("1.2.3.4"), Port: 80}
	c := FlowKey{Addr: netip.MustParseAddr("1.2.3.4"), Port: 81}

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "1.2.3.4:81", c.String())
}
