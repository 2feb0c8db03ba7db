package mangle

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	// maxPacket is the largest IP packet the queue hands over.
	maxPacket = 0xffff
	// socketBuffer caps the netlink receive buffer the way libmnl does.
	socketBuffer = 8192
)

// Replacement is the read-only source of substitute bytes. Every header
// value of length n is overwritten with the first n bytes.
type Replacement struct {
	buf    []byte
	custom bool
}

// NewReplacement builds the buffer once at startup. A non-empty ua is
// followed by space padding; an empty one yields an all-'F' filler.
func NewReplacement(ua string) (*Replacement, error) {
	page := unix.Getpagesize()
	if page > socketBuffer {
		page = socketBuffer
	}
	size := maxPacket + page/2
	if size <= maxPacket {
		return nil, fmt.Errorf("replacement buffer too small: %d", size)
	}

	r := &Replacement{buf: make([]byte, size), custom: ua != ""}
	fill := byte('F')
	if r.custom {
		fill = ' '
	}
	for i := range r.buf {
		r.buf[i] = fill
	}
	copy(r.buf, ua)
	return r, nil
}

// Prefix returns the first n replacement bytes. n never exceeds Len for a
// header carried in a single packet.
func (r *Replacement) Prefix(n int) []byte {
	return r.buf[:n:n]
}

func (r *Replacement) Len() int { return len(r.buf) }

// Custom reports whether a user supplied value heads the buffer.
func (r *Replacement) Custom() bool { return r.custom }
