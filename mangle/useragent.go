package mangle

import "bytes"

const (
	// MatchLen is len("\r\nUser-Agent:").
	MatchLen = 13
	// MinPayload is the shortest payload that can hold a header name plus
	// its terminator.
	MinPayload = MatchLen + 2
)

var userAgentMatch = []byte("\r\nUser-Agent:")

// Segment is a TCP segment whose payload may be rewritten in place.
// MangleTCPPayload must keep the packet consistent (checksums included).
type Segment interface {
	TCPPayload() []byte
	MangleTCPPayload(off int, data []byte) error
}

type Result struct {
	// Seen is set when at least one User-Agent header name was found,
	// terminated or not.
	Seen bool
	// Mangled is set when at least one value byte was rewritten.
	Mangled bool
	// Unterminated is set when the scan stopped at a value without '\r'.
	Unterminated bool
	Replaced     int
}

// UserAgent overwrites every User-Agent value in the segment payload with
// same-length bytes from repl. Values already rewritten stay rewritten when
// a later header turns out to be unterminated.
func UserAgent(seg Segment, repl *Replacement) (Result, error) {
	var res Result

	payload := seg.TCPPayload()
	if len(payload) < MinPayload {
		return res, nil
	}

	pos := 0
	for len(payload)-pos >= MinPayload {
		i := IndexFold(payload[pos:], userAgentMatch)
		if i < 0 {
			break
		}
		res.Seen = true

		start := pos + i + MatchLen
		if start < len(payload) && payload[start] == ' ' {
			start++
		}

		n := bytes.IndexByte(payload[start:], '\r')
		if n < 0 {
			res.Unterminated = true
			break
		}

		if n > 0 {
			if err := seg.MangleTCPPayload(start, repl.Prefix(n)); err != nil {
				return res, err
			}
			res.Mangled = true
		}
		res.Replaced++

		// resume at the terminator so an adjacent header still matches
		pos = start + n
		payload = seg.TCPPayload()
	}

	return res, nil
}
