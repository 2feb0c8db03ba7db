package nfq

import (
	"errors"
	"fmt"

	"github.com/florianl/go-nfqueue"
	"github.com/wolplus/ua2f/log"
	"github.com/wolplus/ua2f/packet"
)

// VerdictWriter is the verdict side of *nfqueue.Nfqueue.
type VerdictWriter interface {
	SetVerdict(id uint32, verdict int) error
	SetVerdictWithConnMark(id uint32, verdict, mark int) error
	SetVerdictModPacket(id uint32, verdict int, packet []byte) error
	SetVerdictModPacketWithConnMark(id uint32, verdict, mark int, packet []byte) error
}

var _ VerdictWriter = (*nfqueue.Nfqueue)(nil)

var (
	errEmptyPacket    = errors.New("modified packet is empty")
	errPacketTooLarge = errors.New("modified packet exceeds 65535 bytes")
)

// Verdict is one accept decision. Packet, when non-nil, replaces the
// queued payload.
type Verdict struct {
	ID     uint32
	Mark   MarkOp
	Packet []byte
}

func (v Verdict) build() error {
	if v.Packet != nil {
		if len(v.Packet) == 0 {
			return errEmptyPacket
		}
		if len(v.Packet) > packet.MaxLen {
			return fmt.Errorf("%w: %d", errPacketTooLarge, len(v.Packet))
		}
	}
	return nil
}

// Emit sends v. The disposition is always accept. A verdict that cannot be
// built is logged and nothing is sent for that packet. Marks with the high
// bit set wrap to a negative int on 32-bit targets; go-nfqueue encodes the
// value as uint32 again.
func Emit(w VerdictWriter, v Verdict) {
	if err := v.build(); err != nil {
		log.Errorf("verdict for packet %d not sent: %v", v.ID, err)
		return
	}

	var err error
	switch {
	case v.Packet != nil && v.Mark.Set:
		err = w.SetVerdictModPacketWithConnMark(v.ID, nfqueue.NfAccept, int(v.Mark.Mark), v.Packet)
	case v.Packet != nil:
		err = w.SetVerdictModPacket(v.ID, nfqueue.NfAccept, v.Packet)
	case v.Mark.Set:
		err = w.SetVerdictWithConnMark(v.ID, nfqueue.NfAccept, int(v.Mark.Mark))
	default:
		err = w.SetVerdict(v.ID, nfqueue.NfAccept)
	}
	if err != nil {
		log.Errorf("failed to send verdict for packet %d: %v", v.ID, err)
	}
}
