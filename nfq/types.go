package nfq

import (
	"context"
	"sync"

	"github.com/florianl/go-nfqueue"
	"github.com/wolplus/ua2f/conntrack"
)

// Connmark values used to persist the per-flow classification. A flow
// starts at MarkEstimateLower, is bumped once per packet without a
// User-Agent and is given up on after MarkEstimateVerdict.
const (
	MarkEstimateLower   = 16
	MarkEstimateUpper   = 32
	MarkEstimateVerdict = 33

	MarkNotHTTP = 43
	MarkHTTP    = 44
)

// Packet is one queued packet as handed to Handler.Handle. It is only valid
// for the duration of the call.
type Packet struct {
	ID         uint32
	HwProtocol uint16
	Payload    []byte

	// Conntrack is nil when the kernel attached no NFQA_CT.
	Conntrack *conntrack.Info
}

// MarkOp is an optional connmark update. The zero value leaves the mark
// untouched.
type MarkOp struct {
	Set  bool
	Mark uint32
}

func SetMark(m uint32) MarkOp { return MarkOp{Set: true, Mark: m} }

type FlowCache interface {
	Contains(conntrack.FlowKey) bool
	Add(conntrack.FlowKey)
}

type Counters interface {
	CountIPv4()
	CountIPv6()
	CountTCP()
	CountHTTPCandidate()
	CountUserAgent()
	CountVerdict(set bool, mark uint32, mangled bool)
	MaybeReport()
}

type Worker struct {
	packetsProcessed uint64
	lastOverflowLog  int64

	qnum    uint16
	opts    QueueOptions
	handler *Handler

	ctx    context.Context
	cancel context.CancelFunc
	q      *nfqueue.Nfqueue
	wg     sync.WaitGroup
}

type Pool struct {
	Workers []*Worker
}
