package nfq

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/florianl/go-nfqueue"
	"github.com/wolplus/ua2f/config"
	"github.com/wolplus/ua2f/conntrack"
	"github.com/wolplus/ua2f/log"
)

// QueueOptions are the per-queue socket settings shared by all workers.
type QueueOptions struct {
	MaxLen   uint32
	GSO      bool
	FailOpen bool
	// Conntrack asks the kernel to attach NFQA_CT to every packet.
	Conntrack bool
}

func QueueOptionsFromConfig(cfg *config.Config) QueueOptions {
	return QueueOptions{
		MaxLen:    uint32(cfg.Queue.MaxLen),
		GSO:       cfg.Queue.GSO,
		FailOpen:  cfg.Queue.FailOpen,
		Conntrack: !cfg.Conntrack.Disabled,
	}
}

func (o QueueOptions) flags() uint32 {
	var f uint32
	if o.Conntrack {
		f |= nfqueue.NfQaCfgFlagConntrack
	}
	if o.FailOpen {
		f |= nfqueue.NfQaCfgFlagFailOpen
	}
	if o.GSO {
		f |= nfqueue.NfQaCfgFlagGSO
	}
	return f
}

func NewWorker(qnum uint16, opts QueueOptions, h *Handler) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		qnum:    qnum,
		opts:    opts,
		handler: h,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (w *Worker) Start() error {
	maxLen := w.opts.MaxLen
	if maxLen == 0 {
		maxLen = 4096
	}
	c := nfqueue.Config{
		NfQueue:      w.qnum,
		MaxPacketLen: 0xffff,
		MaxQueueLen:  maxLen,
		Copymode:     nfqueue.NfQnlCopyPacket,
		Flags:        w.opts.flags(),
		WriteTimeout: 15 * time.Millisecond,
	}
	q, err := nfqueue.Open(&c)
	if err != nil {
		return log.Errorf("open queue %d: %w", w.qnum, err)
	}
	w.q = q

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		log.Tracef("NFQ bound pid=%d queue=%d flags=%#x", os.Getpid(), w.qnum, c.Flags)
		if err := q.RegisterWithErrorFunc(w.ctx, w.onPacket, w.onError); err != nil {
			log.Errorf("register queue %d: %v", w.qnum, err)
		}
	}()

	return nil
}

func (w *Worker) onPacket(a nfqueue.Attribute) int {
	select {
	case <-w.ctx.Done():
		return 0
	default:
	}
	if a.PacketID == nil {
		return 0
	}
	atomic.AddUint64(&w.packetsProcessed, 1)

	p, ok := packetFromAttribute(a)
	if !ok {
		Emit(w.q, Verdict{ID: *a.PacketID})
		return 0
	}
	w.handler.Handle(w.q, p)
	return 0
}

func packetFromAttribute(a nfqueue.Attribute) (*Packet, bool) {
	if a.Payload == nil || len(*a.Payload) == 0 {
		return nil, false
	}
	p := &Packet{
		ID:      *a.PacketID,
		Payload: *a.Payload,
	}
	if a.HwProtocol != nil {
		p.HwProtocol = *a.HwProtocol
	}
	if a.Ct != nil && len(*a.Ct) > 0 {
		info, err := conntrack.Parse(*a.Ct)
		if err != nil {
			log.Tracef("packet %d: %v", p.ID, err)
		} else {
			p.Conntrack = info
		}
	}
	return p, true
}

func (w *Worker) onError(e error) int {
	if w.ctx.Err() != nil {
		return 0
	}
	if errors.Is(e, syscall.ENOBUFS) {
		now := time.Now().Unix()
		last := atomic.LoadInt64(&w.lastOverflowLog)
		if now-last >= 5 && atomic.CompareAndSwapInt64(&w.lastOverflowLog, last, now) {
			log.Warnf("nfq queue %d overflow - packets dropped", w.qnum)
		}
		return 0
	}
	if errors.Is(e, os.ErrClosed) || errors.Is(e, net.ErrClosed) || errors.Is(e, syscall.EBADF) {
		return 0
	}
	if ne, ok := e.(net.Error); ok && ne.Timeout() {
		return 0
	}
	msg := e.Error()
	if strings.Contains(msg, "use of closed file") || strings.Contains(msg, "file descriptor") {
		return 0
	}
	log.Errorf("nfq: %v", e)
	return 0
}

func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.q != nil {
		_ = w.q.Close()
	}
	done := make(chan struct{})
	go func() { w.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func (w *Worker) Queue() uint16 { return w.qnum }

func (w *Worker) Processed() uint64 {
	return atomic.LoadUint64(&w.packetsProcessed)
}
