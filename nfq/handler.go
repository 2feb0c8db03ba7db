package nfq

import (
	"fmt"
	"time"

	"github.com/wolplus/ua2f/config"
	"github.com/wolplus/ua2f/log"
	"github.com/wolplus/ua2f/mangle"
	"github.com/wolplus/ua2f/packet"
	"golang.org/x/sys/unix"
)

type HandlerOptions struct {
	UseConntrack bool
	CacheTTL     time.Duration
	Bypass       *Bypass
}

// Handler owns everything a packet dispatch needs. One Handler is shared by
// all workers; it holds no per-packet state.
type Handler struct {
	repl       *mangle.Replacement
	cache      FlowCache
	counters   Counters
	classifier Classifier
	bypass     *Bypass
	useCT      bool

	rewrite func(mangle.Segment, *mangle.Replacement) (mangle.Result, error)
}

// NewHandler wires the dispatch pipeline. When fc can be initialised with a
// lifetime (as *cache.NotHTTP can) that happens here, once.
func NewHandler(repl *mangle.Replacement, fc FlowCache, counters Counters, opts HandlerOptions) *Handler {
	if in, ok := fc.(interface{ Init(time.Duration) }); ok && opts.UseConntrack {
		in.Init(opts.CacheTTL)
	}
	return &Handler{
		repl:       repl,
		cache:      fc,
		counters:   counters,
		classifier: Classifier{UseConntrack: opts.UseConntrack, Cache: fc},
		bypass:     opts.Bypass,
		useCT:      opts.UseConntrack,
		rewrite:    mangle.UserAgent,
	}
}

// NewHandlerFromConfig builds the replacement value and bypass set from cfg.
func NewHandlerFromConfig(cfg *config.Config, fc FlowCache, counters Counters) (*Handler, error) {
	ua, source := cfg.ResolveUserAgent()
	repl, err := mangle.NewReplacement(ua)
	if err != nil {
		return nil, fmt.Errorf("replacement buffer: %w", err)
	}
	if repl.Custom() {
		log.Infof("using %s user-agent: %s", source, ua)
	} else {
		log.Infof("no custom user-agent set, using the default F-string")
	}

	prefixes, err := cfg.BypassPrefixes()
	if err != nil {
		return nil, err
	}
	bypass, err := NewBypass(prefixes)
	if err != nil {
		return nil, err
	}

	if cfg.Conntrack.Disabled {
		log.Infof("conntrack cache disabled by config")
	}

	return NewHandler(repl, fc, counters, HandlerOptions{
		UseConntrack: !cfg.Conntrack.Disabled,
		CacheTTL:     time.Duration(cfg.Conntrack.CacheTTL) * time.Second,
		Bypass:       bypass,
	}), nil
}

func (h *Handler) emit(w VerdictWriter, v Verdict) {
	h.counters.CountVerdict(v.Mark.Set, v.Mark.Mark, v.Packet != nil)
	Emit(w, v)
}

func (h *Handler) next(w VerdictWriter, p *Packet, seen bool, pkt []byte) {
	h.emit(w, Verdict{ID: p.ID, Mark: h.classifier.Next(p.Conntrack, seen), Packet: pkt})
}

func (h *Handler) ipVersion(p *Packet) int {
	if p.Conntrack != nil {
		return p.Conntrack.Version
	}
	switch p.HwProtocol {
	case unix.ETH_P_IP:
		return packet.IPv4
	case unix.ETH_P_IPV6:
		return packet.IPv6
	}
	return 0
}

// Handle dispatches one queued packet and emits at most one verdict for it.
func (h *Handler) Handle(w VerdictWriter, p *Packet) {
	defer h.counters.MaybeReport()

	ct := p.Conntrack
	if h.useCT && ct != nil {
		key := ct.Key()
		if h.cache.Contains(key) {
			h.emit(w, Verdict{ID: p.ID, Mark: SetMark(MarkNotHTTP)})
			return
		}
		if h.bypass.Contains(ct.Dst) {
			log.Tracef("flow %s bypassed", key)
			h.cache.Add(key)
			h.emit(w, Verdict{ID: p.ID, Mark: SetMark(MarkNotHTTP)})
			return
		}
	}

	buf := packet.Acquire(p.Payload)
	defer buf.Release()

	version := h.ipVersion(p)
	if version != packet.IPv4 && version != packet.IPv6 {
		log.Warnf("unknown ip packet type %#x, check the firewall rules", p.HwProtocol)
		h.next(w, p, false, nil)
		return
	}

	if err := buf.Parse(version); err != nil {
		log.Warnf("packet %d: no transport header: %v; header: %s", p.ID, err, buf.Describe())
		h.emit(w, Verdict{ID: p.ID})
		return
	}
	if version == packet.IPv4 {
		h.counters.CountIPv4()
	} else {
		h.counters.CountIPv6()
	}

	if !buf.IsTCP() {
		log.Tracef("packet %d: not tcp (proto %d)", p.ID, buf.Protocol())
		h.emit(w, Verdict{ID: p.ID})
		return
	}

	payload := buf.TCPPayload()
	if len(payload) < mangle.MatchLen {
		h.next(w, p, false, nil)
		return
	}
	h.counters.CountTCP()
	if len(payload) < mangle.MinPayload {
		h.next(w, p, false, nil)
		return
	}

	// any long enough tcp payload counts, whether or not it is http
	h.counters.CountHTTPCandidate()

	res, err := h.rewrite(buf, h.repl)
	if err != nil {
		log.Errorf("packet %d: mangle failed: %v", p.ID, err)
		h.next(w, p, res.Seen, nil)
		return
	}
	if res.Seen {
		h.counters.CountUserAgent()
	}
	if res.Unterminated {
		log.Infof("packet %d: User-Agent header is not terminated with \\r, not mangled", p.ID)
		h.next(w, p, true, nil)
		return
	}

	var out []byte
	if res.Mangled {
		out = buf.Bytes()
	}
	h.next(w, p, res.Seen, out)
}
