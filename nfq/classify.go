package nfq

import (
	"github.com/wolplus/ua2f/conntrack"
	"github.com/wolplus/ua2f/log"
)

// Classifier turns the connmark of a flow plus the outcome of the current
// packet into the next connmark.
type Classifier struct {
	UseConntrack bool
	Cache        FlowCache
}

// Next returns the mark update for a packet of the flow described by ct.
// seen reports whether the packet carried a User-Agent header.
func (c *Classifier) Next(ct *conntrack.Info, seen bool) MarkOp {
	if !c.UseConntrack || ct == nil {
		return MarkOp{}
	}

	mark := ct.Mark
	if !ct.HasMark {
		mark = 0
	}

	switch {
	case mark == MarkNotHTTP:
		// firewall rules should return these before they are queued
		log.Warnf("flow %s is already marked not-http, check the firewall rules", ct.Key())
		return MarkOp{}
	case mark == MarkHTTP:
		return MarkOp{}
	case seen:
		return SetMark(MarkHTTP)
	case mark == 0:
		return SetMark(MarkEstimateLower)
	case mark == MarkEstimateVerdict:
		if c.Cache != nil {
			c.Cache.Add(ct.Key())
		}
		return SetMark(MarkNotHTTP)
	case mark >= MarkEstimateLower && mark <= MarkEstimateUpper:
		return SetMark(mark + 1)
	}

	log.Warnf("unexpected connmark %d on flow %s, another program may own it", mark, ct.Key())
	return SetMark(mark + 1)
}
