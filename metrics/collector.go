package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wolplus/ua2f/log"
)

// Connmark verdict kinds, as counted by CountVerdict.
const (
	VerdictUnchanged = "unchanged"
	VerdictInit      = "init"
	VerdictStep      = "step"
	VerdictNotHTTP   = "not_http"
	VerdictHTTP      = "http"
)

var verdictKinds = []string{VerdictUnchanged, VerdictInit, VerdictStep, VerdictNotHTTP, VerdictHTTP}

const (
	markInit    = 16
	markNotHTTP = 43
	markHTTP    = 44

	// the first report fires once this many user-agent packets were seen
	firstReport = 4
	reportStep  = 8192
)

// Collector holds the traffic counters of one filter process. Counting
// methods are safe for concurrent use from queue callbacks.
type Collector struct {
	InstanceID string
	StartTime  time.Time

	userAgent atomic.Uint64
	http      atomic.Uint64
	tcp       atomic.Uint64
	ipv4      atomic.Uint64
	ipv6      atomic.Uint64
	mangled   atomic.Uint64
	verdicts  [5]atomic.Uint64

	lastReport atomic.Uint64

	mu           sync.RWMutex
	packetRate   []TimeSeriesPoint
	currentPPS   float64
	lastPackets  uint64
	lastUpdate   time.Time
	memory       MemoryStats
	recentEvents []SystemEvent
	cacheSize    func() int
}

type TimeSeriesPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type MemoryStats struct {
	Allocated uint64 `json:"allocated"`
	System    uint64 `json:"system"`
	HeapInuse uint64 `json:"heap_inuse"`
	NumGC     uint32 `json:"num_gc"`
}

type SystemEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Snapshot is the JSON view served by /api/stats.
type Snapshot struct {
	InstanceID string    `json:"instance_id"`
	StartTime  time.Time `json:"start_time"`
	Uptime     string    `json:"uptime"`

	UserAgentPackets uint64            `json:"user_agent_packets"`
	HTTPPackets      uint64            `json:"http_packets"`
	TCPPackets       uint64            `json:"tcp_packets"`
	IPv4Packets      uint64            `json:"ipv4_packets"`
	IPv6Packets      uint64            `json:"ipv6_packets"`
	MangledPackets   uint64            `json:"mangled_packets"`
	Verdicts         map[string]uint64 `json:"verdicts"`
	CacheEntries     int               `json:"cache_entries"`

	CurrentPPS   float64           `json:"current_pps"`
	PacketRate   []TimeSeriesPoint `json:"packet_rate"`
	MemoryUsage  MemoryStats       `json:"memory_usage"`
	RecentEvents []SystemEvent     `json:"recent_events"`
}

var (
	collector     *Collector
	collectorOnce sync.Once
)

// GetCollector returns the process-wide collector.
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = NewCollector()
	})
	return collector
}

func NewCollector() *Collector {
	now := time.Now()
	c := &Collector{
		InstanceID:   uuid.NewString(),
		StartTime:    now,
		lastUpdate:   now,
		packetRate:   make([]TimeSeriesPoint, 0, 60),
		recentEvents: make([]SystemEvent, 0, 20),
	}
	c.lastReport.Store(firstReport)
	return c
}

func (c *Collector) CountIPv4()          { c.ipv4.Add(1) }
func (c *Collector) CountIPv6()          { c.ipv6.Add(1) }
func (c *Collector) CountTCP()           { c.tcp.Add(1) }
func (c *Collector) CountHTTPCandidate() { c.http.Add(1) }
func (c *Collector) CountUserAgent()     { c.userAgent.Add(1) }

// CountVerdict records the connmark decision of one verdict and whether the
// packet went back modified.
func (c *Collector) CountVerdict(set bool, mark uint32, mangled bool) {
	c.verdicts[verdictIndex(set, mark)].Add(1)
	if mangled {
		c.mangled.Add(1)
	}
}

func verdictIndex(set bool, mark uint32) int {
	switch {
	case !set:
		return 0
	case mark == markInit:
		return 1
	case mark == markNotHTTP:
		return 3
	case mark == markHTTP:
		return 4
	}
	return 2
}

// SetCacheSize installs the function reporting the not-HTTP cache size.
func (c *Collector) SetCacheSize(fn func() int) {
	c.mu.Lock()
	c.cacheSize = fn
	c.mu.Unlock()
}

// MaybeReport logs the counters when the user-agent count has doubled since
// the last report, or grown by reportStep.
func (c *Collector) MaybeReport() {
	ua := c.userAgent.Load()
	last := c.lastReport.Load()
	if last == 0 || ua < last {
		return
	}
	if ua/last != 2 && ua-last < reportStep {
		return
	}
	if !c.lastReport.CompareAndSwap(last, ua) {
		return
	}

	msg := fmt.Sprintf("handled %d user-agent packets, %d http, %d tcp (%d ipv4, %d ipv6), %d rewritten in %s",
		ua, c.http.Load(), c.tcp.Load(), c.ipv4.Load(), c.ipv6.Load(), c.mangled.Load(),
		formatDuration(time.Since(c.StartTime)))
	log.Infof("%s", msg)
	c.RecordEvent("info", msg)
}

func (c *Collector) RecordEvent(level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	event := SystemEvent{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}

	c.recentEvents = append([]SystemEvent{event}, c.recentEvents...)
	if len(c.recentEvents) > 20 {
		c.recentEvents = c.recentEvents[:20]
	}
}

// Run samples the packet rate and memory use every second until ctx ends.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.updateRates(now)
			c.updateSystemStats()
		}
	}
}

func (c *Collector) packets() uint64 {
	return c.ipv4.Load() + c.ipv6.Load()
}

func (c *Collector) updateRates(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := now.Sub(c.lastUpdate).Seconds()
	if duration <= 0 {
		return
	}

	total := c.packets()
	c.currentPPS = float64(total-c.lastPackets) / duration
	c.packetRate = append(c.packetRate, TimeSeriesPoint{
		Timestamp: now.UnixMilli(),
		Value:     c.currentPPS,
	})
	if len(c.packetRate) > 60 {
		c.packetRate = c.packetRate[len(c.packetRate)-60:]
	}

	c.lastUpdate = now
	c.lastPackets = total
}

func (c *Collector) updateSystemStats() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.memory = MemoryStats{
		Allocated: memStats.Alloc,
		System:    memStats.Sys,
		HeapInuse: memStats.HeapInuse,
		NumGC:     memStats.NumGC,
	}
}

func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		InstanceID:       c.InstanceID,
		StartTime:        c.StartTime,
		Uptime:           formatDuration(time.Since(c.StartTime)),
		UserAgentPackets: c.userAgent.Load(),
		HTTPPackets:      c.http.Load(),
		TCPPackets:       c.tcp.Load(),
		IPv4Packets:      c.ipv4.Load(),
		IPv6Packets:      c.ipv6.Load(),
		MangledPackets:   c.mangled.Load(),
		Verdicts:         make(map[string]uint64, len(verdictKinds)),
	}
	for i, k := range verdictKinds {
		s.Verdicts[k] = c.verdicts[i].Load()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cacheSize != nil {
		s.CacheEntries = c.cacheSize()
	}
	s.CurrentPPS = c.currentPPS
	s.MemoryUsage = c.memory
	s.PacketRate = smoothTimeSeriesData(c.packetRate, 3)
	s.RecentEvents = make([]SystemEvent, len(c.recentEvents))
	copy(s.RecentEvents, c.recentEvents)
	return s
}

func smoothTimeSeriesData(data []TimeSeriesPoint, windowSize int) []TimeSeriesPoint {
	if len(data) <= windowSize {
		out := make([]TimeSeriesPoint, len(data))
		copy(out, data)
		return out
	}

	smoothed := make([]TimeSeriesPoint, len(data))

	for i := range data {
		sum := 0.0
		count := 0

		for j := max(0, i-windowSize/2); j <= min(len(data)-1, i+windowSize/2); j++ {
			sum += data[j].Value
			count++
		}

		smoothed[i] = TimeSeriesPoint{
			Timestamp: data[i].Timestamp,
			Value:     sum / float64(count),
		}
	}

	return smoothed
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
