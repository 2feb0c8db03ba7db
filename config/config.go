package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/wolplus/ua2f/log"
)

// EmbeddedUserAgent is set at build time:
//
//	go build -ldflags "-X github.com/wolplus/ua2f/config.EmbeddedUserAgent=..."
var EmbeddedUserAgent string

const (
	UASourceConfig   = "config"
	UASourceEmbedded = "embedded"
	UASourceDefault  = "default"
)

var DefaultConfig = Config{
	ConfigPath: "",

	Queue: QueueConfig{
		Num:      10010,
		Threads:  1,
		MaxLen:   4096,
		GSO:      true,
		FailOpen: true,
	},

	Conntrack: ConntrackConfig{
		Disabled: false,
		CacheTTL: 60,
	},

	Bypass: BypassConfig{
		CIDRs: []string{},
	},

	System: SystemConfig{
		Tables: TablesConfig{
			MonitorInterval: 10,
			SkipSetup:       true,
			BypassPorts:     []int{22, 443},
		},

		WebServer: WebServerConfig{
			Port:        0,
			BindAddress: "127.0.0.1",
		},

		Logging: Logging{
			Level:      log.LevelInfo,
			Instaflush: true,
			Syslog:     false,
			Rotation: RotateConfig{
				MaxSizeMB:  1,
				MaxBackups: 3,
				MaxAgeDays: 7,
			},
		},
	},
}

// NewConfig returns DefaultConfig with its slices copied.
func NewConfig() Config {
	c := DefaultConfig
	c.Bypass.CIDRs = append([]string{}, DefaultConfig.Bypass.CIDRs...)
	c.System.Tables.BypassPorts = append([]int{}, DefaultConfig.System.Tables.BypassPorts...)
	return c
}

func (cfg *Config) ApplyLogLevel(level string) {
	l, ok := log.ParseLevel(level)
	if !ok {
		l = log.LevelInfo
	}
	cfg.System.Logging.Level = l
}

func (c *Config) Validate() error {
	c.System.WebServer.IsEnabled = c.System.WebServer.Port > 0 && c.System.WebServer.Port <= 65535

	if c.Queue.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}

	if c.Queue.Num < 0 || c.Queue.Num+c.Queue.Threads-1 > 65535 {
		return fmt.Errorf("queue-num must be between 0 and 65535")
	}

	if c.Queue.MaxLen < 1 {
		return fmt.Errorf("queue max length must be positive")
	}

	if !c.Conntrack.Disabled && c.Conntrack.CacheTTL < 1 {
		return fmt.Errorf("cache-ttl must be at least 1 second")
	}

	if strings.ContainsAny(c.UserAgent.Custom, "\r\n") {
		return fmt.Errorf("custom user agent must not contain line breaks")
	}

	if c.System.WebServer.Port < 0 || c.System.WebServer.Port > 65535 {
		return fmt.Errorf("web-port must be between 0 and 65535")
	}

	for _, p := range c.System.Tables.BypassPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("bypass port %d out of range", p)
		}
	}

	if _, err := c.BypassPrefixes(); err != nil {
		return err
	}

	return nil
}

// BypassPrefixes parses Bypass.CIDRs. A bare address becomes a host prefix.
func (c *Config) BypassPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.Bypass.CIDRs))
	for _, s := range c.Bypass.CIDRs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("invalid bypass cidr %q: %w", s, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bypass address %q: %w", s, err)
		}
		out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	return out, nil
}

// ResolveUserAgent picks the replacement value: config first, then the
// build-time value. An empty result means the 'F' filler.
func (c *Config) ResolveUserAgent() (string, string) {
	if c.UserAgent.Custom != "" {
		return c.UserAgent.Custom, UASourceConfig
	}
	if EmbeddedUserAgent != "" {
		return EmbeddedUserAgent, UASourceEmbedded
	}
	return "", UASourceDefault
}

func (c *Config) ErrorFile() log.ErrorFile {
	r := c.System.Logging.Rotation
	return log.ErrorFile{
		Path:       c.System.Logging.ErrorFile,
		MaxSizeMB:  r.MaxSizeMB,
		MaxBackups: r.MaxBackups,
		MaxAgeDays: r.MaxAgeDays,
		Compress:   r.Compress,
	}
}

func (c *Config) LogString() string {
	ua, src := c.ResolveUserAgent()
	if ua == "" {
		ua = "<F filler>"
	}
	return fmt.Sprintf("queue=%d threads=%d conntrack=%t cache_ttl=%ds ua(%s)=%q bypass=%d",
		c.Queue.Num, c.Queue.Threads, !c.Conntrack.Disabled, c.Conntrack.CacheTTL, src, ua, len(c.Bypass.CIDRs))
}
