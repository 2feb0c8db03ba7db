package config

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/wolplus/ua2f/log"
)

func TestNewConfig_DeepCopy(t *testing.T) {
	c1 := NewConfig()
	c2 := NewConfig()

	c1.System.Tables.BypassPorts = append(c1.System.Tables.BypassPorts, 8443)
	c1.Bypass.CIDRs = append(c1.Bypass.CIDRs, "10.0.0.0/8")

	if len(c2.System.Tables.BypassPorts) != 2 {
		t.Error("BypassPorts leaked between instances")
	}
	if len(c2.Bypass.CIDRs) != 0 {
		t.Error("CIDRs leaked between instances")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero threads", mutate: func(c *Config) { c.Queue.Threads = 0 }, wantErr: "threads"},
		{name: "queue range", mutate: func(c *Config) { c.Queue.Num = 65535; c.Queue.Threads = 2 }, wantErr: "queue-num"},
		{name: "cache ttl", mutate: func(c *Config) { c.Conntrack.CacheTTL = 0 }, wantErr: "cache-ttl"},
		{name: "cache ttl ignored when disabled", mutate: func(c *Config) { c.Conntrack.CacheTTL = 0; c.Conntrack.Disabled = true }},
		{name: "ua line break", mutate: func(c *Config) { c.UserAgent.Custom = "a\r\nX-Evil: 1" }, wantErr: "line breaks"},
		{name: "bypass port", mutate: func(c *Config) { c.System.Tables.BypassPorts = []int{0} }, wantErr: "bypass port"},
		{name: "bad cidr", mutate: func(c *Config) { c.Bypass.CIDRs = []string{"10.0.0.0/33"} }, wantErr: "bypass cidr"},
		{name: "bad address", mutate: func(c *Config) { c.Bypass.CIDRs = []string{"nope"} }, wantErr: "bypass address"},
		{name: "web port", mutate: func(c *Config) { c.System.WebServer.Port = 70000 }, wantErr: "web-port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_WebServerEnabled(t *testing.T) {
	c := NewConfig()
	c.System.WebServer.Port = 8080
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if !c.System.WebServer.IsEnabled {
		t.Error("web server should be enabled")
	}
}

func TestBypassPrefixes(t *testing.T) {
	c := NewConfig()
	c.Bypass.CIDRs = []string{"192.168.1.7/24", "2001:db8::1", " ", "::ffff:10.1.2.3"}

	got, err := c.BypassPrefixes()
	if err != nil {
		t.Fatal(err)
	}
	want := []netip.Prefix{
		netip.MustParsePrefix("192.168.1.0/24"),
		netip.MustParsePrefix("2001:db8::1/128"),
		netip.MustParsePrefix("10.1.2.3/32"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("prefix %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResolveUserAgent(t *testing.T) {
	saved := EmbeddedUserAgent
	t.Cleanup(func() { EmbeddedUserAgent = saved })

	c := NewConfig()
	EmbeddedUserAgent = ""
	if ua, src := c.ResolveUserAgent(); ua != "" || src != UASourceDefault {
		t.Errorf("got %q/%s, want default", ua, src)
	}

	EmbeddedUserAgent = "Embedded/1.0"
	if ua, src := c.ResolveUserAgent(); ua != "Embedded/1.0" || src != UASourceEmbedded {
		t.Errorf("got %q/%s, want embedded", ua, src)
	}

	c.UserAgent.Custom = "Custom/2.0"
	if ua, src := c.ResolveUserAgent(); ua != "Custom/2.0" || src != UASourceConfig {
		t.Errorf("got %q/%s, want config", ua, src)
	}
}

func TestApplyLogLevel(t *testing.T) {
	c := NewConfig()
	c.ApplyLogLevel("trace")
	if c.System.Logging.Level != log.LevelTrace {
		t.Errorf("got %v", c.System.Logging.Level)
	}
	c.ApplyLogLevel("bogus")
	if c.System.Logging.Level != log.LevelInfo {
		t.Errorf("unknown level should fall back to info, got %v", c.System.Logging.Level)
	}
}

func TestErrorFile(t *testing.T) {
	c := NewConfig()
	c.System.Logging.ErrorFile = "/var/log/ua2f/errors.log"
	c.System.Logging.Rotation.Compress = true

	ef := c.ErrorFile()
	if ef.Path != "/var/log/ua2f/errors.log" || ef.MaxSizeMB != 1 || ef.MaxBackups != 3 || ef.MaxAgeDays != 7 || !ef.Compress {
		t.Errorf("unexpected error file settings: %+v", ef)
	}
}

func TestLogString(t *testing.T) {
	c := NewConfig()
	if s := c.LogString(); !strings.Contains(s, "queue=10010") || !strings.Contains(s, "ua(default)=\"<F filler>\"") {
		t.Errorf("unexpected summary: %s", s)
	}

	c.UserAgent.Custom = "curl"
	c.Conntrack.Disabled = true
	s := c.LogString()
	if !strings.Contains(s, `ua(config)="curl"`) || !strings.Contains(s, "conntrack=false") {
		t.Errorf("unexpected summary: %s", s)
	}
}
