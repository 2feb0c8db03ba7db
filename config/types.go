package config

import "github.com/wolplus/ua2f/log"

type Config struct {
	ConfigPath string `json:"-" mapstructure:"-"`

	Queue     QueueConfig     `json:"queue" mapstructure:"queue"`
	UserAgent UserAgentConfig `json:"user_agent" mapstructure:"user_agent"`
	Conntrack ConntrackConfig `json:"conntrack" mapstructure:"conntrack"`
	Bypass    BypassConfig    `json:"bypass" mapstructure:"bypass"`
	System    SystemConfig    `json:"system" mapstructure:"system"`
}

type QueueConfig struct {
	Num      int  `json:"num" mapstructure:"num"`
	Threads  int  `json:"threads" mapstructure:"threads"`
	MaxLen   int  `json:"max_len" mapstructure:"max_len"`
	GSO      bool `json:"gso" mapstructure:"gso"`
	FailOpen bool `json:"fail_open" mapstructure:"fail_open"`
}

type UserAgentConfig struct {
	// Custom replaces every User-Agent value. Empty falls back to the
	// build-time value, then to an all-'F' filler.
	Custom string `json:"custom" mapstructure:"custom"`
}

type ConntrackConfig struct {
	Disabled bool `json:"disabled" mapstructure:"disabled"`
	CacheTTL int  `json:"cache_ttl" mapstructure:"cache_ttl"` // seconds
}

type BypassConfig struct {
	CIDRs []string `json:"cidrs" mapstructure:"cidrs"`
}

type SystemConfig struct {
	Tables    TablesConfig    `json:"tables" mapstructure:"tables"`
	Logging   Logging         `json:"logging" mapstructure:"logging"`
	WebServer WebServerConfig `json:"web_server" mapstructure:"web_server"`
}

type TablesConfig struct {
	MonitorInterval int   `json:"monitor_interval" mapstructure:"monitor_interval"`
	SkipSetup       bool  `json:"skip_setup" mapstructure:"skip_setup"`
	BypassPorts     []int `json:"bypass_ports" mapstructure:"bypass_ports"`
}

type WebServerConfig struct {
	Port        int    `json:"port" mapstructure:"port"`
	BindAddress string `json:"bind_address" mapstructure:"bind_address"`
	IsEnabled   bool   `json:"-" mapstructure:"-"`
}

type Logging struct {
	Level      log.Level    `json:"level" mapstructure:"level"`
	Instaflush bool         `json:"instaflush" mapstructure:"instaflush"`
	Syslog     bool         `json:"syslog" mapstructure:"syslog"`
	ErrorFile  string       `json:"error_file" mapstructure:"error_file"`
	Rotation   RotateConfig `json:"rotation" mapstructure:"rotation"`
}

type RotateConfig struct {
	MaxSizeMB  int  `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `json:"compress" mapstructure:"compress"`
}
