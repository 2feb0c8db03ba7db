package config

import "github.com/spf13/cobra"

func (c *Config) BindFlags(cmd *cobra.Command) {
	// Config path
	cmd.Flags().StringVar(&c.ConfigPath, "config", c.ConfigPath, "Path to config file (json, yaml or toml)")

	// Queue configuration
	cmd.Flags().IntVar(&c.Queue.Num, "queue-num", c.Queue.Num, "Netfilter queue number")
	cmd.Flags().IntVar(&c.Queue.Threads, "threads", c.Queue.Threads, "Number of queues/workers starting at queue-num")
	cmd.Flags().IntVar(&c.Queue.MaxLen, "queue-max-len", c.Queue.MaxLen, "Kernel queue length")
	cmd.Flags().BoolVar(&c.Queue.GSO, "gso", c.Queue.GSO, "Accept GSO packets from the kernel")
	cmd.Flags().BoolVar(&c.Queue.FailOpen, "fail-open", c.Queue.FailOpen, "Let the kernel accept packets when the queue is full")

	// Rewriting
	cmd.Flags().StringVar(&c.UserAgent.Custom, "user-agent", c.UserAgent.Custom, "Replacement User-Agent (padded with spaces, truncated to the original length)")
	cmd.Flags().BoolVar(&c.Conntrack.Disabled, "disable-connmark", c.Conntrack.Disabled, "Do not classify flows with the connection mark")
	cmd.Flags().IntVar(&c.Conntrack.CacheTTL, "cache-ttl", c.Conntrack.CacheTTL, "Seconds a non-HTTP destination stays cached")
	cmd.Flags().StringSliceVar(&c.Bypass.CIDRs, "bypass", c.Bypass.CIDRs, "Destination IPs/CIDRs that are never inspected")

	// System configuration
	cmd.Flags().IntVar(&c.System.Tables.MonitorInterval, "tables-monitor-interval", c.System.Tables.MonitorInterval, "Tables monitor interval in seconds (0 to disable)")
	cmd.Flags().BoolVar(&c.System.Tables.SkipSetup, "skip-tables", c.System.Tables.SkipSetup, "Skip iptables/nftables setup on startup")
	cmd.Flags().IntSliceVar(&c.System.Tables.BypassPorts, "bypass-ports", c.System.Tables.BypassPorts, "Destination TCP ports never queued")

	cmd.Flags().BoolVarP(&c.System.Logging.Instaflush, "instaflush", "i", c.System.Logging.Instaflush, "Flush logs immediately")
	cmd.Flags().BoolVar(&c.System.Logging.Syslog, "syslog", c.System.Logging.Syslog, "Enable syslog output")
	cmd.Flags().StringVar(&c.System.Logging.ErrorFile, "error-file", c.System.Logging.ErrorFile, "Rotated file receiving a copy of every error")

	cmd.Flags().IntVar(&c.System.WebServer.Port, "web-port", c.System.WebServer.Port, "Port for the status/metrics server (0 disables)")
	cmd.Flags().StringVar(&c.System.WebServer.BindAddress, "web-bind", c.System.WebServer.BindAddress, "Bind address for the status/metrics server")
}
