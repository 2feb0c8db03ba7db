package tables

import (
	"bytes"
	"os/exec"
	"strings"

	"github.com/wolplus/ua2f/config"
	"github.com/wolplus/ua2f/log"
)

// ruleSet is the backend independent description of what gets queued.
type ruleSet struct {
	queueStart  int
	threads     int
	bypassPorts []int
	bypass4     []string
	bypass6     []string
}

func newRuleSet(cfg *config.Config) (ruleSet, error) {
	rs := ruleSet{
		queueStart:  cfg.Queue.Num,
		threads:     cfg.Queue.Threads,
		bypassPorts: cfg.System.Tables.BypassPorts,
	}
	if rs.threads < 1 {
		rs.threads = 1
	}
	prefixes, err := cfg.BypassPrefixes()
	if err != nil {
		return rs, err
	}
	for _, p := range prefixes {
		if p.Addr().Is4() {
			rs.bypass4 = append(rs.bypass4, p.String())
		} else {
			rs.bypass6 = append(rs.bypass6, p.String())
		}
	}
	return rs, nil
}

// AddRules installs the queue rules with whichever firewall is in use.
func AddRules(cfg *config.Config) error {
	if cfg.System.Tables.SkipSetup {
		return nil
	}
	rs, err := newRuleSet(cfg)
	if err != nil {
		return err
	}

	backend := detectFirewallBackend()
	log.Infof("Detected firewall backend: %s", backend)

	if backend == "nftables" {
		return NewNFTablesManager(rs).Apply()
	}
	return NewIPTablesManager(rs).Apply()
}

func ClearRules(cfg *config.Config) error {
	rs, err := newRuleSet(cfg)
	if err != nil {
		return err
	}

	if detectFirewallBackend() == "nftables" {
		return NewNFTablesManager(rs).Clear()
	}
	return NewIPTablesManager(rs).Clear()
}

func run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// detectFirewallBackend determines whether to use iptables or nftables
func detectFirewallBackend() string {
	if hasBinary("nft") {
		out, err := run("nft", "list", "tables")
		if err == nil && out != "" {
			return "nftables"
		}
	}

	if hasBinary("iptables") {
		out, _ := run("iptables", "--version")
		if strings.Contains(out, "nf_tables") {
			return "nftables"
		}
		return "iptables"
	}

	return "iptables"
}

func hasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func loadKernelModules() {
	_, _ = run("sh", "-c", "modprobe nf_conntrack >/dev/null 2>&1 || true")

	// iptables
	_, _ = run("sh", "-c", "modprobe xt_NFQUEUE --first-time >/dev/null 2>&1 || true")
	_, _ = run("sh", "-c", "modprobe xt_connmark --first-time >/dev/null 2>&1 || true")

	// nftables
	_, _ = run("sh", "-c", "modprobe nf_tables >/dev/null 2>&1 || true")
	_, _ = run("sh", "-c", "modprobe nft_queue >/dev/null 2>&1 || true")
	_, _ = run("sh", "-c", "modprobe nft_ct >/dev/null 2>&1 || true")
}
