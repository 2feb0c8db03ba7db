package tables

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/wolplus/ua2f/log"
	"github.com/wolplus/ua2f/nfq"
)

const (
	nftTableName = "ua2f"
	nftChainName = "ua2f_chain"
)

type NFTablesManager struct {
	rs ruleSet
}

func NewNFTablesManager(rs ruleSet) *NFTablesManager {
	return &NFTablesManager{rs: rs}
}

func (n *NFTablesManager) runNft(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.Command("nft", args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func (n *NFTablesManager) tableExists() bool {
	out, err := n.runNft("list", "tables")
	if err != nil {
		return false
	}
	return strings.Contains(out, "inet "+nftTableName+"\n") || strings.HasSuffix(strings.TrimSpace(out), "inet "+nftTableName)
}

func (n *NFTablesManager) chainExists(chain string) bool {
	_, err := n.runNft("list", "chain", "inet", nftTableName, chain)
	return err == nil
}

func (n *NFTablesManager) createTable() error {
	if n.tableExists() {
		return nil
	}
	_, err := n.runNft("add", "table", "inet", nftTableName)
	if err != nil {
		return fmt.Errorf("failed to create nftables table: %w", err)
	}
	log.Tracef("Created nftables table: %s", nftTableName)
	return nil
}

func (n *NFTablesManager) createChain(chain, hook string, priority int, policy string) error {
	if n.chainExists(chain) {
		return nil
	}

	var cmd []string
	if hook != "" {
		cmd = []string{"add", "chain", "inet", nftTableName, chain,
			fmt.Sprintf("{ type filter hook %s priority %d ; policy %s ; }", hook, priority, policy)}
	} else {
		cmd = []string{"add", "chain", "inet", nftTableName, chain}
	}

	_, err := n.runNft(cmd...)
	if err != nil {
		return fmt.Errorf("failed to create chain %s: %w", chain, err)
	}
	log.Tracef("Created nftables chain: %s", chain)
	return nil
}

func (n *NFTablesManager) buildNFQueueAction() string {
	if n.rs.threads > 1 {
		return fmt.Sprintf("queue num %d-%d bypass", n.rs.queueStart, n.rs.queueStart+n.rs.threads-1)
	}
	return fmt.Sprintf("queue num %d bypass", n.rs.queueStart)
}

func (n *NFTablesManager) addRule(chain string, args ...string) error {
	cmd := append([]string{"add", "rule", "inet", nftTableName, chain}, args...)
	_, err := n.runNft(cmd...)
	if err != nil {
		return fmt.Errorf("failed to add rule to %s: %w", chain, err)
	}
	return nil
}

func nftSet(items []string) string {
	if len(items) == 1 {
		return items[0]
	}
	return "{ " + strings.Join(items, ", ") + " }"
}

// chainRules lists the rules of the ua2f chain in order. Everything that
// returns early is never queued.
func (n *NFTablesManager) chainRules() [][]string {
	var rules [][]string

	rules = append(rules, []string{"ct", "direction", "reply", "return"})

	if len(n.rs.bypassPorts) > 0 {
		ports := make([]string, 0, len(n.rs.bypassPorts))
		for _, p := range n.rs.bypassPorts {
			ports = append(ports, strconv.Itoa(p))
		}
		rules = append(rules, []string{"tcp", "dport", nftSet(ports), "return"})
	}
	if len(n.rs.bypass4) > 0 {
		rules = append(rules, []string{"ip", "daddr", nftSet(n.rs.bypass4), "return"})
	}
	if len(n.rs.bypass6) > 0 {
		rules = append(rules, []string{"ip6", "daddr", nftSet(n.rs.bypass6), "return"})
	}

	rules = append(rules, []string{"ct", "mark", strconv.Itoa(nfq.MarkNotHTTP), "return"})
	rules = append(rules, append([]string{"meta", "l4proto", "tcp", "counter"}, strings.Fields(n.buildNFQueueAction())...))
	return rules
}

func (n *NFTablesManager) Apply() error {
	if !hasBinary("nft") {
		return fmt.Errorf("nft binary not found")
	}

	log.Tracef("NFTABLES: adding rules")
	loadKernelModules()

	if n.tableExists() {
		_ = n.Clear()
	}

	if err := n.createTable(); err != nil {
		return err
	}
	if err := n.createChain(nftChainName, "", 0, ""); err != nil {
		return err
	}
	if err := n.createChain("postrouting", "postrouting", -150, "accept"); err != nil {
		return err
	}
	if err := n.addRule("postrouting", "meta", "l4proto", "tcp", "jump", nftChainName); err != nil {
		return err
	}

	for _, r := range n.chainRules() {
		if err := n.addRule(nftChainName, r...); err != nil {
			return err
		}
	}

	if log.Enabled(log.LevelTrace) {
		out, _ := n.runNft("list", "table", "inet", nftTableName)
		log.Tracef("Current nftables rules:\n%s", out)
	}

	return nil
}

func (n *NFTablesManager) Clear() error {
	if !hasBinary("nft") {
		return nil
	}

	log.Tracef("NFTABLES: clearing rules")

	if n.tableExists() {
		if _, err := n.runNft("flush", "table", "inet", nftTableName); err != nil {
			log.Errorf("Failed to flush nftables table: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
		if _, err := n.runNft("delete", "table", "inet", nftTableName); err != nil {
			log.Errorf("Failed to delete nftables table: %v", err)
		}
	}

	return nil
}
