package tables

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/wolplus/ua2f/log"
	"github.com/wolplus/ua2f/nfq"
)

const iptChainName = "UA2F"

type IPTablesManager struct {
	rs ruleSet
}

func NewIPTablesManager(rs ruleSet) *IPTablesManager {
	return &IPTablesManager{rs: rs}
}

func (im *IPTablesManager) existsChain(ipt, table, chain string) bool {
	_, err := run(ipt, "-w", "-t", table, "-S", chain)
	return err == nil
}

func (im *IPTablesManager) ensureChain(ipt, table, chain string) {
	if !im.existsChain(ipt, table, chain) {
		_, _ = run(ipt, "-w", "-t", table, "-N", chain)
	}
}

func (im *IPTablesManager) existsRule(ipt, table, chain string, spec []string) bool {
	_, err := run(append([]string{ipt, "-w", "-t", table, "-C", chain}, spec...)...)
	return err == nil
}

func (im *IPTablesManager) delAll(ipt, table, chain string, spec []string) {
	for {
		_, err := run(append([]string{ipt, "-w", "-t", table, "-D", chain}, spec...)...)
		if err != nil {
			break
		}
	}
}

type Rule struct {
	manager *IPTablesManager
	IPT     string
	Table   string
	Chain   string
	Spec    []string
	Action  string
}

func (r Rule) Apply() error {
	if r.manager.existsRule(r.IPT, r.Table, r.Chain, r.Spec) {
		return nil
	}
	op := "-A"
	if strings.ToUpper(r.Action) == "I" {
		op = "-I"
	}
	out, err := run(append([]string{r.IPT, "-w", "-t", r.Table, op, r.Chain}, r.Spec...)...)
	if err != nil {
		return log.Errorf("%s %s %s: %w: %s", r.IPT, op, r.Chain, err, strings.TrimSpace(out))
	}
	return nil
}

func (r Rule) Remove() {
	r.manager.delAll(r.IPT, r.Table, r.Chain, r.Spec)
}

type Chain struct {
	manager *IPTablesManager
	IPT     string
	Table   string
	Name    string
}

func (c Chain) Ensure() {
	c.manager.ensureChain(c.IPT, c.Table, c.Name)
}

func (c Chain) Remove() {
	if c.manager.existsChain(c.IPT, c.Table, c.Name) {
		_, _ = run(c.IPT, "-w", "-t", c.Table, "-F", c.Name)
		_, _ = run(c.IPT, "-w", "-t", c.Table, "-X", c.Name)
	}
}

type Manifest struct {
	Chains []Chain
	Rules  []Rule
}

func (m Manifest) Apply() error {
	for _, c := range m.Chains {
		c.Ensure()
	}
	for _, r := range m.Rules {
		if err := r.Apply(); err != nil {
			return err
		}
	}
	return nil
}

func (m Manifest) RemoveRules() {
	for i := len(m.Rules) - 1; i >= 0; i-- {
		m.Rules[i].Remove()
	}
}

func (m Manifest) RemoveChains() {
	for i := len(m.Chains) - 1; i >= 0; i-- {
		m.Chains[i].Remove()
	}
}

func (im *IPTablesManager) buildNFQSpec() []string {
	if im.rs.threads > 1 {
		start := strconv.Itoa(im.rs.queueStart)
		end := strconv.Itoa(im.rs.queueStart + im.rs.threads - 1)
		return []string{"-j", "NFQUEUE", "--queue-balance", start + ":" + end, "--queue-bypass"}
	}
	return []string{"-j", "NFQUEUE", "--queue-num", strconv.Itoa(im.rs.queueStart), "--queue-bypass"}
}

func availableBinaries() []string {
	var ipts []string
	for _, b := range []string{"iptables", "ip6tables"} {
		if hasBinary(b) {
			ipts = append(ipts, b)
		}
	}
	return ipts
}

func (im *IPTablesManager) buildManifest(ipts []string) (Manifest, error) {
	if len(ipts) == 0 {
		return Manifest{}, errors.New("no valid iptables binaries found")
	}

	var chains []Chain
	var rules []Rule

	for _, ipt := range ipts {
		chains = append(chains, Chain{manager: im, IPT: ipt, Table: "mangle", Name: iptChainName})

		add := func(spec ...string) {
			rules = append(rules, Rule{manager: im, IPT: ipt, Table: "mangle", Chain: iptChainName, Action: "A", Spec: spec})
		}

		add("-m", "conntrack", "--ctdir", "REPLY", "-j", "RETURN")
		for _, p := range im.rs.bypassPorts {
			add("-p", "tcp", "--dport", strconv.Itoa(p), "-j", "RETURN")
		}
		bypass := im.rs.bypass4
		if ipt == "ip6tables" {
			bypass = im.rs.bypass6
		}
		for _, cidr := range bypass {
			add("-d", cidr, "-j", "RETURN")
		}
		add("-m", "connmark", "--mark", strconv.Itoa(nfq.MarkNotHTTP), "-j", "RETURN")
		add(append([]string{"-p", "tcp"}, im.buildNFQSpec()...)...)

		rules = append(rules, Rule{manager: im, IPT: ipt, Table: "mangle", Chain: "POSTROUTING", Action: "I",
			Spec: []string{"-p", "tcp", "-j", iptChainName}})
	}

	return Manifest{Chains: chains, Rules: rules}, nil
}

func (im *IPTablesManager) Apply() error {
	log.Infof("IPTABLES: adding rules")
	loadKernelModules()
	m, err := im.buildManifest(availableBinaries())
	if err != nil {
		return err
	}
	result := m.Apply()

	if log.Enabled(log.LevelTrace) {
		trace, _ := run("sh", "-c", "cat /proc/net/netfilter/nfnetlink_queue && iptables -t mangle -vnL --line-numbers")
		log.Tracef("Current iptables mangle table:\n%s", trace)
	}
	return result
}

func (im *IPTablesManager) Clear() error {
	m, err := im.buildManifest(availableBinaries())
	if err != nil {
		return err
	}

	m.RemoveRules()
	time.Sleep(30 * time.Millisecond)
	m.RemoveChains()
	return nil
}
