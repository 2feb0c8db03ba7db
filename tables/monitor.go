package tables

import (
	"strings"
	"sync"
	"time"

	"github.com/wolplus/ua2f/config"
	"github.com/wolplus/ua2f/log"
)

// Monitor re-installs the queue rules when something else (a firewall
// reload, usually) removes them.
type Monitor struct {
	cfg      *config.Config
	stop     chan struct{}
	wg       sync.WaitGroup
	interval time.Duration
	backend  string
	enabled  bool
}

func NewMonitor(cfg *config.Config) *Monitor {
	interval := time.Duration(cfg.System.Tables.MonitorInterval) * time.Second
	if interval < time.Second {
		interval = 10 * time.Second
	}

	return &Monitor{
		cfg:      cfg,
		stop:     make(chan struct{}),
		interval: interval,
		enabled:  !cfg.System.Tables.SkipSetup && cfg.System.Tables.MonitorInterval > 0,
	}
}

func (m *Monitor) Start() {
	if !m.enabled {
		log.Infof("Tables monitor disabled")
		return
	}
	m.backend = detectFirewallBackend()

	m.wg.Add(1)
	go m.monitorLoop()
	log.Infof("Started tables monitor (backend: %s, interval: %v)", m.backend, m.interval)
}

func (m *Monitor) Stop() {
	if !m.enabled {
		return
	}

	close(m.stop)
	m.wg.Wait()
	log.Infof("Stopped tables monitor")
}

func (m *Monitor) monitorLoop() {
	defer m.wg.Done()

	select {
	case <-m.stop:
		return
	case <-time.After(5 * time.Second):
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if !m.checkRules() {
				log.Warnf("Tables rules missing, restoring...")
				if err := AddRules(m.cfg); err != nil {
					log.Errorf("Failed to restore tables rules: %v", err)
				} else {
					log.Infof("Tables rules restored successfully")
				}
			}
		}
	}
}

func (m *Monitor) checkRules() bool {
	if m.backend == "nftables" {
		return m.checkNFTablesRules()
	}
	return m.checkIPTablesRules()
}

func (m *Monitor) checkIPTablesRules() bool {
	for _, ipt := range availableBinaries() {
		if _, err := run(ipt, "-w", "-t", "mangle", "-S", iptChainName); err != nil {
			log.Tracef("Monitor: %s chain missing", iptChainName)
			return false
		}
		if _, err := run(ipt, "-w", "-t", "mangle", "-C", "POSTROUTING", "-p", "tcp", "-j", iptChainName); err != nil {
			log.Tracef("Monitor: POSTROUTING->%s rule missing", iptChainName)
			return false
		}
		out, _ := run(ipt, "-w", "-t", "mangle", "-S", iptChainName)
		if !strings.Contains(out, "NFQUEUE") {
			log.Tracef("Monitor: NFQUEUE rule missing")
			return false
		}
	}
	return true
}

func (m *Monitor) checkNFTablesRules() bool {
	nft := NewNFTablesManager(ruleSet{})

	if !nft.tableExists() {
		log.Tracef("Monitor: nftables table missing")
		return false
	}
	if !nft.chainExists(nftChainName) {
		log.Tracef("Monitor: %s missing", nftChainName)
		return false
	}
	if !nft.chainExists("postrouting") {
		log.Tracef("Monitor: postrouting chain missing")
		return false
	}
	out, _ := nft.runNft("list", "chain", "inet", nftTableName, "postrouting")
	if !strings.Contains(out, nftChainName) {
		log.Tracef("Monitor: postrouting->%s jump missing", nftChainName)
		return false
	}
	out, _ = nft.runNft("list", "chain", "inet", nftTableName, nftChainName)
	if !strings.Contains(out, "queue") {
		log.Tracef("Monitor: queue rule missing")
		return false
	}
	return true
}
