package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/wolplus/ua2f/cache"
	"github.com/wolplus/ua2f/config"
	ua2fhttp "github.com/wolplus/ua2f/http"
	"github.com/wolplus/ua2f/http/handler"
	"github.com/wolplus/ua2f/log"
	"github.com/wolplus/ua2f/metrics"
	"github.com/wolplus/ua2f/nfq"
	"github.com/wolplus/ua2f/tables"
)

var (
	cfg         = config.NewConfig()
	verboseFlag string
	showVersion bool
	clearTables bool
	Version     = "dev"
	Commit      = "none"
	Date        = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "ua2f",
	Short: "HTTP User-Agent rewriter",
	Long:  `ua2f reads TCP packets from a netfilter queue and overwrites every HTTP User-Agent value before the packet leaves the router`,
	RunE:  runUA2F,
}

func init() {
	cfg.BindFlags(rootCmd)

	rootCmd.Flags().StringVar(&verboseFlag, "verbose", "info", "Set verbosity level (debug, trace, info, error, silent)")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version and exit")
	rootCmd.Flags().BoolVar(&clearTables, "clear-tables", false, "Perform only iptables/nftables cleanup and exit")
}

func main() {
	initTimezone()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runUA2F(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("ua2f version: %s (%s) %s\n", Version, Commit, Date)
		ua, source := cfg.ResolveUserAgent()
		fmt.Printf("user agent (%s): %q\n", source, ua)
		return nil
	}
	handler.Version, handler.Commit, handler.Date = Version, Commit, Date

	if err := cfg.Load(cfg.ConfigPath, cmd.Flags()); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("verbose") {
		cfg.ApplyLogLevel(verboseFlag)
	}

	if err := initLogging(&cfg); err != nil {
		return fmt.Errorf("logging initialization failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return log.Errorf("invalid configuration: %w", err)
	}

	if clearTables {
		log.Infof("Clearing iptables/nftables rules as requested (--clear-tables)")
		if err := tables.ClearRules(&cfg); err != nil {
			return log.Errorf("failed to clear tables rules: %w", err)
		}
		log.Infof("Tables rules cleared successfully")
		return nil
	}

	log.Infof("Starting ua2f %s", Version)
	printConfigDefaults(cmd)

	collector := metrics.GetCollector()
	collector.RecordEvent("info", "ua2f starting up")

	flows := cache.New(time.Duration(cfg.Conntrack.CacheTTL) * time.Second)
	collector.SetCacheSize(flows.Len)

	h, err := nfq.NewHandlerFromConfig(&cfg, flows, collector)
	if err != nil {
		return log.Errorf("failed to build packet handler: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector.Register(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go collector.Run(ctx)

	if !cfg.System.Tables.SkipSetup {
		log.Tracef("Clearing existing iptables/nftables rules")
		_ = tables.ClearRules(&cfg)

		log.Tracef("Adding tables rules")
		if err := tables.AddRules(&cfg); err != nil {
			collector.RecordEvent("error", fmt.Sprintf("Failed to add tables rules: %v", err))
			return fmt.Errorf("failed to add tables rules: %w", err)
		}
		collector.RecordEvent("info", "Tables rules configured successfully")
	} else {
		log.Infof("Skipping tables setup (--skip-tables)")
	}

	log.Infof("Starting netfilter queue pool (queue: %d, threads: %d)", cfg.Queue.Num, cfg.Queue.Threads)
	pool := nfq.NewPool(uint16(cfg.Queue.Num), cfg.Queue.Threads, nfq.QueueOptionsFromConfig(&cfg), h)
	if err := pool.Start(); err != nil {
		collector.RecordEvent("error", fmt.Sprintf("NFQueue start failed: %v", err))
		if !cfg.System.Tables.SkipSetup {
			_ = tables.ClearRules(&cfg)
		}
		return fmt.Errorf("netfilter queue start failed: %w", err)
	}
	collector.RecordEvent("info", fmt.Sprintf("NFQueue started with %d threads", cfg.Queue.Threads))

	tablesMonitor := tables.NewMonitor(&cfg)
	tablesMonitor.Start()

	httpServer, err := ua2fhttp.StartServer(&cfg, collector, reg)
	if err != nil {
		collector.RecordEvent("error", fmt.Sprintf("Failed to start web server: %v", err))
		log.Errorf("Web server unavailable: %v", err)
	}

	log.Infof("ua2f is running. Press Ctrl+C to stop")
	collector.RecordEvent("info", "ua2f is fully operational")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Infof("Received signal: %v, shutting down gracefully", sig)
	collector.RecordEvent("info", fmt.Sprintf("Shutdown initiated by signal: %v", sig))

	cancel()
	tablesMonitor.Stop()
	return gracefulShutdown(&cfg, pool, httpServer, collector)
}

func gracefulShutdown(cfg *config.Config, pool *nfq.Pool, httpServer *http.Server, collector *metrics.Collector) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	shutdownErrors := make(chan error, 3)

	if httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Infof("Shutting down HTTP server...")
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Errorf("HTTP server shutdown error: %v", err)
				shutdownErrors <- fmt.Errorf("HTTP shutdown: %w", err)
			} else {
				log.Infof("HTTP server stopped")
			}
		}()
	}

	log.Infof("Shutting down WebSocket connections...")
	ua2fhttp.Shutdown()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("Stopping netfilter queue pool...")

		stopDone := make(chan struct{})
		go func() {
			pool.Stop()
			close(stopDone)
		}()

		select {
		case <-stopDone:
			log.Infof("Netfilter queue pool stopped after %d packets", pool.Processed())
		case <-shutdownCtx.Done():
			log.Errorf("Netfilter queue pool stop timed out")
			shutdownErrors <- fmt.Errorf("NFQueue stop timeout")
		}
	}()

	if !cfg.System.Tables.SkipSetup {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Infof("Clearing iptables/nftables rules...")
			if err := tables.ClearRules(cfg); err != nil {
				log.Errorf("Failed to clear tables rules: %v", err)
				collector.RecordEvent("error", fmt.Sprintf("Failed to clear tables rules: %v", err))
				shutdownErrors <- fmt.Errorf("tables cleanup: %w", err)
			} else {
				log.Infof("Tables rules cleared")
			}
		}()
	}

	shutdownDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		close(shutdownErrors)

		var errs []error
		for err := range shutdownErrors {
			errs = append(errs, err)
		}

		if len(errs) > 0 {
			log.Errorf("Shutdown completed with %d errors", len(errs))
			for _, err := range errs {
				log.Errorf("  - %v", err)
			}
		} else {
			log.Infof("ua2f stopped successfully")
		}

	case <-shutdownCtx.Done():
		log.Errorf("Shutdown timeout reached, forcing exit")

		log.Flush()
		time.Sleep(100 * time.Millisecond)

		os.Exit(1)
	}

	log.CloseErrorFile()
	log.Flush()
	return nil
}

func initTimezone() {
	tzName := os.Getenv("TZ")
	if tzName == "" {
		tzName = "UTC"
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Failed to load timezone %s: %v, using UTC\n", tzName, err)
		loc = time.UTC
	}

	time.Local = loc
}

func initLogging(cfg *config.Config) error {
	logging := cfg.System.Logging

	w := io.MultiWriter(log.OrigStderr(), ua2fhttp.LogWriter())
	log.Init(w, logging.Level, logging.Instaflush)

	if logging.Syslog {
		if err := log.EnableSyslog("ua2f"); err != nil {
			log.Errorf("Failed to enable syslog: %v", err)
			return err
		}
		log.Infof("Syslog enabled")
	}

	if logging.ErrorFile != "" {
		if err := log.InitErrorFile(cfg.ErrorFile()); err != nil {
			log.Errorf("Failed to open error log file: %v", err)
		} else {
			log.Infof("Error logging to file: %s", logging.ErrorFile)
		}
	}

	log.Tracef("Logging initialized at level %s", logging.Level)
	return nil
}

func printConfigDefaults(cmd *cobra.Command) {
	var all []*pflag.Flag
	cmd.InheritedFlags().VisitAll(func(f *pflag.Flag) { all = append(all, f) })
	cmd.Flags().VisitAll(func(f *pflag.Flag) { all = append(all, f) })
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	log.Infof("Effective CLI flags:")
	line := ""
	for _, f := range all {
		if line == "" {
			line = fmt.Sprintf("--%s=%s", f.Name, f.Value.String())
		} else {
			line += " " + fmt.Sprintf("--%s=%s", f.Name, f.Value.String())
		}
	}
	log.Infof("  %s", line)
	log.Infof("Effective config: %s", cfg.LogString())
}
