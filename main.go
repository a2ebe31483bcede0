// ════════════════════════════════════════════════════════════════════════════════════════════════
// RCU NOCB Litmus Harness - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: RCU callback-offload litmus harness
// Component: Command line & run orchestration
//
// Description:
//   Runs the message-passing litmus scenario against an RCU engine and
//   reports whether the forbidden outcome (r_x=0, r_y=1) was observed.
//   A forbidden outcome or a failed assertion aborts the process.
//
// Architecture:
//   - Phase 0: Resolve configuration (build tags → JSON file → flags)
//   - Phase 1: Quiesce the runtime (GC, heap) for reproducible interleavings
//   - Phase 2: Execute N fresh scenarios, recording each in the ledger
//   - Phase 3: Summarize, check fingerprint stability, abort on failure
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"runtime"
	rtdebug "runtime/debug"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"v.io/x/lib/cmdline"

	"rculitmus/config"
	"rculitmus/debug"
	"rculitmus/ledger"
	"rculitmus/litmus"
	"rculitmus/report"
	"rculitmus/sched"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

var (
	configPath string
	runFlags   = config.Default()

	historyDB      string
	historyVariant string
)

// overrides copies an explicitly set run flag into the resolved config.
var overrides = map[string]func(*config.Config){
	"variant": func(c *config.Config) { c.Variant = runFlags.Variant },
	"engine":  func(c *config.Config) { c.Engine = runFlags.Engine },
	"faults":  func(c *config.Config) { c.Faults = runFlags.Faults },
	"runs":    func(c *config.Config) { c.Runs = runFlags.Runs },
	"settle":  func(c *config.Config) { c.Settle = runFlags.Settle },
	"bh":      func(c *config.Config) { c.EnableBH = runFlags.EnableBH },
	"nocb":    func(c *config.Config) { c.Nocb = runFlags.Nocb },
	"stride":  func(c *config.Config) { c.LeaderStride = runFlags.LeaderStride },
	"pin":     func(c *config.Config) { c.PinHost = runFlags.PinHost },
	"db":      func(c *config.Config) { c.DBPath = runFlags.DBPath },
	"json":    func(c *config.Config) { c.JSON = runFlags.JSON },
	"v":       func(c *config.Config) { c.Verbose = runFlags.Verbose },
}

var cmdRun = &cmdline.Command{
	Name:  "run",
	Short: "Run the message-passing litmus scenario",
	Long: `
Command run executes the litmus scenario one or more times. Each run builds a
fresh two-CPU topology, starts the grace-period and callback-offload workers,
and races a reader on CPU 1 against an updater on CPU 0.

The default variant is chosen at build time with the force_failure_1,
force_failure_4, force_failure_5 and assert_0 tags; a JSON file given with
-config and explicit flags override it, in that order.

The process aborts if any run observes r_x=0, r_y=1 or trips the probe.
`,
}

var cmdHistory = &cmdline.Command{
	Runner: cmdline.RunnerFunc(runHistory),
	Name:   "history",
	Short:  "Print the outcome histogram stored in a run ledger",
	Long: `
Command history reads the SQLite ledger written by "run -db" and prints how
often each outcome was observed per variant and engine.
`,
}

func init() {
	cmdRun.Runner = cmdline.RunnerFunc(runLitmus)

	f := &cmdRun.Flags
	f.StringVar(&configPath, "config", "", "JSON file overlaid on the build-time defaults.")
	f.StringVar(&runFlags.Variant, "variant", runFlags.Variant, "Scenario variant: baseline, mid-idle, mid-resched, no-trailing or assert-probe.")
	f.StringVar(&runFlags.Engine, "engine", runFlags.Engine, "RCU engine: tree or fake.")
	f.StringVar(&runFlags.Faults, "faults", runFlags.Faults, "Comma-separated engine faults: idle, yield, irq or none.")
	f.IntVar(&runFlags.Runs, "runs", runFlags.Runs, "Number of fresh scenario runs.")
	f.StringVar(&runFlags.Settle, "settle", runFlags.Settle, "Settle window the reader waits out around its checkpoints.")
	f.BoolVar(&runFlags.EnableBH, "bh", runFlags.EnableBH, "Also initialize the BH domain and start its coordinator.")
	f.StringVar(&runFlags.Nocb, "nocb", runFlags.Nocb, "Offloaded CPUs as a cpulist (\"0-1\", \"all\"); \"zero\" or \"zero+LIST\" also forces CPU 0.")
	f.IntVar(&runFlags.LeaderStride, "stride", runFlags.LeaderStride, "Offload leader stride; 0 or less picks sqrt(CPUs).")
	f.BoolVar(&runFlags.PinHost, "pin", runFlags.PinHost, "Pin each logical CPU's OS thread to a host core.")
	f.StringVar(&runFlags.DBPath, "db", runFlags.DBPath, "SQLite ledger that every run is appended to.")
	f.BoolVar(&runFlags.JSON, "json", runFlags.JSON, "Write a JSON summary to stdout.")
	f.BoolVar(&runFlags.Verbose, "v", runFlags.Verbose, "Log checkpoints and worker activity.")

	h := &cmdHistory.Flags
	h.StringVar(&historyDB, "db", "", "SQLite ledger to read.")
	h.StringVar(&historyVariant, "variant", "", "Only show this variant.")
}

func main() {
	cmdRoot := &cmdline.Command{
		Name:  "rculitmus",
		Short: "Litmus tests for RCU grace periods with offloaded callbacks",
		Long: `
Command rculitmus checks that an RCU engine never lets a grace period end
while a reader that started before it is still inside its critical section,
even when callbacks are offloaded to per-CPU worker threads.
`,
		Children: []*cmdline.Command{cmdRun, cmdHistory},
	}
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(cmdRoot)
}

// resolveConfig layers the JSON file and the flags set in parsed over the
// build-time defaults. parsed may be nil.
func resolveConfig(parsed *flag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath, cfg)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if parsed != nil {
		parsed.Visit(func(f *flag.Flag) {
			if apply, ok := overrides[f.Name]; ok {
				apply(&cfg)
			}
		})
	}
	return cfg, cfg.Validate()
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// RUN
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func runLitmus(env *cmdline.Env, args []string) error {
	if len(args) != 0 {
		return env.UsageErrorf("run: unexpected arguments %v", args)
	}

	// PHASE 0: Configuration
	cfg, err := resolveConfig(cmdRun.ParsedFlags)
	if err != nil {
		return env.UsageErrorf("%v", err)
	}
	if cfg.Verbose {
		debug.SetLevel(zerolog.DebugLevel)
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	debug.DropMessage("INIT", "variant "+cfg.Variant+", engine "+cfg.Engine+", faults "+cfg.Faults+
		", "+strconv.Itoa(cfg.Runs)+" runs on "+strconv.Itoa(sched.HostCPUs())+" host CPUs")

	var led *ledger.Ledger
	session := ledger.NewSession()
	if cfg.DBPath != "" {
		if led, err = ledger.Open(cfg.DBPath); err != nil {
			return err
		}
		defer led.Close()
		debug.DropMessage("LEDGER", cfg.DBPath+" session "+session)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PHASE 1: Runtime quiescence
	restore := quiesceRuntime()
	defer restore()

	// PHASE 2: Scenario runs
	results := make([]*litmus.Result, 0, cfg.Runs)
	errs := make([]error, 0, cfg.Runs)
	var fatal error
	for i := 0; i < cfg.Runs && fatal == nil; i++ {
		res, err := runOnce(ctx, opts)
		results = append(results, res)
		errs = append(errs, err)

		if res != nil {
			debug.DropMessage("RUN", strconv.Itoa(i)+": r_x="+strconv.Itoa(int(res.Rx))+
				" r_y="+strconv.Itoa(int(res.Ry))+" ("+res.Outcome.String()+") in "+res.Duration.String())
			if led != nil {
				if _, lerr := led.Record(session, res, err); lerr != nil {
					debug.DropError("LEDGER", lerr)
				}
			}
		}
		switch {
		case err == nil:
		case litmus.IsFatal(err):
			fatal = err
		default:
			debug.DropError("RUN", err)
		}
		if fatal == nil && ctx.Err() != nil {
			fatal = ctx.Err()
		}
	}

	// PHASE 3: Summary
	summary := report.Build(session, results, errs)
	if led != nil {
		summary.Stable = ledgerStable(led, session) && summary.Stable
	}
	if !summary.Stable {
		debug.DropMessage("UNSTABLE", strconv.Itoa(len(summary.Fingerprints))+" distinct interleavings across "+
			strconv.Itoa(len(summary.Runs))+" runs")
	}
	if cfg.JSON {
		if err := report.Encode(env.Stdout, summary); err != nil {
			debug.DropError("REPORT", err)
		}
	}

	switch {
	case fatal == nil && summary.Passed:
		debug.DropMessage("PASS", "no forbidden outcome observed")
		return nil
	case litmus.IsFatal(fatal):
		debug.DropError("ABORT "+litmus.KindOf(fatal).String(), fatal)
		if led != nil {
			led.Close()
		}
		abort()
	case fatal != nil:
		return fatal
	}
	return fmt.Errorf("%d of %d runs failed", failed(errs), len(errs))
}

// ledgerStable reports whether every run recorded for session shares one
// fingerprint, logging the per-fingerprint counts when they diverge.
func ledgerStable(led *ledger.Ledger, session string) bool {
	stable, err := led.Stable(session)
	if err != nil {
		debug.DropError("LEDGER", err)
		return true
	}
	if !stable {
		fps, err := led.Fingerprints(session)
		if err != nil {
			debug.DropError("LEDGER", err)
		}
		for fp, n := range fps {
			debug.DropMessage("UNSTABLE", fp+" x"+strconv.Itoa(n))
		}
	}
	if n, err := led.Count(); err == nil {
		debug.DropMessage("LEDGER", strconv.Itoa(n)+" runs recorded")
	}
	return stable
}

// runOnce executes one scenario on a fresh context and tears it down.
func runOnce(ctx context.Context, opts litmus.Options) (*litmus.Result, error) {
	s, err := litmus.New(opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Run(ctx)
}

func failed(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

// quiesceRuntime collects garbage and disables the collector for the
// duration of the runs. The returned func restores the previous setting.
func quiesceRuntime() func() {
	runtime.GC()
	runtime.GC()
	rtdebug.FreeOSMemory()
	prev := rtdebug.SetGCPercent(-1)
	return func() { rtdebug.SetGCPercent(prev) }
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HISTORY
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func runHistory(env *cmdline.Env, args []string) error {
	if historyDB == "" {
		return env.UsageErrorf("history: -db is required")
	}
	led, err := ledger.Open(historyDB)
	if err != nil {
		return err
	}
	defer led.Close()

	buckets, err := led.Histogram(historyVariant)
	if err != nil {
		return err
	}
	if len(buckets) == 0 {
		fmt.Fprintln(env.Stdout, "no runs recorded")
		return nil
	}
	fmt.Fprintf(env.Stdout, "%-14s %-6s %-8s %s\n", "VARIANT", "ENGINE", "OUTCOME", "COUNT")
	for _, b := range buckets {
		fmt.Fprintf(env.Stdout, "%-14s %-6s %-8s %d\n", b.Variant, b.Engine, b.Outcome, b.Count)
	}
	return nil
}
