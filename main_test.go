package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"v.io/x/lib/cmdline"

	"rculitmus/config"
	"rculitmus/ledger"
	"rculitmus/litmus"
	"rculitmus/topology"
)

// childArgsEnv makes the test binary run main with the given arguments
// instead of the tests, so exit status can be observed from outside.
const childArgsEnv = "RCULITMUS_CHILD_ARGS"

func TestMain(m *testing.M) {
	if args := os.Getenv(childArgsEnv); args != "" {
		os.Args = append([]string{"rculitmus"}, strings.Fields(args)...)
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func withConfigFile(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "litmus.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	configPath = path
	t.Cleanup(func() { configPath = "" })
}

func TestResolveConfigDefaults(t *testing.T) {
	configPath = ""
	cfg, err := resolveConfig(nil)
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestResolveConfigFlagsOverrideFile(t *testing.T) {
	withConfigFile(t, `{"engine":"fake","runs":4}`)

	saved := runFlags
	defer func() { runFlags = saved }()
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.IntVar(&runFlags.Runs, "runs", runFlags.Runs, "")
	fs.StringVar(&runFlags.Variant, "variant", runFlags.Variant, "")
	require.NoError(t, fs.Parse([]string{"-runs=2"}))

	cfg, err := resolveConfig(fs)
	require.NoError(t, err)
	require.Equal(t, "fake", cfg.Engine)
	require.Equal(t, 2, cfg.Runs)
	require.Equal(t, config.Default().Variant, cfg.Variant)
}

func TestRunPassesOnFakeBaseline(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	withConfigFile(t, `{"variant":"baseline","engine":"fake","runs":2,"settle":"2ms","db":"`+db+`","json":true}`)

	var out, errOut bytes.Buffer
	env := &cmdline.Env{Stdout: &out, Stderr: &errOut}
	require.NoError(t, runLitmus(env, nil))
	require.Contains(t, out.String(), `"passed":true`)

	led, err := ledger.Open(db)
	require.NoError(t, err)
	defer led.Close()
	n, err := led.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestLedgerStability(t *testing.T) {
	led, err := ledger.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer led.Close()

	session := ledger.NewSession()
	rec := func(fp string) {
		res := &litmus.Result{Variant: litmus.Baseline, Engine: "tree", Outcome: litmus.Outcome00, Fingerprint: fp}
		_, err := led.Record(session, res, nil)
		require.NoError(t, err)
	}
	rec("a")
	rec("a")
	require.True(t, ledgerStable(led, session))
	rec("b")
	require.False(t, ledgerStable(led, session))
}

func TestRunRejectsArguments(t *testing.T) {
	env := &cmdline.Env{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.Error(t, runLitmus(env, []string{"extra"}))
}

func TestOverridesCoverEveryRunFlag(t *testing.T) {
	cmdRun.Flags.VisitAll(func(f *flag.Flag) {
		if f.Name == "config" {
			return
		}
		_, ok := overrides[f.Name]
		require.True(t, ok, "flag %q has no override", f.Name)
	})
}

func TestNocbFlagDocumentsZeroForm(t *testing.T) {
	f := cmdRun.Flags.Lookup("nocb")
	require.NotNil(t, f)
	spec, err := topology.ParseNocbSpec(f.DefValue)
	require.NoError(t, err)
	require.Equal(t, f.DefValue, spec.String())
	require.Contains(t, f.Usage, "zero+LIST")
}

func TestHistoryPrintsBuckets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	led, err := ledger.Open(path)
	require.NoError(t, err)
	res := &litmus.Result{Variant: litmus.Baseline, Engine: "tree", Outcome: litmus.Outcome00, Fingerprint: "f"}
	_, err = led.Record(ledger.NewSession(), res, nil)
	require.NoError(t, err)
	require.NoError(t, led.Close())

	var out bytes.Buffer
	env := &cmdline.Env{Stdout: &out, Stderr: &out}
	historyDB, historyVariant = path, ""
	defer func() { historyDB = "" }()

	require.NoError(t, runHistory(env, nil))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, []string{"baseline", "tree", "0,0", "1"}, strings.Fields(lines[1]))

	out.Reset()
	historyVariant = "mid-idle"
	require.NoError(t, runHistory(env, nil))
	require.Equal(t, "no runs recorded\n", out.String())
}

func TestHistoryRequiresDB(t *testing.T) {
	historyDB = ""
	env := &cmdline.Env{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.Error(t, runHistory(env, nil))
}
