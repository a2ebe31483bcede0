package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rculitmus/litmus"
	"rculitmus/rcu"
	"rculitmus/topology"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	o, err := c.Options()
	require.NoError(t, err)
	require.Equal(t, defaultVariant, o.Variant)
	require.Equal(t, rcu.KindTree, o.Engine)
	require.Equal(t, rcu.FaultNone, o.Faults)
	require.Equal(t, topology.NocbSpec{Zero: true}, o.Nocb)
	require.Equal(t, 1, o.LeaderStride)
	require.Equal(t, defaultEnableBH, o.EnableBH)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "litmus.json")
	body := `{"variant":"mid-idle","faults":"idle","runs":5,"settle":"7ms","nocb":"0-1","db":"runs.db"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	c, err := Load(path, Default())
	require.NoError(t, err)
	require.Equal(t, "mid-idle", c.Variant)
	require.Equal(t, 5, c.Runs)
	require.Equal(t, "runs.db", c.DBPath)
	require.Equal(t, "tree", c.Engine, "absent fields keep the base value")

	o, err := c.Options()
	require.NoError(t, err)
	require.Equal(t, litmus.MidIdle, o.Variant)
	require.Equal(t, rcu.FaultIdleInReader, o.Faults)
	require.Equal(t, 7*time.Millisecond, o.Settle)
	require.Equal(t, topology.NocbSpec{List: "0-1"}, o.Nocb)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), Default())
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"runs":`), 0o644))
	base := Default()
	got, err := Load(path, base)
	require.Error(t, err)
	require.Equal(t, base, got)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"variant":      func(c *Config) { c.Variant = "force-failure-2" },
		"engine":       func(c *Config) { c.Engine = "srcu" },
		"faults":       func(c *Config) { c.Faults = "nmi" },
		"fake faults":  func(c *Config) { c.Engine = "fake"; c.Faults = "irq" },
		"runs":         func(c *Config) { c.Runs = 0 },
		"settle":       func(c *Config) { c.Settle = "soon" },
		"settle zero":  func(c *Config) { c.Settle = "0s" },
		"nocb syntax":  func(c *Config) { c.Nocb = "0-" },
		"nocb range":   func(c *Config) { c.Nocb = "3" },
		"stride range": func(c *Config) { c.LeaderStride = 3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			require.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}
