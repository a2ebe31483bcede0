// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: config.go - Runtime configuration for litmus runs
//
// Purpose:
//   - Layers a JSON file and command-line flags over compile-time defaults.
//   - Validates the result and turns it into litmus.Options.
//
// Notes:
//   - Build tags (force_failure_1, force_failure_4, force_failure_5,
//     assert_0, enable_rcu_bh) choose the default variant and BH
//     enablement; files and flags can still override them.
// ─────────────────────────────────────────────────────────────────────────────

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"rculitmus/constants"
	"rculitmus/litmus"
	"rculitmus/rcu"
	"rculitmus/topology"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the user-facing run configuration.
type Config struct {
	Variant      string `json:"variant"`
	Engine       string `json:"engine"`
	Faults       string `json:"faults"`
	Runs         int    `json:"runs"`
	Settle       string `json:"settle"`
	EnableBH     bool   `json:"enable_bh"`
	Nocb         string `json:"nocb"`
	LeaderStride int    `json:"leader_stride"`
	PinHost      bool   `json:"pin_host"`
	DBPath       string `json:"db"`
	JSON         bool   `json:"json"`
	Verbose      bool   `json:"verbose"`
}

// Default returns the compile-time configuration.
func Default() Config {
	return Config{
		Variant:      defaultVariant.String(),
		Engine:       string(rcu.KindTree),
		Faults:       rcu.FaultNone.String(),
		Runs:         constants.DefaultRuns,
		Settle:       constants.SettleWindow.String(),
		EnableBH:     defaultEnableBH,
		Nocb:         topology.NocbSpec{Zero: true}.String(),
		LeaderStride: constants.MinLeaderStride,
	}
}

// Load decodes the JSON file at path over base. Fields absent from the
// file keep base's values.
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := base
	if err := sonnet.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	_, err := c.Options()
	return err
}

// Options converts c into scenario options.
func (c Config) Options() (litmus.Options, error) {
	o := litmus.DefaultOptions()

	v, err := litmus.ParseVariant(c.Variant)
	if err != nil {
		return o, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	o.Variant = v

	switch rcu.Kind(c.Engine) {
	case rcu.KindTree, rcu.KindFake:
		o.Engine = rcu.Kind(c.Engine)
	default:
		return o, fmt.Errorf("%w: engine %q (want tree or fake)", ErrInvalid, c.Engine)
	}

	f, err := rcu.ParseFaults(c.Faults)
	if err != nil {
		return o, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if f != rcu.FaultNone && o.Engine != rcu.KindTree {
		return o, fmt.Errorf("%w: faults need the tree engine", ErrInvalid)
	}
	o.Faults = f

	if c.Runs < 1 {
		return o, fmt.Errorf("%w: runs %d < 1", ErrInvalid, c.Runs)
	}

	d, err := time.ParseDuration(c.Settle)
	if err != nil || d <= 0 {
		return o, fmt.Errorf("%w: settle %q", ErrInvalid, c.Settle)
	}
	o.Settle = d

	spec, err := topology.ParseNocbSpec(c.Nocb)
	if err != nil {
		return o, fmt.Errorf("%w: nocb: %v", ErrInvalid, err)
	}
	if _, err := spec.Resolve(constants.NumCPUs); err != nil {
		return o, fmt.Errorf("%w: nocb: %v", ErrInvalid, err)
	}
	o.Nocb = spec

	if c.LeaderStride > constants.NumCPUs {
		return o, fmt.Errorf("%w: leader stride %d > %d cpus", ErrInvalid, c.LeaderStride, constants.NumCPUs)
	}
	o.LeaderStride = c.LeaderStride
	o.EnableBH = c.EnableBH
	o.PinHost = c.PinHost
	return o, nil
}
