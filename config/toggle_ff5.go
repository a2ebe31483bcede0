//go:build force_failure_5 && !force_failure_1 && !force_failure_4

package config

import "rculitmus/litmus"

const defaultVariant = litmus.NoTrailing
