//go:build force_failure_4 && !force_failure_1

package config

import "rculitmus/litmus"

// Idle pair inside the reader, no trailing pair.
const defaultVariant = litmus.MidIdle
