//go:build force_failure_1

package config

import "rculitmus/litmus"

// Yield plus interrupt inside the reader, no trailing pair.
const defaultVariant = litmus.MidResched
