//go:build !force_failure_1 && !force_failure_4 && !force_failure_5 && !assert_0

package config

import "rculitmus/litmus"

const defaultVariant = litmus.Baseline
