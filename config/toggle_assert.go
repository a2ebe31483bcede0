//go:build assert_0 && !force_failure_1 && !force_failure_4 && !force_failure_5

package config

import "rculitmus/litmus"

const defaultVariant = litmus.AssertProbe
