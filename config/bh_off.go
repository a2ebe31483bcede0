//go:build !enable_rcu_bh

package config

const defaultEnableBH = false
