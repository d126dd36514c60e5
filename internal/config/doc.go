// Package config handles configuration loading for hookstate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. Every field has a built-in default; a missing config file is
// not an error, because hook processes must start cold on any machine.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HOOKSTATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/hookstate/hookstate.yaml
//  3. ~/.config/hookstate/hookstate.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${XDG_DATA_HOME}/hookstate/state.db"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  ttl: "2h"
//	  warn_ttl: "10m"
//	lock:
//	  backoff_base: "2ms"
//	  backoff_cap: "40ms"
//	sanity:
//	  max_duration: "10m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Failure Thresholds
//
// Escalation thresholds per tracked failure category:
//
//	failures:
//	  thresholds:
//	    debug: 3
//	    test: 3
//	  ring_size: 5
//
// Categories not listed use the built-in default threshold.
package config
