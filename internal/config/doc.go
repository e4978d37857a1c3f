// Package config loads, validates, and normalizes the TOML configuration
// shared by the coordinator daemon and the worker CLI.
package config
