// Package server implements the coordinator's HTTP API consumed by worker
// pools and the operator CLI.
package server
