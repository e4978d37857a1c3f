// Package project implements the coordinator's core model: projects split
// into scenes, live jobs derived from pending scenes, the registry that
// serializes structural mutations through a single-consumer action queue,
// upload validation, telemetry, and SQLite persistence.
package project
