// Package logging constructs the slog loggers used across swarmenc and
// provides the console handler shared by both binaries.
package logging
