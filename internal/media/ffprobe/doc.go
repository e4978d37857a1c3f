// Package ffprobe wraps the ffprobe binary for container inspection and
// exact frame counting.
package ffprobe
