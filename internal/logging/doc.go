// Package logging provides file-based structured logging with rotation
// for blogsearch. Logs are written as JSON lines to ~/.blogsearch/logs/
// and, by default, mirrored to stderr.
package logging
