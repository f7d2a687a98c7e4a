package logger

import (
	"io"
	"log/slog"
)

// Option adjusts how New builds a logger.
type Option func(*config)

// WithDebug lowers the level to Debug, which shows cache hits and misses.
func WithDebug(debug bool) Option {
	return func(c *config) {
		c.level = slog.LevelInfo
		if debug {
			c.level = slog.LevelDebug
		}
	}
}

// WithPretty renders records with charmbracelet/log for a terminal.
func WithPretty(pretty bool) Option {
	return func(c *config) { c.pretty = pretty }
}

// WithJSON writes one JSON object per record.
func WithJSON(json bool) Option {
	return func(c *config) { c.json = json }
}

// WithWriter sends output to w instead of os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writers = []io.Writer{w} }
}

// WithWriters duplicates output to every w.
func WithWriters(w ...io.Writer) Option {
	return func(c *config) { c.writers = w }
}

// WithSource adds the calling file and line to each record.
func WithSource(source bool) Option {
	return func(c *config) { c.source = source }
}
