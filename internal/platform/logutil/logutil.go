// Package logutil holds logger helpers shared by constructors.
package logutil

import "log/slog"

var discard = slog.New(slog.DiscardHandler)

// Noop returns a logger that drops every record.
func Noop() *slog.Logger { return discard }

// NoopIfNil returns l, or the discard logger when l is nil.
func NoopIfNil(l *slog.Logger) *slog.Logger {
	if l == nil {
		return discard
	}
	return l
}
