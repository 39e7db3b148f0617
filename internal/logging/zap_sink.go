// Package logging adapts the congestion controller's structured-event
// hook to zap, the logger this module's lineage wires everywhere it
// logs.
package logging

import "go.uber.org/zap"

// ZapSink implements congestion.EventSink on top of a *zap.Logger. It
// recovers from a panicking downstream core so a broken log pipeline
// never propagates into the congestion controller's call stack.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink wraps an existing logger. A nil logger is replaced with a
// no-op one so ZapSink is always safe to construct.
func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log}
}

// Event implements congestion.EventSink.
func (z *ZapSink) Event(name string, fields map[string]any) {
	defer func() {
		_ = recover()
	}()
	fs := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		fs = append(fs, zap.Any(k, v))
	}
	z.log.Debug(name, fs...)
}
