// Package input delivers raw address lines to the engine, from a stream
// such as stdin or from a followed log file.
package input

import "context"

// Source yields one line at a time, without its line terminator.
type Source interface {
	// Next blocks until a line is available. It returns io.EOF once the
	// source is exhausted, or ctx.Err() if ctx is cancelled first. The
	// returned slice is only valid until the next call.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}
