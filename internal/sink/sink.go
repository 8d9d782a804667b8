// Package sink applies ban decisions to the host firewall or a shared store.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/developingchet/leroy/internal/address"
)

// ErrTargetMissing is returned by VerifyTargets when a configured set or
// table does not exist.
var ErrTargetMissing = errors.New("ban target missing")

// Ban is a request to block Key for Duration.
type Ban struct {
	Key        address.Key
	Duration   time.Duration
	Recidivism uint32
}

// Family is the address family of the banned key.
func (b Ban) Family() address.Family { return b.Key.Family() }

// Sink is the enforcement backend the engine hands bans to.
type Sink interface {
	// VerifyTargets checks that every configured target exists. It runs
	// once at startup; a failure is fatal.
	VerifyTargets(ctx context.Context) error

	// ApplyBan installs one ban. Errors are reported per ban and do not
	// stop processing.
	ApplyBan(ctx context.Context, b Ban) error

	// Close flushes pending work and releases resources.
	Close() error
}
