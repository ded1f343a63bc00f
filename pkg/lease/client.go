// Package lease implements the remote lease-renewal clients used by the
// validation engine: one for subscription licenses and one for floating
// licenses. Both default implementations speak JSON over HTTP and
// acquire their transport channel per call, releasing it on every exit
// path with graceful-close-then-abort semantics.
package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NoUpdate is the sentinel a subscription endpoint returns when the
// currently held license is already the newest one it can issue.
const NoUpdate = "no-update"

// Defaults for the HTTP clients.
const (
	DefaultTimeout    = 15 * time.Second
	DefaultCloseGrace = 2 * time.Second
)

// SubscriptionClient exchanges the current license text for a possibly
// updated one issued by a subscription-licensing service.
type SubscriptionClient interface {
	// LeaseLicense returns the updated signed license text, the
	// NoUpdate sentinel, or an empty string.
	LeaseLicense(ctx context.Context, currentLicense, passcode string) (string, error)
}

// FloatingClient requests a freshly issued, time-boxed license from a
// floating-license server.
type FloatingClient interface {
	// LeaseLicense returns the signed lease document, or an empty
	// string when the server declined to issue one.
	LeaseLicense(ctx context.Context, machineName, userName string, clientID uuid.UUID) (string, error)
}
