package license

import (
	"fmt"
	"time"

	"licenseguard/pkg/discovery"
)

// InvalidationKind tags the reason a previously valid license became
// invalid.
type InvalidationKind int

const (
	// TimeExpired means the license passed its expiration, either by
	// the local clock or by the network time cross-check.
	TimeExpired InvalidationKind = iota

	// CannotRenewRemotely means a remote lease could not be renewed or
	// a duplicate use of the license was detected.
	CannotRenewRemotely
)

func (k InvalidationKind) String() string {
	switch k {
	case TimeExpired:
		return "time-expired"
	case CannotRenewRemotely:
		return "cannot-renew-remotely"
	default:
		return "unknown"
	}
}

// State is the engine's position in its validation state machine.
type State int

const (
	StateUnchecked State = iota
	StateVerifying
	StateValid
	StateInvalid
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateVerifying:
		return "verifying"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// DuplicatePolicy decides how a foreign announcement for the same
// license identity is treated.
type DuplicatePolicy int

const (
	// Deny treats any foreign announcement for the same license as a
	// conflict.
	Deny DuplicatePolicy = iota

	// AllowForSameUser tolerates foreign announcements as long as the
	// remote user name matches the local one.
	AllowForSameUser
)

func (p DuplicatePolicy) String() string {
	switch p {
	case Deny:
		return "deny"
	case AllowForSameUser:
		return "allow-same-user"
	default:
		return "unknown"
	}
}

// ParseDuplicatePolicy maps a policy name to its DuplicatePolicy.
func ParseDuplicatePolicy(name string) (DuplicatePolicy, error) {
	switch name {
	case "deny":
		return Deny, nil
	case "allow-same-user":
		return AllowForSameUser, nil
	default:
		return Deny, fmt.Errorf("license: unknown duplicate policy %q", name)
	}
}

// Events are queued while the engine mutex is held and delivered to the
// host callbacks after it is released, so a callback can safely call
// back into the engine.
type eventKind int

const (
	evInvalidated eventKind = iota
	evExpired
	evDuplicate
)

type pendingEvent struct {
	kind         eventKind
	invalidation InvalidationKind
	expiredAt    time.Time
	announcement discovery.Announcement
}
