package license

import (
	"context"
	"log/slog"
	"time"
)

// timeCrossCheck queries the time oracle and, when network time is past
// the stored expiration, raises TimeExpired even though the synchronous
// check already returned valid. This closes the loophole of advancing
// or freezing the local clock to stretch a time-bound license.
//
// Fire-and-forget: an unreachable time service is inconclusive and must
// never itself invalidate a license.
func (v *Validator) timeCrossCheck(expiration time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.OperationTimeout)
	defer cancel()

	networkNow, err := v.oracle.QueryTime(ctx, v.cfg.TimeSources)
	if err != nil {
		v.countTimeCheckFailure(ctx)
		v.logDebug(ctx, "time_check", "no time source reachable; check inconclusive",
			slog.String("error", err.Error()),
		)
		return
	}
	if !networkNow.After(expiration) {
		return
	}

	v.mu.Lock()
	v.logWarn(ctx, "time_check", "network time is past expiration; local clock is not trustworthy",
		slog.Time("network_time", networkNow),
		slog.Time("expiration", expiration),
		slog.String("code", CodeExpired),
	)
	v.state = StateInvalid
	v.disableFutureChecksLocked()
	v.state = StateDisabled
	v.raiseInvalidationLocked(TimeExpired)
	v.raiseExpiredLocked(expiration)
	events := v.drainEventsLocked()
	v.mu.Unlock()

	v.deliver(events)
}
