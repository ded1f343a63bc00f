package license

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/beevik/etree"

	"licenseguard/pkg/lease"
)

// validateSubscription implements the subscription lease protocol.
// Caller holds the mutex.
//
// While a subscription validation is already in progress on the current
// call stack, any nested re-entry short-circuits to a pure local time
// comparison. The remote lease attempt re-enters the full evaluation,
// so without the guard the recursion would be unbounded.
func (v *Validator) validateSubscription(ctx context.Context) bool {
	if v.inSubscriptionCheck {
		return time.Now().Before(v.record.Expiration)
	}
	v.inSubscriptionCheck = true
	defer func() { v.inSubscriptionCheck = false }()

	// Remote renewal is only useful near expiration; beyond the window
	// the local check is the whole answer.
	if time.Until(v.record.Expiration) > v.cfg.NearExpirationWindow {
		return time.Now().Before(v.record.Expiration)
	}

	v.tryLeaseSubscription(ctx)

	// The remote step never decides validity. Re-run the full
	// evaluation so a replaced license text is verified from scratch;
	// the guard reduces the nested subscription step to the local time
	// comparison.
	ok, err := v.evaluate(ctx)
	if err != nil {
		v.logError(ctx, "subscription_lease", "re-evaluation after lease failed",
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

// tryLeaseSubscription fetches an updated license from the subscription
// endpoint and, when the response is a usable document, replaces the
// locally held license text. Renewal is best-effort: every transport
// failure is logged and swallowed.
func (v *Validator) tryLeaseSubscription(ctx context.Context) {
	if v.subClient == nil {
		v.logDebug(ctx, "subscription_lease", "no subscription endpoint configured; skipping remote renewal")
		return
	}

	updated, err := v.subClient.LeaseLicense(ctx, v.licenseText, v.cfg.SubscriptionPasscode)
	if err != nil {
		v.countLeaseRenewalFailure(ctx)
		v.logWarn(ctx, "subscription_lease", "remote renewal failed; keeping current license",
			slog.String("code", CodeServiceUnavailable),
			slog.String("error", err.Error()),
		)
		return
	}

	updated = strings.TrimSpace(updated)
	if updated == "" || updated == lease.NoUpdate {
		v.logDebug(ctx, "subscription_lease", "no updated license available")
		return
	}
	if !wellFormedXML(updated) {
		v.countLeaseRenewalFailure(ctx)
		v.logWarn(ctx, "subscription_lease", "discarding malformed renewal response")
		return
	}

	v.licenseText = updated
	v.countLeaseRenewal(ctx)
	v.logInfo(ctx, "subscription_lease", "license text refreshed from subscription endpoint")
}

func wellFormedXML(text string) bool {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return false
	}
	return doc.Root() != nil
}
