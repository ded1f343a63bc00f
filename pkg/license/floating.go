package license

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// validateFloating implements the floating lease protocol. Caller holds
// the mutex.
//
// A floating license is only ever as valid as its current lease: the
// engine requests a fresh time-boxed grant, verifies it with the
// license-server public key embedded in the original license, and
// schedules the next renewal shortly before the grant runs out.
func (v *Validator) validateFloating(ctx context.Context) (bool, error) {
	rec := v.record

	if v.cfg.DisableFloatingLicenses {
		v.logWarn(ctx, "floating_lease", "floating licenses are administratively disabled",
			slog.String("code", CodeFloatingDisabled),
		)
		return false, nil
	}
	if v.floatClient == nil {
		// A floating license was presented but no server can service
		// it. That is a configuration fault, not a soft failure.
		return false, ErrNoFloatingEndpoint
	}

	if rec.ServerPublicKey == "" {
		v.logWarn(ctx, "floating_lease", "floating license has no embedded license-server public key")
		return false, nil
	}
	serverKey, err := ParsePublicKey(rec.ServerPublicKey)
	if err != nil {
		v.logWarn(ctx, "floating_lease", "embedded license-server public key is unusable",
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	grantText, err := v.floatClient.LeaseLicense(ctx, v.machineName, v.userName, v.senderID)
	if err != nil {
		v.lastDenial = ErrFloatingLicenseUnavailable
		v.countLeaseRenewalFailure(ctx)
		v.logWarn(ctx, "floating_lease", "license server unreachable",
			slog.String("code", CodeServiceUnavailable),
			slog.String("error", err.Error()),
		)
		return false, nil
	}
	if strings.TrimSpace(grantText) == "" {
		v.lastDenial = ErrFloatingLicenseUnavailable
		v.logWarn(ctx, "floating_lease", "license server declined to issue a lease",
			slog.String("code", CodeServiceUnavailable),
		)
		return false, nil
	}

	grant, err := Verify(grantText, serverKey)
	if err != nil {
		v.lastDenial = ErrFloatingLicenseUnavailable
		v.logWarn(ctx, "floating_lease", "issued lease did not verify",
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	now := time.Now()
	if grant.Expired(now) {
		v.logWarn(ctx, "floating_lease", "issued lease is already expired",
			slog.Time("grant_expiration", grant.Expiration),
		)
		return false, nil
	}

	// Renew before the grant lapses, clamped to non-negative.
	next := grant.Expiration.Sub(now) - v.cfg.FloatingRenewalLead
	if next < 0 {
		next = 0
	}
	v.pendingRenewal = &next

	v.countLeaseRenewal(ctx)
	v.logInfo(ctx, "floating_lease", "floating lease granted",
		slog.Time("grant_expiration", grant.Expiration),
		slog.Duration("next_renewal", next),
	)
	return true, nil
}
