package license

import "errors"

// Verification failures. These collapse to a negative validation result
// at the engine level but stay distinguishable for logging and tests.
var (
	ErrMalformedDocument = errors.New("license: malformed license document")
	ErrMissingSignature  = errors.New("license: license document has no signature")
	ErrBadSignature      = errors.New("license: license signature does not verify")
	ErrMissingField      = errors.New("license: license document is missing a mandatory field")
)

// Validation and configuration failures surfaced by the engine.
var (
	// ErrLicenseNotGranted is returned by AssertValid when the license
	// could not be validated for any non-fatal reason.
	ErrLicenseNotGranted = errors.New("license: license could not be validated")

	// ErrFloatingLicenseUnavailable means the floating license server
	// could not issue a lease right now. This is a service condition,
	// not a statement about the license itself.
	ErrFloatingLicenseUnavailable = errors.New("license: floating license currently unavailable")

	// ErrNoFloatingEndpoint is a fatal configuration error: a floating
	// license was presented but no license server can service it.
	ErrNoFloatingEndpoint = errors.New("license: floating license presented but no license server endpoint configured")

	// ErrNoInvalidationObserver is a fatal configuration error: without
	// an invalidation observer a background license failure would be
	// undetectable.
	ErrNoInvalidationObserver = errors.New("license: no invalidation observer registered")

	// ErrNoPublicKey is returned by New when no root public key was
	// supplied.
	ErrNoPublicKey = errors.New("license: root public key is required")
)

// Error codes attached to structured log entries.
const (
	CodeExpired            = "LICENSE_EXPIRED"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeCannotRenew        = "CANNOT_RENEW_REMOTELY"
	CodeDuplicateUse       = "DUPLICATE_USE"
	CodeFloatingDisabled   = "FLOATING_DISABLED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
