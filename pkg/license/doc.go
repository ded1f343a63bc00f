// Package license implements the license validation engine: given a
// signed license document and a public key, it determines whether the
// software is entitled to run, and keeps that determination correct
// over time as leases expire, clocks drift, and duplicate installations
// appear on the network.
//
// # Architecture Overview
//
// The engine is built from a small set of components:
//
//	- Verify: signature verification and parsing of the signed document
//	- Validator: the validation state machine and lease timer
//	- Subscription protocol: best-effort remote license refresh
//	- Floating protocol: time-boxed leases from a license server
//	- Time cross-check: network time against the local clock
//	- Duplicate-use detection: discovery announcements on the LAN
//
// # Validation Flow
//
// A validation pass follows these steps:
//
//	1. Verify the document signature against the root public key
//	2. Parse the mandatory fields (id, expiration, type, name)
//	3. Dispatch by license kind (local, subscription, floating)
//	4. Cross-check network time for non-exempt kinds
//	5. Arm the recurring lease timer for the next pass
//
// Every failure collapses to a negative result: verification errors,
// malformed documents, and missing fields all fail closed.
//
// # Usage
//
//	v, err := license.New(license.Config{
//	    LicenseText:   text,
//	    PublicKey:     key,
//	    OnInvalidated: func(kind license.InvalidationKind) { ... },
//	})
//	if err != nil {
//	    return err
//	}
//	if err := v.AssertValid(ctx); err != nil {
//	    return err
//	}
//
// AssertValid is the only synchronous entry point. Everything after it
// is background work: the lease timer re-validates before expiration
// boundaries, and failures reach the host through the configured
// callbacks, never by surfacing into unrelated call stacks.
//
// # Concurrency
//
// The Validator is a logically serialized actor. The lease timer, the
// time-check callback, and discovery announcements may all fire
// concurrently with a foreground call; one mutex protects all engine
// state, and host callbacks are always invoked with the mutex released.
package license
