package license

import (
	"fmt"
	"time"
)

// Kind identifies how a license document is validated.
type Kind int

const (
	KindUnknown Kind = iota
	KindPerpetual
	KindTimeBound
	KindTrial
	KindSubscription
	KindProfessional
	KindManagedServiceProvider
	KindArchitect
	KindBusiness
	KindEnterprise
	KindEducation
	KindFloating
)

var kindNames = map[Kind]string{
	KindPerpetual:              "Perpetual",
	KindTimeBound:              "TimeBound",
	KindTrial:                  "Trial",
	KindSubscription:           "Subscription",
	KindProfessional:           "Professional",
	KindManagedServiceProvider: "ManagedServiceProvider",
	KindArchitect:              "Architect",
	KindBusiness:               "Business",
	KindEnterprise:             "Enterprise",
	KindEducation:              "Education",
	KindFloating:               "Floating",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// subscriptionKinds lists every kind validated through the subscription
// lease path.
var subscriptionKinds = map[Kind]bool{
	KindSubscription:           true,
	KindProfessional:           true,
	KindManagedServiceProvider: true,
	KindArchitect:              true,
	KindBusiness:               true,
	KindEnterprise:             true,
	KindEducation:              true,
	KindTrial:                  true,
}

// timeCheckExemptKinds lists the kinds excluded from the network time
// cross-check. Organizational network policy commonly blocks the time
// transport for these, so the check is pure noise there. The set is
// intentionally not the same as subscriptionKinds.
var timeCheckExemptKinds = map[Kind]bool{
	KindBusiness:   true,
	KindArchitect:  true,
	KindEducation:  true,
	KindEnterprise: true,
	KindTrial:      true,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a license document type attribute to its Kind.
func ParseKind(name string) (Kind, error) {
	if k, ok := kindsByName[name]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("license: unknown license type %q", name)
}

// expirationLayout is the fixed fractional-seconds timestamp format used
// by the license document. Parsing is locale-independent; anything else
// is rejected.
const expirationLayout = "2006-01-02T15:04:05.0000000"

// Record is the structured form of a verified license document. It is
// produced only by Verify, is never partially mutated, and is replaced
// wholesale on each successful re-validation.
type Record struct {
	UserID     string
	Name       string
	Kind       Kind
	Expiration time.Time

	// Attributes holds every extra root attribute of the document,
	// excluding the reserved id/expiration/type fields.
	Attributes map[string]string

	// ServerPublicKey is the PEM-encoded public key of the floating
	// license server, embedded in floating licenses only.
	ServerPublicKey string
}

// Expired reports whether the record's expiration lies at or before now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.Expiration)
}

func copyAttributes(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
