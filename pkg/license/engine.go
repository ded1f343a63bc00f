package license

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"sync"
	"time"

	"github.com/google/uuid"

	"licenseguard/pkg/discovery"
	"licenseguard/pkg/lease"
	"licenseguard/pkg/timesource"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultLeaseTimeout         = 5 * time.Minute
	DefaultNearExpirationWindow = 10 * time.Minute
	DefaultFloatingRenewalLead  = 5 * time.Minute
	DefaultOperationTimeout     = 30 * time.Second
)

// Config configures a Validator. OnInvalidated is mandatory: a
// background invalidation with nobody listening would be an
// undetectable license failure, so New refuses to construct an engine
// without it.
type Config struct {
	// LicenseText is the signed license document to validate.
	LicenseText string

	// PublicKey is the root public key the document must verify
	// against.
	PublicKey *rsa.PublicKey

	// SubscriptionEndpoint, if set and SubscriptionClient is nil, is
	// used to build the default HTTP subscription lease client.
	SubscriptionEndpoint string

	// SubscriptionPasscode is forwarded opaquely on subscription lease
	// calls.
	SubscriptionPasscode string

	// FloatingEndpoint, if set and FloatingClient is nil, is used to
	// build the default HTTP floating lease client.
	FloatingEndpoint string

	// DisableFloatingLicenses makes every floating license fail
	// closed, independent of server reachability.
	DisableFloatingLicenses bool

	// DisableTimeChecks turns off the network time cross-check.
	DisableTimeChecks bool

	// LeaseTimeout is the recurring re-validation interval.
	LeaseTimeout time.Duration

	// NearExpirationWindow bounds subscription renewal traffic: the
	// remote step only runs once the expiration is this close.
	NearExpirationWindow time.Duration

	// FloatingRenewalLead is how long before a floating grant expires
	// the next lease renewal fires.
	FloatingRenewalLead time.Duration

	// OperationTimeout bounds each background validation pass and time
	// oracle query, so a hung remote call cannot block the next tick
	// indefinitely.
	OperationTimeout time.Duration

	// TimeSources overrides the time oracle pool.
	TimeSources []string

	// DuplicatePolicy decides how foreign announcements for the same
	// license identity are treated.
	DuplicatePolicy DuplicatePolicy

	// MachineName and UserName identify this installation. They
	// default to the hostname and the current OS user.
	MachineName string
	UserName    string

	// Collaborators. Nil clients are constructed from the endpoints
	// above; a nil Discovery disables duplicate-use detection; a nil
	// TimeOracle falls back to the NTP oracle.
	SubscriptionClient lease.SubscriptionClient
	FloatingClient     lease.FloatingClient
	Discovery          discovery.Transport
	TimeOracle         timesource.Oracle

	// OnInvalidated receives every invalidation signal. Mandatory.
	OnInvalidated func(InvalidationKind)

	// OnExpired receives the expiration timestamp when a license
	// expires.
	OnExpired func(time.Time)

	// OnDuplicateUse receives the remote identity when the same
	// license is detected on another machine.
	OnDuplicateUse func(discovery.Announcement)

	Logger  *slog.Logger
	Metrics *Metrics
}

// Validator is the validation engine. It decides license validity,
// drives lease renewal on a recurring schedule, and reacts to discovery
// and time-check signals. All state is serialized behind one mutex;
// operations run at a seconds-to-days cadence, so correctness wins over
// throughput.
type Validator struct {
	cfg     Config
	log     *slog.Logger
	metrics *Metrics

	subClient   lease.SubscriptionClient
	floatClient lease.FloatingClient
	disc        discovery.Transport
	oracle      timesource.Oracle

	senderID    uuid.UUID
	machineName string
	userName    string

	mu          sync.Mutex
	state       State
	licenseText string
	record      *Record
	attributes  map[string]string

	futureChecksDisabled     bool
	invalidatedWhileDisabled bool
	inSubscriptionCheck      bool
	lastDenial               error
	pendingRenewal           *time.Duration
	timer                    *time.Timer
	watching                 bool
	pending                  []pendingEvent

	watchStop chan struct{}
	stopOnce  sync.Once
}

// New builds a Validator. It fails fast on fatal configuration errors:
// a missing public key or a missing invalidation observer.
func New(cfg Config) (*Validator, error) {
	if cfg.OnInvalidated == nil {
		return nil, ErrNoInvalidationObserver
	}
	if cfg.PublicKey == nil {
		return nil, ErrNoPublicKey
	}

	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = DefaultLeaseTimeout
	}
	if cfg.NearExpirationWindow <= 0 {
		cfg.NearExpirationWindow = DefaultNearExpirationWindow
	}
	if cfg.FloatingRenewalLead <= 0 {
		cfg.FloatingRenewalLead = DefaultFloatingRenewalLead
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v := &Validator{
		cfg:         cfg,
		log:         logger.With(slog.String("component", "license_validator")),
		metrics:     cfg.Metrics,
		subClient:   cfg.SubscriptionClient,
		floatClient: cfg.FloatingClient,
		disc:        cfg.Discovery,
		oracle:      cfg.TimeOracle,
		senderID:    uuid.New(),
		machineName: cfg.MachineName,
		userName:    cfg.UserName,
		state:       StateUnchecked,
		licenseText: cfg.LicenseText,
		attributes:  make(map[string]string),
		watchStop:   make(chan struct{}),
	}

	if v.subClient == nil && cfg.SubscriptionEndpoint != "" {
		v.subClient = lease.NewSubscriptionClient(cfg.SubscriptionEndpoint)
	}
	if v.floatClient == nil && cfg.FloatingEndpoint != "" {
		v.floatClient = lease.NewFloatingClient(cfg.FloatingEndpoint)
	}
	if v.oracle == nil && !cfg.DisableTimeChecks {
		v.oracle = timesource.NewNTP()
	}

	if v.machineName == "" {
		if host, err := os.Hostname(); err == nil {
			v.machineName = host
		} else {
			v.machineName = "unknown"
		}
	}
	if v.userName == "" {
		if u, err := user.Current(); err == nil {
			v.userName = u.Username
		} else {
			v.userName = "unknown"
		}
	}

	return v, nil
}

// AssertValid is the sole synchronous entry point. It clears previously
// accumulated attributes, attempts one full validation, and on success
// registers the current identity with the discovery transport and arms
// the recurring lease timer. On failure it returns a single clear
// error; all subsequent invalidation is delivered through callbacks.
func (v *Validator) AssertValid(ctx context.Context) error {
	v.mu.Lock()
	v.attributes = make(map[string]string)

	ok, fatal := v.runValidation(ctx)
	var denial error
	if !ok && fatal == nil {
		denial = v.lastDenial
		if denial == nil {
			denial = ErrLicenseNotGranted
		}
	}
	if ok {
		v.startWatchingLocked()
		v.announceLocked(ctx)
	}
	events := v.drainEventsLocked()
	v.mu.Unlock()

	v.deliver(events)

	if fatal != nil {
		return fatal
	}
	return denial
}

// runValidation performs one full validation pass: evaluate, settle the
// outcome, schedule follow-up work.
// Caller holds the mutex. The returned error is reserved for fatal
// configuration failures; everything else collapses into the boolean.
func (v *Validator) runValidation(ctx context.Context) (bool, error) {
	v.lastDenial = nil
	v.state = StateVerifying
	v.countValidationAttempt(ctx)

	ok, err := v.evaluate(ctx)
	if err != nil {
		v.state = StateInvalid
		v.logError(ctx, "license_validation", "validation aborted by configuration error",
			slog.String("error", err.Error()),
		)
		return false, err
	}

	if !ok {
		v.state = StateInvalid
		kind := TimeExpired
		code := CodeExpired
		if v.record != nil && v.record.Kind == KindFloating {
			kind = CannotRenewRemotely
			code = CodeCannotRenew
		}

		v.disableFutureChecksLocked()
		v.state = StateDisabled
		v.raiseInvalidationLocked(kind)
		if kind == TimeExpired && v.record != nil {
			v.raiseExpiredLocked(v.record.Expiration)
		}

		v.countValidationFailure(ctx)
		v.logWarn(ctx, "license_validation", "license is not valid",
			slog.String("invalidation", kind.String()),
			slog.String("code", code),
		)
		return false, nil
	}

	v.state = StateValid
	rec := v.record

	if !v.cfg.DisableTimeChecks && !timeCheckExemptKinds[rec.Kind] && v.oracle != nil {
		go v.timeCrossCheck(rec.Expiration)
	}

	next := v.cfg.LeaseTimeout
	if v.pendingRenewal != nil {
		next = *v.pendingRenewal
		v.pendingRenewal = nil
	}
	v.armTimerLocked(next)

	v.countValidationSuccess(ctx)
	v.logInfo(ctx, "license_validation", "license validated",
		slog.String("license_id", maskUserID(rec.UserID)),
		slog.String("kind", rec.Kind.String()),
		slog.Time("expiration", rec.Expiration),
		slog.Duration("next_check", next),
	)
	return true, nil
}

// evaluate verifies and parses the stored license text, then dispatches
// by kind. Caller holds the mutex.
func (v *Validator) evaluate(ctx context.Context) (bool, error) {
	rec, err := Verify(v.licenseText, v.cfg.PublicKey)
	if err != nil {
		v.logDebug(ctx, "license_verification", "signed document rejected",
			slog.String("code", CodeInvalidSignature),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	v.record = rec
	v.attributes = copyAttributes(rec.Attributes)

	switch {
	case rec.Kind == KindFloating:
		return v.validateFloating(ctx)
	case subscriptionKinds[rec.Kind]:
		return v.validateSubscription(ctx), nil
	default:
		return time.Now().Before(rec.Expiration), nil
	}
}

// onLeaseTimer is the recurring background check. It re-announces
// presence as a cheap heartbeat and re-validates.
func (v *Validator) onLeaseTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.OperationTimeout)
	defer cancel()

	v.mu.Lock()
	if v.futureChecksDisabled {
		v.mu.Unlock()
		return
	}
	v.announceLocked(ctx)
	_, err := v.runValidation(ctx)
	events := v.drainEventsLocked()
	v.mu.Unlock()

	v.deliver(events)

	if err != nil {
		// Configuration errors cannot appear here: the timer only
		// exists after a successful foreground validation and the
		// configuration is immutable. Refuse to swallow it.
		panic(fmt.Sprintf("license: unreportable validation failure: %v", err))
	}
}

// armTimerLocked schedules the next background check. The engine holds
// at most one outstanding timer; re-arming supersedes the previous
// deadline. A disabled engine never re-arms.
func (v *Validator) armTimerLocked(d time.Duration) {
	if v.futureChecksDisabled {
		return
	}
	if d < 0 {
		d = 0
	}
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(d, v.onLeaseTimer)
}

// DisableFutureChecks permanently stops all background work. It is
// idempotent, releases the timer exactly once, and no tick fires after
// it returns. The flag can never be cleared.
func (v *Validator) DisableFutureChecks() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disableFutureChecksLocked()
}

func (v *Validator) disableFutureChecksLocked() {
	if v.futureChecksDisabled {
		return
	}
	v.futureChecksDisabled = true
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

// Close disables future checks and stops listening for announcements.
// It does not close the discovery transport; the host owns it.
func (v *Validator) Close() error {
	v.DisableFutureChecks()
	v.stopOnce.Do(func() { close(v.watchStop) })
	return nil
}

// Event plumbing. Events are raised while the mutex is held and
// delivered after it is released.

// raiseInvalidationLocked queues an invalidation signal. Once the
// engine is disabled at most one further signal goes out: the one
// accompanying the disable transition itself. Signals raised while
// checks were still enabled (duplicate use) do not count against that,
// so a conflict never swallows a later expiry signal.
func (v *Validator) raiseInvalidationLocked(kind InvalidationKind) {
	if v.futureChecksDisabled {
		if v.invalidatedWhileDisabled {
			return
		}
		v.invalidatedWhileDisabled = true
	}
	v.pending = append(v.pending, pendingEvent{kind: evInvalidated, invalidation: kind})
}

func (v *Validator) raiseExpiredLocked(at time.Time) {
	v.pending = append(v.pending, pendingEvent{kind: evExpired, expiredAt: at})
}

func (v *Validator) raiseDuplicateLocked(ann discovery.Announcement) {
	v.pending = append(v.pending, pendingEvent{kind: evDuplicate, announcement: ann})
}

func (v *Validator) drainEventsLocked() []pendingEvent {
	events := v.pending
	v.pending = nil
	return events
}

func (v *Validator) deliver(events []pendingEvent) {
	for _, ev := range events {
		switch ev.kind {
		case evInvalidated:
			v.cfg.OnInvalidated(ev.invalidation)
		case evExpired:
			if v.cfg.OnExpired != nil {
				v.cfg.OnExpired(ev.expiredAt)
			}
		case evDuplicate:
			if v.cfg.OnDuplicateUse != nil {
				v.cfg.OnDuplicateUse(ev.announcement)
			}
		}
	}
}

// Accessors.

// State returns the engine's current validation state.
func (v *Validator) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.futureChecksDisabled && v.state != StateValid {
		return StateDisabled
	}
	return v.state
}

// SenderID returns the engine's discovery sender identity, generated
// once per process lifetime.
func (v *Validator) SenderID() uuid.UUID {
	return v.senderID
}

// CurrentRecord returns a copy of the most recently validated license
// record.
func (v *Validator) CurrentRecord() (Record, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.record == nil {
		return Record{}, false
	}
	rec := *v.record
	rec.Attributes = copyAttributes(v.record.Attributes)
	return rec, true
}

// Attributes returns a copy of the free-form attributes of the current
// license.
func (v *Validator) Attributes() map[string]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return copyAttributes(v.attributes)
}

// ExpirationDate returns the current license expiration, if a record
// has been parsed.
func (v *Validator) ExpirationDate() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.record == nil {
		return time.Time{}, false
	}
	return v.record.Expiration, true
}
