package license

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies this package's meter.
const MeterName = "license-validator"

// Metrics holds the engine's OpenTelemetry instruments. The engine is
// fully functional without them; every recording site is nil-safe.
type Metrics struct {
	ValidationAttempts   metric.Int64Counter
	ValidationSuccess    metric.Int64Counter
	ValidationFailures   metric.Int64Counter
	LeaseRenewals        metric.Int64Counter
	LeaseRenewalFailures metric.Int64Counter
	DuplicateUseEvents   metric.Int64Counter
	TimeCheckFailures    metric.Int64Counter
}

// NewMetrics creates the engine instruments on the supplied meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ValidationAttempts, err = meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of license validation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	m.ValidationSuccess, err = meter.Int64Counter(
		"license_validation_success_total",
		metric.WithDescription("Total number of successful license validations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation success counter: %w", err)
	}

	m.ValidationFailures, err = meter.Int64Counter(
		"license_validation_failures_total",
		metric.WithDescription("Total number of failed license validations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation failures counter: %w", err)
	}

	m.LeaseRenewals, err = meter.Int64Counter(
		"license_lease_renewals_total",
		metric.WithDescription("Total number of successful lease renewals"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lease renewals counter: %w", err)
	}

	m.LeaseRenewalFailures, err = meter.Int64Counter(
		"license_lease_renewal_failures_total",
		metric.WithDescription("Total number of failed lease renewal attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lease renewal failures counter: %w", err)
	}

	m.DuplicateUseEvents, err = meter.Int64Counter(
		"license_duplicate_use_events_total",
		metric.WithDescription("Total number of duplicate license use detections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duplicate use counter: %w", err)
	}

	m.TimeCheckFailures, err = meter.Int64Counter(
		"license_time_check_failures_total",
		metric.WithDescription("Total number of inconclusive network time checks"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create time check failures counter: %w", err)
	}

	return m, nil
}

// count adds one to a counter when metrics are configured.
func (v *Validator) count(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if v.metrics == nil || counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (v *Validator) countValidationAttempt(ctx context.Context) {
	if v.metrics != nil {
		v.count(ctx, v.metrics.ValidationAttempts)
	}
}

func (v *Validator) countValidationSuccess(ctx context.Context) {
	if v.metrics != nil {
		v.count(ctx, v.metrics.ValidationSuccess)
	}
}

func (v *Validator) countValidationFailure(ctx context.Context) {
	if v.metrics != nil {
		v.count(ctx, v.metrics.ValidationFailures)
	}
}

func (v *Validator) countLeaseRenewal(ctx context.Context) {
	if v.metrics != nil {
		v.count(ctx, v.metrics.LeaseRenewals)
	}
}

func (v *Validator) countLeaseRenewalFailure(ctx context.Context) {
	if v.metrics != nil {
		v.count(ctx, v.metrics.LeaseRenewalFailures)
	}
}

func (v *Validator) countDuplicateUse(ctx context.Context) {
	if v.metrics != nil {
		v.count(ctx, v.metrics.DuplicateUseEvents)
	}
}

func (v *Validator) countTimeCheckFailure(ctx context.Context) {
	if v.metrics != nil {
		v.count(ctx, v.metrics.TimeCheckFailures)
	}
}
