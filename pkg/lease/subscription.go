package lease

import (
	"context"
	"log/slog"
	"time"
)

// SubscriptionHTTPClient is the default SubscriptionClient. It POSTs
// the current license text to the subscription endpoint and returns
// whatever license text the service issues.
type SubscriptionHTTPClient struct {
	Endpoint   string
	Timeout    time.Duration
	CloseGrace time.Duration
	Logger     *slog.Logger
}

type subscriptionRequest struct {
	License  string `json:"license"`
	Passcode string `json:"passcode,omitempty"`
}

type subscriptionResponse struct {
	License string `json:"license"`
}

// NewSubscriptionClient creates a subscription lease client for the
// given endpoint with default timeouts.
func NewSubscriptionClient(endpoint string) *SubscriptionHTTPClient {
	return &SubscriptionHTTPClient{
		Endpoint:   endpoint,
		Timeout:    DefaultTimeout,
		CloseGrace: DefaultCloseGrace,
		Logger:     slog.Default().With(slog.String("component", "subscription_lease_client")),
	}
}

// LeaseLicense implements SubscriptionClient.
func (c *SubscriptionHTTPClient) LeaseLicense(ctx context.Context, currentLicense, passcode string) (string, error) {
	ch := openChannel(c.Timeout, c.CloseGrace)

	var reply subscriptionResponse
	err := ch.post(ctx, c.Endpoint, subscriptionRequest{
		License:  currentLicense,
		Passcode: passcode,
	}, &reply)
	if err != nil {
		c.Logger.LogAttrs(ctx, slog.LevelWarn, "subscription lease call failed",
			slog.String("endpoint", c.Endpoint),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	return reply.License, nil
}
