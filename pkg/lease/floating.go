package lease

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// FloatingHTTPClient is the default FloatingClient. It requests a lease
// from the floating-license server, identifying the requesting machine,
// user, and client.
type FloatingHTTPClient struct {
	Endpoint   string
	Timeout    time.Duration
	CloseGrace time.Duration
	Logger     *slog.Logger
}

type floatingRequest struct {
	MachineName string    `json:"machine_name"`
	UserName    string    `json:"user_name"`
	ClientID    uuid.UUID `json:"client_id"`
}

type floatingResponse struct {
	License string `json:"license"`
}

// NewFloatingClient creates a floating lease client for the given
// endpoint with default timeouts.
func NewFloatingClient(endpoint string) *FloatingHTTPClient {
	return &FloatingHTTPClient{
		Endpoint:   endpoint,
		Timeout:    DefaultTimeout,
		CloseGrace: DefaultCloseGrace,
		Logger:     slog.Default().With(slog.String("component", "floating_lease_client")),
	}
}

// LeaseLicense implements FloatingClient. An empty return value means
// the server declined to issue a lease.
func (c *FloatingHTTPClient) LeaseLicense(ctx context.Context, machineName, userName string, clientID uuid.UUID) (string, error) {
	ch := openChannel(c.Timeout, c.CloseGrace)

	var reply floatingResponse
	err := ch.post(ctx, c.Endpoint, floatingRequest{
		MachineName: machineName,
		UserName:    userName,
		ClientID:    clientID,
	}, &reply)
	if err != nil {
		c.Logger.LogAttrs(ctx, slog.LevelWarn, "floating lease call failed",
			slog.String("endpoint", c.Endpoint),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	return reply.License, nil
}
