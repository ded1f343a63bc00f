package lease

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxDrainBytes bounds how much of a response body the graceful close
// is willing to read before reuse of the connection stops being worth
// it.
const maxDrainBytes = 1 << 20

// channel owns the transport state for a single lease exchange. It is
// acquired per call, never pooled or shared, and released on every exit
// path.
type channel struct {
	client *http.Client
	grace  time.Duration
}

func openChannel(timeout, grace time.Duration) *channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if grace <= 0 {
		grace = DefaultCloseGrace
	}
	return &channel{
		client: &http.Client{Timeout: timeout},
		grace:  grace,
	}
}

// post sends a JSON request and decodes a JSON reply. The response body
// is released before post returns, whatever the outcome. Each call owns
// a cancel for its request so release can abort an exchange that does
// not wind down within the grace period.
func (c *channel) post(ctx context.Context, url string, payload, reply any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("lease: failed to encode request: %w", err)
	}

	reqCtx, abort := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		abort()
		return fmt.Errorf("lease: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		abort()
		return fmt.Errorf("lease: request failed: %w", err)
	}
	defer c.release(resp.Body, abort)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lease: unexpected status %d from %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
		return fmt.Errorf("lease: malformed response: %w", err)
	}
	return nil
}

// release attempts a bounded graceful close of the response body, and
// cancels the request when the drain does not finish within the grace
// period, which makes the transport abort the underlying connection.
// The channel is never left open on any exit path.
func (c *channel) release(body io.ReadCloser, abort context.CancelFunc) {
	defer abort()

	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
		close(done)
	}()

	select {
	case <-done:
		body.Close()
	case <-time.After(c.grace):
		// Graceful close timed out; abort the exchange.
		abort()
		body.Close()
	}
}
