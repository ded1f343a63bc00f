// Package timesource reports current network time from a pool of time
// servers. It exists to cross-check the local clock, so failure to
// reach any source is an inconclusive outcome, never a fatal one.
package timesource

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/beevik/ntp"
	"golang.org/x/sync/errgroup"
)

// ErrNoTimeSource means no server in the pool produced a usable
// response. Callers must treat this as inconclusive.
var ErrNoTimeSource = errors.New("timesource: no time source reachable")

// DefaultSources is the default pool of public time servers.
var DefaultSources = []string{
	"time.nist.gov",
	"time.google.com",
	"pool.ntp.org",
	"time.windows.com",
}

// Oracle reports current network time from a pool of sources.
type Oracle interface {
	QueryTime(ctx context.Context, sources []string) (time.Time, error)
}

// NTPOracle queries the pool over NTP, first usable answer wins.
type NTPOracle struct {
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// NewNTP creates an oracle with default per-query timeout.
func NewNTP() *NTPOracle {
	return &NTPOracle{
		QueryTimeout: 5 * time.Second,
		Logger:       slog.Default().With(slog.String("component", "time_oracle")),
	}
}

// QueryTime implements Oracle. The pool is queried concurrently and the
// first validated response wins. An empty pool falls back to
// DefaultSources.
func (o *NTPOracle) QueryTime(ctx context.Context, sources []string) (time.Time, error) {
	if len(sources) == 0 {
		sources = DefaultSources
	}

	queryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered for the winner; late finishers fall through the default
	// and return. In-flight queries cannot be interrupted, but each is
	// bounded by QueryTimeout.
	offsets := make(chan time.Duration, 1)
	var g errgroup.Group
	for _, host := range sources {
		host := host
		g.Go(func() error {
			if queryCtx.Err() != nil {
				return nil
			}
			resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: o.QueryTimeout})
			if err != nil {
				o.Logger.LogAttrs(queryCtx, slog.LevelDebug, "time source unreachable",
					slog.String("host", host),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if err := resp.Validate(); err != nil {
				o.Logger.LogAttrs(queryCtx, slog.LevelDebug, "time source response rejected",
					slog.String("host", host),
					slog.String("error", err.Error()),
				)
				return nil
			}
			select {
			case offsets <- resp.ClockOffset:
				cancel()
			default:
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case offset := <-offsets:
		return time.Now().Add(offset), nil
	case <-done:
		select {
		case offset := <-offsets:
			return time.Now().Add(offset), nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, ErrNoTimeSource
	}
}
