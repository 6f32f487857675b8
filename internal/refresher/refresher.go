// Package refresher runs the background task that keeps the user/group
// cache warm: an initial synchronous fetch at startup, then one fetch
// every RefreshInterval until told to stop. A non-domain error escalates
// to the fatal channel the server loop watches; a domain lookup failure
// is logged and retried on the next tick, the same forgiving behavior the
// original daemon's scheduled refresh has.
package refresher

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/accountscache"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/entities"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/lookuperr"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/telemetry"
)

// RefreshInterval is how often the cache is refreshed on a schedule, per
// spec.md §4.6 (once every half hour).
const RefreshInterval = 30 * time.Minute

// upstreamClient is the subset of *accountsclient.Client the refresher
// needs.
type upstreamClient interface {
	GetUsersAndGroups(ctx context.Context, forUserName string) ([]entities.User, []entities.Group, error)
}

// Refresher periodically repopulates an accountscache.Cache from an
// upstream client.
type Refresher struct {
	cache    *accountscache.Cache
	client   upstreamClient
	log      *logrus.Entry
	metrics  *telemetry.Metrics
	interval time.Duration
}

// New creates a Refresher with the default RefreshInterval.
func New(cache *accountscache.Cache, client upstreamClient, log *logrus.Entry, metrics *telemetry.Metrics) *Refresher {
	return &Refresher{cache: cache, client: client, log: log, metrics: metrics, interval: RefreshInterval}
}

// RefreshOnce runs a single refresh synchronously and returns its error,
// if any. Callers that want the "log and continue" behavior of the
// background loop should use RunOnce instead, which swallows domain
// lookup failures.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	start := time.Now()
	users, groups, err := r.client.GetUsersAndGroups(ctx, "")
	if err != nil {
		r.metrics.ObserveRefresh("error", time.Since(start).Seconds())
		return err
	}
	r.cache.RepopulateUsersAndGroups(users, groups)
	r.metrics.ObserveRefresh("success", time.Since(start).Seconds())
	return nil
}

// RunOnce performs one refresh and logs, but does not propagate, a domain
// lookup failure (NotFound/Backend/OutOfQuota): a single failed refresh
// should not bring down the server, since the cache still serves whatever
// it held before. Anything else is returned unchanged for the caller to
// treat as fatal.
func (r *Refresher) RunOnce(ctx context.Context) error {
	err := r.RefreshOnce(ctx)
	if err == nil {
		return nil
	}
	var le *lookuperr.Error
	if errors.As(err, &le) {
		r.log.WithError(err).Error("error during scheduled cache refresh")
		return nil
	}
	return err
}

// Run refreshes the cache every r.interval until ctx is done or done is
// closed, whichever comes first. The caller is responsible for the
// synchronous initial refresh (via RunOnce) before starting Run, matching
// the original daemon's background thread, which waits a full period
// before its first tick rather than refreshing again immediately after
// the startup refresh. It selects over a timer rather than sleeping so
// shutdown is immediate even mid-wait. It returns the first non-domain
// error encountered, or nil on a clean shutdown.
func (r *Refresher) Run(ctx context.Context, done <-chan struct{}) error {
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := r.RunOnce(ctx); err != nil {
				return err
			}
			timer.Reset(r.interval)
		}
	}
}
