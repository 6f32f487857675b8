// Package dispatcher routes parsed request lines to the handler that
// serves them, combining the in-memory cache with on-demand upstream
// fetches the way the original daemon does: an unknown user triggers a
// synchronous cache refresh before failing, and authorized-keys lookups
// fall back to a still-fresh cached entry if the upstream call fails with
// a Backend or OutOfQuota error.
package dispatcher

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/accountscache"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/entities"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/lookuperr"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/protocol"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/telemetry"
)

// upstreamClient is the subset of *accountsclient.Client the dispatcher
// needs, narrowed to an interface so tests can substitute a fake upstream.
type upstreamClient interface {
	GetUsersAndGroups(ctx context.Context, forUserName string) ([]entities.User, []entities.Group, error)
	GetAuthorizedKeys(ctx context.Context, username string) (entities.AuthorizedKeys, error)
}

// Result is what Dispatch hands back to the caller to write onto the
// socket: a status code and zero or more info lines.
type Result struct {
	Status string
	Lines  []string
}

// badRequestResult is returned for a request line the protocol itself
// rejects: an unknown method, or an argument that fails to parse for a
// method expecting one. This is not a lookuperr.Error because it is never
// a domain lookup failure; it never reaches the fatal-escalation path.
var badRequestResult = Result{Status: "400"}

// Dispatcher owns the cache and upstream client and maps request methods
// to the operations in spec.md §6.
type Dispatcher struct {
	cache   *accountscache.Cache
	client  upstreamClient
	log     *logrus.Entry
	metrics *telemetry.Metrics
}

// New creates a Dispatcher.
func New(cache *accountscache.Cache, client upstreamClient, log *logrus.Entry, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{cache: cache, client: client, log: log, metrics: metrics}
}

// Dispatch parses line as a request and runs the corresponding handler.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) Result {
	req := protocol.ParseRequest(line)

	lines, err := d.route(ctx, req)
	if err == badRequestErr {
		d.metrics.ObserveRequest(req.Method, "400")
		return badRequestResult
	}
	if err != nil {
		status := lookuperr.StatusCode(err)
		d.metrics.ObserveRequest(req.Method, status)
		return Result{Status: status}
	}
	d.metrics.ObserveRequest(req.Method, "200")
	return Result{Status: "200", Lines: lines}
}

// badRequestErr is a sentinel used internally by route to signal a
// protocol-level parse failure without allocating a lookuperr.Error for
// something that isn't a domain lookup failure.
var badRequestErr = &sentinelError{"bad request"}

type sentinelError struct{ msg string }

func (e *sentinelError) Error() string { return e.msg }

func (d *Dispatcher) route(ctx context.Context, req protocol.Request) ([]string, error) {
	switch req.Method {
	case "get_user_by_name":
		return d.getUserByName(ctx, req.Arg)
	case "get_user_by_uid":
		uid, err := strconv.ParseInt(req.Arg, 10, 64)
		if err != nil {
			return nil, badRequestErr
		}
		return d.getUserByUID(uid)
	case "get_users":
		return d.getUsers()
	case "get_group_by_name":
		return d.getGroupByName(req.Arg)
	case "get_group_by_gid":
		gid, err := strconv.ParseInt(req.Arg, 10, 64)
		if err != nil {
			return nil, badRequestErr
		}
		return d.getGroupByGID(gid)
	case "get_groups":
		return d.getGroups()
	case "get_account_names":
		return d.getAccountNames(), nil
	case "is_account_name":
		return nil, d.cache.ValidateAccountName(req.Arg)
	case "get_authorized_keys":
		return d.getAuthorizedKeys(ctx, req.Arg)
	default:
		return nil, badRequestErr
	}
}

func (d *Dispatcher) getUserByName(ctx context.Context, name string) ([]string, error) {
	d.log.WithField("user", name).Info("getting user by name")
	if u, err := d.cache.GetUserByName(name); err == nil {
		return []string{protocol.UserToPasswdLine(u)}, nil
	}

	d.log.WithField("user", name).Warn("cache miss, refreshing before failing")
	users, groups, err := d.client.GetUsersAndGroups(ctx, name)
	if err != nil {
		return nil, err
	}
	d.cache.RepopulateUsersAndGroups(users, groups)

	u, err := d.cache.GetUserByName(name)
	if err != nil {
		return nil, err
	}
	return []string{protocol.UserToPasswdLine(u)}, nil
}

func (d *Dispatcher) getUserByUID(uid int64) ([]string, error) {
	u, err := d.cache.GetUserByUID(uid)
	if err != nil {
		return nil, err
	}
	return []string{protocol.UserToPasswdLine(u)}, nil
}

func (d *Dispatcher) getUsers() ([]string, error) {
	users := d.cache.GetUsers()
	lines := make([]string, 0, len(users))
	for _, u := range users {
		lines = append(lines, protocol.UserToPasswdLine(u))
	}
	return lines, nil
}

func (d *Dispatcher) getGroupByName(name string) ([]string, error) {
	g, err := d.cache.GetGroupByName(name)
	if err != nil {
		return nil, err
	}
	return []string{protocol.GroupToGroupLine(g)}, nil
}

func (d *Dispatcher) getGroupByGID(gid int64) ([]string, error) {
	g, err := d.cache.GetGroupByGID(gid)
	if err != nil {
		return nil, err
	}
	return []string{protocol.GroupToGroupLine(g)}, nil
}

func (d *Dispatcher) getGroups() ([]string, error) {
	groups := d.cache.GetGroups()
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, protocol.GroupToGroupLine(g))
	}
	return lines, nil
}

func (d *Dispatcher) getAccountNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, u := range d.cache.GetUsers() {
		if _, ok := seen[u.Name]; !ok {
			seen[u.Name] = struct{}{}
			names = append(names, u.Name)
		}
	}
	for _, g := range d.cache.GetGroups() {
		if _, ok := seen[g.Name]; !ok {
			seen[g.Name] = struct{}{}
			names = append(names, g.Name)
		}
	}
	return names
}

// getAuthorizedKeys fetches fresh keys from upstream and caches them. If
// the upstream call fails with a Backend or OutOfQuota error, it falls
// back to a cached entry; if there is no usable cached entry, the
// original upstream error is returned.
func (d *Dispatcher) getAuthorizedKeys(ctx context.Context, userName string) ([]string, error) {
	keys, err := d.client.GetAuthorizedKeys(ctx, userName)
	if err == nil {
		d.cache.CacheAuthorizedKeys(userName, keys)
		return keys.Keys, nil
	}
	if !lookuperr.Is(err, lookuperr.Backend) && !lookuperr.Is(err, lookuperr.OutOfQuota) {
		return nil, err
	}

	d.log.WithField("user", userName).WithError(err).Warn("failed to fetch authorized keys, falling back to cache")
	cached, cacheErr := d.cache.GetAuthorizedKeys(userName)
	if cacheErr != nil {
		return nil, err
	}
	return cached.Keys, nil
}
