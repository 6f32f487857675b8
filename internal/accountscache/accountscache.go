// Package accountscache holds the in-memory user/group snapshot and the
// independently-expiring authorized-keys sub-cache the dispatcher serves
// reads from. The snapshot is replaced wholesale on every refresh by
// swapping a single pointer under a mutex, so readers never observe a
// partially-rebuilt index; the key cache keeps its own per-entry
// freshness window, anchored to each entry's own FetchedAt timestamp,
// because it is repopulated on demand, not on the same schedule as the
// snapshot.
package accountscache

import (
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/entities"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/lookuperr"
)

// keyEntryTTL is how long a cached authorized-keys entry may be served
// before it is considered stale, per spec.md §4.5.
const keyEntryTTL = 30 * time.Minute

// snapshot is an immutable index over the most recently fetched users and
// groups. Once built it is never mutated; a refresh builds a new snapshot
// and swaps it in.
type snapshot struct {
	usersByName  map[string]entities.User
	usersByUID   map[int64]entities.User
	groupsByName map[string]entities.Group
	groupsByGID  map[int64]entities.Group
}

func emptySnapshot() *snapshot {
	return &snapshot{
		usersByName:  make(map[string]entities.User),
		usersByUID:   make(map[int64]entities.User),
		groupsByName: make(map[string]entities.Group),
		groupsByGID:  make(map[int64]entities.Group),
	}
}

// Clock abstracts time.Now for deterministic freshness tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Cache is the thread-safe user/group snapshot plus key sub-cache. The
// zero value is not usable; construct with New.
type Cache struct {
	clock Clock

	mu   sync.RWMutex
	snap *snapshot

	keysMu sync.Mutex
	keys   map[string]entities.AuthorizedKeys
}

// New creates an empty Cache.
func New() *Cache {
	return NewWithClock(systemClock{})
}

// NewWithClock is New with an injectable Clock, for tests.
func NewWithClock(clock Clock) *Cache {
	return &Cache{
		clock: clock,
		snap:  emptySnapshot(),
		keys:  make(map[string]entities.AuthorizedKeys),
	}
}

// ValidateAccountName returns NotFound unless name is a known user or
// group name.
func (c *Cache) ValidateAccountName(name string) error {
	s := c.loadSnapshot()
	if _, ok := s.usersByName[name]; ok {
		return nil
	}
	if _, ok := s.groupsByName[name]; ok {
		return nil
	}
	return lookuperr.NotFoundf("not found in cache: [%s]", name)
}

// GetUserByName returns the cached user with the given name.
func (c *Cache) GetUserByName(name string) (entities.User, error) {
	s := c.loadSnapshot()
	u, ok := s.usersByName[name]
	if !ok {
		return entities.User{}, lookuperr.NotFoundf("not found in cache: [%s]", name)
	}
	return u, nil
}

// GetUserByUID returns the cached user with the given uid.
func (c *Cache) GetUserByUID(uid int64) (entities.User, error) {
	s := c.loadSnapshot()
	u, ok := s.usersByUID[uid]
	if !ok {
		return entities.User{}, lookuperr.NotFoundf("not found in cache: [%d]", uid)
	}
	return u, nil
}

// GetUsers returns every cached user, in no particular order.
func (c *Cache) GetUsers() []entities.User {
	s := c.loadSnapshot()
	out := make([]entities.User, 0, len(s.usersByName))
	for _, u := range s.usersByName {
		out = append(out, u)
	}
	return out
}

// GetGroupByName returns the cached group with the given name.
func (c *Cache) GetGroupByName(name string) (entities.Group, error) {
	s := c.loadSnapshot()
	g, ok := s.groupsByName[name]
	if !ok {
		return entities.Group{}, lookuperr.NotFoundf("not found in cache: [%s]", name)
	}
	return g, nil
}

// GetGroupByGID returns the cached group with the given gid.
func (c *Cache) GetGroupByGID(gid int64) (entities.Group, error) {
	s := c.loadSnapshot()
	g, ok := s.groupsByGID[gid]
	if !ok {
		return entities.Group{}, lookuperr.NotFoundf("not found in cache: [%d]", gid)
	}
	return g, nil
}

// GetGroups returns every cached group, in no particular order.
func (c *Cache) GetGroups() []entities.Group {
	s := c.loadSnapshot()
	out := make([]entities.Group, 0, len(s.groupsByName))
	for _, g := range s.groupsByName {
		out = append(out, g)
	}
	return out
}

// GetAuthorizedKeys returns a user's cached authorized keys, failing with
// NotFound if there is no entry or the entry has expired.
func (c *Cache) GetAuthorizedKeys(userName string) (entities.AuthorizedKeys, error) {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()

	entry, ok := c.keys[userName]
	if !ok || !c.fresh(entry.FetchedAt) {
		return entities.AuthorizedKeys{}, lookuperr.NotFoundf("cached user keys are stale or absent: [%s]", userName)
	}
	return entry, nil
}

// CacheAuthorizedKeys unconditionally stores keys for userName. Freshness
// is anchored to keys.FetchedAt, not the time of this call, matching
// cache.py's _is_key_entry_fresh reading the cached object's own
// timestamp.
func (c *Cache) CacheAuthorizedKeys(userName string, keys entities.AuthorizedKeys) {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	c.keys[userName] = keys
}

// RepopulateUsersAndGroups atomically replaces the user/group snapshot.
// Any cached authorized-keys entry belonging to a user who is no longer
// valid, or whose entry has expired, is dropped in the same pass.
func (c *Cache) RepopulateUsersAndGroups(users []entities.User, groups []entities.Group) {
	next := emptySnapshot()
	for _, u := range users {
		next.usersByName[u.Name] = u
		next.usersByUID[u.UID] = u
	}
	for _, g := range groups {
		next.groupsByName[g.Name] = g
		next.groupsByGID[g.GID] = g
	}

	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()

	c.pruneKeys(next)
}

func (c *Cache) pruneKeys(s *snapshot) {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()

	kept := make(map[string]entities.AuthorizedKeys, len(c.keys))
	for name, entry := range c.keys {
		if _, validUser := s.usersByName[name]; validUser && c.fresh(entry.FetchedAt) {
			kept[name] = entry
		}
	}
	c.keys = kept
}

// fresh reports whether fetchedAt (unix seconds) is within keyEntryTTL of
// the current time, discarding entries whose timestamp is in the future
// exactly as cache.py's _is_key_entry_fresh does (delta_sec >= 0).
func (c *Cache) fresh(fetchedAt int64) bool {
	delta := c.clock.Now().Sub(time.Unix(fetchedAt, 0))
	return delta >= 0 && delta < keyEntryTTL
}

func (c *Cache) loadSnapshot() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}
