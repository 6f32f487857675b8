package accountscache

import (
	"testing"
	"time"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/entities"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/lookuperr"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestRepopulateAndLookups(t *testing.T) {
	c := New()
	users := []entities.User{{Name: "alice", UID: 1001}, {Name: "bob", UID: 1002}}
	groups := []entities.Group{{Name: "eng", GID: 2000, Members: []string{"alice", "bob"}}}
	c.RepopulateUsersAndGroups(users, groups)

	u, err := c.GetUserByName("alice")
	if err != nil || u.UID != 1001 {
		t.Errorf("GetUserByName = %+v, %v", u, err)
	}
	if _, err := c.GetUserByName("carol"); !lookuperr.Is(err, lookuperr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	u2, err := c.GetUserByUID(1002)
	if err != nil || u2.Name != "bob" {
		t.Errorf("GetUserByUID = %+v, %v", u2, err)
	}

	g, err := c.GetGroupByGID(2000)
	if err != nil || g.Name != "eng" {
		t.Errorf("GetGroupByGID = %+v, %v", g, err)
	}

	if err := c.ValidateAccountName("alice"); err != nil {
		t.Errorf("ValidateAccountName(alice) = %v", err)
	}
	if err := c.ValidateAccountName("eng"); err != nil {
		t.Errorf("ValidateAccountName(eng) = %v", err)
	}
	if err := c.ValidateAccountName("nope"); !lookuperr.Is(err, lookuperr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	if got := len(c.GetUsers()); got != 2 {
		t.Errorf("GetUsers() len = %d, want 2", got)
	}
	if got := len(c.GetGroups()); got != 1 {
		t.Errorf("GetGroups() len = %d, want 1", got)
	}
}

func TestAuthorizedKeysFreshness(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewWithClock(clock)

	if _, err := c.GetAuthorizedKeys("alice"); !lookuperr.Is(err, lookuperr.NotFound) {
		t.Fatalf("expected NotFound before caching, got %v", err)
	}

	c.CacheAuthorizedKeys("alice", entities.AuthorizedKeys{FetchedAt: clock.now.Unix(), Keys: []string{"ssh-rsa AAA"}})

	keys, err := c.GetAuthorizedKeys("alice")
	if err != nil || len(keys.Keys) != 1 {
		t.Fatalf("GetAuthorizedKeys = %+v, %v", keys, err)
	}

	clock.advance(29 * time.Minute)
	if _, err := c.GetAuthorizedKeys("alice"); err != nil {
		t.Errorf("expected still-fresh entry at 29m, got %v", err)
	}

	clock.advance(2 * time.Minute) // total 31m, past the 30m TTL
	if _, err := c.GetAuthorizedKeys("alice"); !lookuperr.Is(err, lookuperr.NotFound) {
		t.Errorf("expected stale entry to be NotFound, got %v", err)
	}
}

func TestAuthorizedKeysFreshnessAnchoredToFetchedAtNotInsertionTime(t *testing.T) {
	// Cache an entry whose own FetchedAt is already 31 minutes old, even
	// though it is being inserted "now". Freshness must be judged against
	// FetchedAt, not against the clock at the moment of CacheAuthorizedKeys.
	clock := &fakeClock{now: time.Unix(10000, 0)}
	c := NewWithClock(clock)

	staleFetchedAt := clock.now.Add(-31 * time.Minute).Unix()
	c.CacheAuthorizedKeys("alice", entities.AuthorizedKeys{FetchedAt: staleFetchedAt, Keys: []string{"ssh-rsa AAA"}})

	if _, err := c.GetAuthorizedKeys("alice"); !lookuperr.Is(err, lookuperr.NotFound) {
		t.Errorf("expected an entry with a stale FetchedAt to read as NotFound immediately, got %v", err)
	}
}

func TestRepopulatePrunesStaleAndInvalidKeyEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(2000, 0)}
	c := NewWithClock(clock)

	c.CacheAuthorizedKeys("alice", entities.AuthorizedKeys{FetchedAt: clock.now.Unix(), Keys: []string{"k1"}})
	c.CacheAuthorizedKeys("ghost", entities.AuthorizedKeys{FetchedAt: clock.now.Unix(), Keys: []string{"k2"}})

	clock.advance(31 * time.Minute) // expire "alice"'s original entry
	c.CacheAuthorizedKeys("alice", entities.AuthorizedKeys{FetchedAt: clock.now.Unix(), Keys: []string{"k1-fresh"}})

	// Repopulate with only alice as a valid user: ghost's entry should be
	// dropped because the user no longer exists, and alice's (fresh)
	// entry should survive.
	c.RepopulateUsersAndGroups([]entities.User{{Name: "alice"}}, nil)

	if _, err := c.GetAuthorizedKeys("ghost"); !lookuperr.Is(err, lookuperr.NotFound) {
		t.Errorf("expected ghost's keys to be pruned, got %v", err)
	}
	keys, err := c.GetAuthorizedKeys("alice")
	if err != nil {
		t.Fatalf("expected alice's fresh keys to survive repopulate: %v", err)
	}
	if len(keys.Keys) != 1 || keys.Keys[0] != "k1-fresh" {
		t.Errorf("keys = %+v", keys)
	}
}
