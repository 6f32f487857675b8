// Package entities holds the POSIX account records the proxy serves:
// users, groups, and SSH authorized keys, together with the wire-format
// field constraints the upstream API response is validated against.
package entities

import "regexp"

// NameRegex matches a valid POSIX account name: lowercase, starts with a
// letter, up to 32 characters total.
var NameRegex = regexp.MustCompile(`^[a-z][-a-z0-9_]{0,31}$`)

// nssStringRegex matches any /etc/passwd or /etc/group field value: no
// colons (the field delimiter) and no embedded newlines.
var nssStringRegex = regexp.MustCompile(`^[^:\n]*$`)

// keyStringRegex matches a single authorized_keys line: anything but a
// newline.
var keyStringRegex = regexp.MustCompile(`^[^\n]*$`)

// User mirrors struct passwd, minus the password field, which the proxy
// never stores or serves.
//
//	struct passwd {
//	  char   *pw_name;   /* username */
//	  uid_t   pw_uid;    /* user ID */
//	  gid_t   pw_gid;    /* group ID */
//	  char   *pw_gecos;  /* user information */
//	  char   *pw_dir;    /* home directory */
//	  char   *pw_shell;  /* shell program */
//	};
type User struct {
	Name  string
	UID   int64
	GID   int64
	Gecos string
	Dir   string
	Shell string
}

// Valid reports whether every NSS field satisfies the field constraints a
// passwd line imposes (no colons, no embedded newlines) and the name
// matches NameRegex.
func (u User) Valid() bool {
	return NameRegex.MatchString(u.Name) &&
		nssStringRegex.MatchString(u.Gecos) &&
		nssStringRegex.MatchString(u.Dir) &&
		nssStringRegex.MatchString(u.Shell)
}

// Group mirrors struct group, minus the password field.
//
//	struct group {
//	  char   *gr_name;   /* group name */
//	  gid_t   gr_gid;    /* group ID */
//	  char  **gr_mem;    /* member names */
//	};
type Group struct {
	Name    string
	GID     int64
	Members []string
}

// Valid reports whether the group name and every member name match
// NameRegex.
func (g Group) Valid() bool {
	if !NameRegex.MatchString(g.Name) {
		return false
	}
	for _, m := range g.Members {
		if !NameRegex.MatchString(m) {
			return false
		}
	}
	return true
}

// AuthorizedKeys is a user's SSH authorized_keys lines as of FetchedAt.
type AuthorizedKeys struct {
	FetchedAt int64 // unix seconds
	Keys      []string
}

// Valid reports whether every key line is free of embedded newlines.
func (a AuthorizedKeys) Valid() bool {
	for _, k := range a.Keys {
		if !keyStringRegex.MatchString(k) {
			return false
		}
	}
	return true
}
