// Package protocol implements the line-oriented request/response format
// the accounts proxy speaks over its Unix domain socket: a single request
// line in, a status code followed by zero or more info lines out.
package protocol

import (
	"strconv"
	"strings"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/entities"
)

// MaxRequestBytes is the largest request line the server reads per
// connection, matching the original daemon's fixed-size recv.
const MaxRequestBytes = 128

// Request is a parsed request line: a method name and its single
// argument, if any.
type Request struct {
	Method string
	Arg    string
}

// ParseRequest splits "method arg" into a Request. The method is
// everything before the first space; the remainder, if any, is the raw
// argument.
func ParseRequest(line string) Request {
	method, arg, _ := strings.Cut(line, " ")
	return Request{Method: method, Arg: arg}
}

// UserToPasswdLine renders u as a colon-delimited /etc/passwd line, with
// the password field omitted (the proxy never stores or serves it).
func UserToPasswdLine(u entities.User) string {
	return strings.Join([]string{
		u.Name,
		strconv.FormatInt(u.UID, 10),
		strconv.FormatInt(u.GID, 10),
		u.Gecos,
		u.Dir,
		u.Shell,
	}, ":")
}

// GroupToGroupLine renders g as a colon-delimited /etc/group line, with
// the password field omitted.
func GroupToGroupLine(g entities.Group) string {
	return strings.Join([]string{
		g.Name,
		strconv.FormatInt(g.GID, 10),
		strings.Join(g.Members, ","),
	}, ":")
}

// EncodeResponse joins a status code and info lines into the bytes
// written back to the client in a single response.
func EncodeResponse(status string, lines []string) []byte {
	all := append([]string{status}, lines...)
	return []byte(strings.Join(all, "\n"))
}
