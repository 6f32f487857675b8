// Package proxyclient is the client-side half of the accounts proxy's
// line protocol: connect to the daemon's Unix socket, send one command
// line, and read the response to EOF.
package proxyclient

import (
	"bytes"
	"context"
	"net"
	"strings"
	"time"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/lookuperr"
)

// DefaultSocketPath is where the daemon listens by default.
const DefaultSocketPath = "/var/run/compute_accounts/sock"

// DefaultTimeout is the default connect/read deadline for GetAccountInfo.
const DefaultTimeout = 1 * time.Second

// GetAccountInfo sends command to the daemon listening on socketPath and
// returns its info lines. It returns a lookuperr.Error of Kind NotFound
// when the daemon reports status 404, or Backend for any other non-200
// status or transport failure.
func GetAccountInfo(ctx context.Context, socketPath, command string, timeout time.Duration) ([]string, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, lookuperr.WrapBackend(err, "connecting to accounts proxy socket [%s]", socketPath)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	if _, err := conn.Write([]byte(command)); err != nil {
		return nil, lookuperr.WrapBackend(err, "sending command to accounts proxy socket")
	}

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			break
		}
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, lookuperr.Backendf("received no output for command [%s]", command)
	}

	status, info := lines[0], lines[1:]
	switch status {
	case "200":
		return info, nil
	case "404":
		return nil, lookuperr.NotFoundf("invalid user or group")
	default:
		return nil, lookuperr.Backendf("command [%s] failed with status [%s]", command, status)
	}
}
