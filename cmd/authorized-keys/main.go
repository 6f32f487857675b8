// Command authorized-keys fetches a user's SSH authorized_keys lines
// through the accounts proxy daemon and prints them to stdout, one per
// line. It is meant to be wired up as an AuthorizedKeysCommand in sshd_config.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/proxyclient"
)

// keysCommandTimeout is longer than proxyclient.DefaultTimeout because
// this command always forces a fresh upstream fetch, per the original
// helper's comment ("this always sends a request to the API, so extend
// the timeout").
const keysCommandTimeout = 5 * time.Second

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: authorized-keys <username>")
		os.Exit(2)
	}
	username := os.Args[1]

	ctx, cancel := context.WithTimeout(context.Background(), keysCommandTimeout)
	defer cancel()

	lines, err := proxyclient.GetAccountInfo(ctx, proxyclient.DefaultSocketPath,
		"get_authorized_keys "+username, keysCommandTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authorized-keys: %v\n", err)
		os.Exit(1)
	}

	for _, line := range lines {
		fmt.Println(line)
	}
}
