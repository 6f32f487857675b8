// Package config loads the accounts proxy daemon's configuration from
// command-line flags with environment-variable fallbacks, following the
// rest of the code base's convention of flag.Parse plus GetEnv-style
// defaults rather than a config-file/viper setup.
package config

import (
	"flag"
	"os"
)

// Config holds everything the daemon needs to start serving.
type Config struct {
	SocketPath                string
	APIRoot                   string
	ComputeAccountsAPIVersion string
	ComputeAPIVersion         string
	LogLevel                  string
	LogFormat                 string
	MetricsAddr               string
}

// defaults mirror the original daemon's argparse defaults
// (bin/proxy_daemon.py): --logging-level, --api-root,
// --computeaccounts-api-version, and --compute-api-version.
const (
	defaultSocketPath    = "/var/run/compute_accounts/sock"
	defaultAPIRoot       = "https://www.googleapis.com/"
	defaultCAAPIVersion  = "alpha"
	defaultComputeAPIVer = "v1"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultMetricsAddr   = ""
)

// Parse parses args (normally os.Args[1:]) into a Config, falling back to
// environment variables and finally the hard-coded defaults above.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("accounts-proxy", flag.ContinueOnError)

	socketPath := fs.String("socket", envOr("ACCOUNTS_PROXY_SOCKET", defaultSocketPath), "path to the Unix domain socket to listen on")
	apiRoot := fs.String("api-root", envOr("ACCOUNTS_PROXY_API_ROOT", defaultAPIRoot), "base URL of the Compute Accounts and Compute APIs")
	caVersion := fs.String("computeaccounts-api-version", envOr("ACCOUNTS_PROXY_CA_API_VERSION", defaultCAAPIVersion), "computeaccounts API version")
	computeVersion := fs.String("compute-api-version", envOr("ACCOUNTS_PROXY_COMPUTE_API_VERSION", defaultComputeAPIVer), "compute API version")
	logLevel := fs.String("logging-level", envOr("LOG_LEVEL", defaultLogLevel), "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", envOr("LOG_FORMAT", defaultLogFormat), "log format: text or json")
	metricsAddr := fs.String("metrics-addr", envOr("ACCOUNTS_PROXY_METRICS_ADDR", defaultMetricsAddr), "address to serve Prometheus metrics on (empty disables)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return &Config{
		SocketPath:                *socketPath,
		APIRoot:                   *apiRoot,
		ComputeAccountsAPIVersion: *caVersion,
		ComputeAPIVersion:         *computeVersion,
		LogLevel:                  *logLevel,
		LogFormat:                 *logFormat,
		MetricsAddr:               *metricsAddr,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
