// Package gcpmetadata reads the local GCE instance identity and a
// short-lived service-account bearer token from the instance metadata
// server, the same host-local surface consulted by the GCE guest agent
// and other Google Cloud client libraries.
package gcpmetadata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/compute/metadata"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/lookuperr"
)

// Client fetches project, zone, instance, and token information from the
// metadata server. The zero value is not usable; construct with New.
type Client struct {
	inner *metadata.Client
}

// New wraps the default metadata.Client, which talks to
// http://metadata.google.internal/computeMetadata/v1/ and always sends the
// required Metadata-Flavor: Google header.
func New() *Client {
	return &Client{inner: metadata.NewClient(nil)}
}

// ProjectID returns the current project's ID.
func (c *Client) ProjectID(ctx context.Context) (string, error) {
	v, err := c.inner.ProjectIDWithContext(ctx)
	if err != nil {
		return "", lookuperr.WrapBackend(err, "fetching project id from metadata server")
	}
	return v, nil
}

// Zone returns the bare zone name (e.g. "us-central1-a"), trimmed of the
// "projects/<id>/zones/" prefix the metadata server includes.
func (c *Client) Zone(ctx context.Context) (string, error) {
	v, err := c.inner.ZoneWithContext(ctx)
	if err != nil {
		return "", lookuperr.WrapBackend(err, "fetching zone from metadata server")
	}
	return v, nil
}

// InstanceName returns the bare instance name, derived from the instance
// hostname by dropping everything from the first dot onward.
func (c *Client) InstanceName(ctx context.Context) (string, error) {
	hostname, err := c.inner.HostnameWithContext(ctx)
	if err != nil {
		return "", lookuperr.WrapBackend(err, "fetching instance hostname from metadata server")
	}
	name, _, _ := strings.Cut(hostname, ".")
	return name, nil
}

// serviceAccountToken is the JSON shape the metadata server returns for
// instance/service-accounts/default/token.
type serviceAccountToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// AuthorizationHeader returns the "Authorization: <value>" header value to
// attach to an upstream Compute Accounts API request, built from the
// default service account's current access token.
func (c *Client) AuthorizationHeader(ctx context.Context) (string, error) {
	raw, err := c.inner.GetWithContext(ctx, "instance/service-accounts/default/token")
	if err != nil {
		return "", lookuperr.WrapBackend(err, "fetching service account token from metadata server")
	}
	var tok serviceAccountToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return "", lookuperr.WrapBackend(err, "parsing service account token response")
	}
	if tok.TokenType == "" || tok.AccessToken == "" {
		return "", lookuperr.Backendf("service account token response missing token_type or access_token")
	}
	return fmt.Sprintf("%s %s", tok.TokenType, tok.AccessToken), nil
}
