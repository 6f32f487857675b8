// Package accountsclient sends requests to the GCE Compute Accounts API on
// behalf of a single VM, using the instance's own identity and bearer
// token to authenticate, and two independent token buckets to bound the
// request rate.
package accountsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/entities"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/gcpmetadata"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/lookuperr"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/tokenbucket"
)

const (
	viewPathFormat     = "computeaccounts/%s/projects/%s/zones/%s/%s"
	instancePathFormat = "compute/%s/projects/%s/zones/%s/instances/%s"

	requestTimeout = 30 * time.Second
)

// Token bucket parameters, per spec.md §4.1.
const (
	linuxViewsCapacity  = 3
	linuxViewsPeriodSec = 5 * 60
	keysViewCapacity    = 10
	keysViewPeriodSec   = 60
)

// Config configures where and which API versions the client talks to.
type Config struct {
	// APIRoot is the base URL of the Compute Accounts / Compute APIs,
	// e.g. "https://www.googleapis.com/".
	APIRoot string
	// ComputeAccountsAPIVersion selects the computeaccounts API version,
	// e.g. "alpha".
	ComputeAccountsAPIVersion string
	// ComputeAPIVersion selects the compute API version, e.g. "v1".
	ComputeAPIVersion string
}

// metadataSource is the subset of *gcpmetadata.Client the accounts client
// depends on, narrowed to an interface so tests can substitute a fake
// without standing up a metadata server.
type metadataSource interface {
	ProjectID(ctx context.Context) (string, error)
	Zone(ctx context.Context) (string, error)
	InstanceName(ctx context.Context) (string, error)
	AuthorizationHeader(ctx context.Context) (string, error)
}

// Client sends requests to the Compute Accounts API. It is safe for
// concurrent use by multiple goroutines.
type Client struct {
	httpClient *http.Client
	metadata   metadataSource
	log        *logrus.Entry

	apiRoot                   string
	computeAccountsAPIVersion string
	computeAPIVersion         string

	linuxViewsBucket *tokenbucket.Bucket
	keysViewBucket   *tokenbucket.Bucket
}

// New creates a Client. httpClient, if non-nil, is shallow-copied and given
// the request timeout unless it already sets a Timeout of its own; pass nil
// to use http.DefaultClient's transport with the default timeout.
func New(cfg Config, meta *gcpmetadata.Client, httpClient *http.Client, log *logrus.Entry) *Client {
	return newWithMetadataSource(cfg, meta, httpClient, log)
}

func newWithMetadataSource(cfg Config, meta metadataSource, httpClient *http.Client, log *logrus.Entry) *Client {
	return &Client{
		httpClient:                copyHTTPClientWithTimeout(httpClient, requestTimeout, false),
		metadata:                  meta,
		log:                       log,
		apiRoot:                   strings.TrimRight(cfg.APIRoot, "/"),
		computeAccountsAPIVersion: cfg.ComputeAccountsAPIVersion,
		computeAPIVersion:         cfg.ComputeAPIVersion,
		linuxViewsBucket:          tokenbucket.New(linuxViewsCapacity, linuxViewsPeriodSec),
		keysViewBucket:            tokenbucket.New(keysViewCapacity, keysViewPeriodSec),
	}
}

// copyHTTPClientWithTimeout returns a shallow copy of base, never mutating
// the caller-supplied client. The copy's Timeout is set to timeout when base
// has no Timeout or force is true; otherwise base's Timeout is kept. If base
// is nil, a fresh client with timeout is returned.
func copyHTTPClientWithTimeout(base *http.Client, timeout time.Duration, force bool) *http.Client {
	if base == nil {
		return &http.Client{Timeout: timeout}
	}
	copied := *base
	if copied.Timeout == 0 || force {
		copied.Timeout = timeout
	}
	return &copied
}

// linuxViewsResponse is the wire shape of the linuxAccountViews response.
type linuxViewsResponse struct {
	Resource struct {
		UserViews  []userView  `json:"userViews"`
		GroupViews []groupView `json:"groupViews"`
	} `json:"resource"`
}

type userView struct {
	Username      string `json:"username"`
	UID           int64  `json:"uid"`
	GID           int64  `json:"gid"`
	Gecos         string `json:"gecos"`
	HomeDirectory string `json:"homeDirectory"`
	Shell         string `json:"shell"`
}

type groupView struct {
	GroupName string   `json:"groupName"`
	GID       int64    `json:"gid"`
	Members   []string `json:"members"`
}

// authorizedKeysResponse is the wire shape of the authorizedKeysView
// response.
type authorizedKeysResponse struct {
	Resource struct {
		Keys []string `json:"keys"`
	} `json:"resource"`
}

// GetUsersAndGroups fetches the full set of Linux account views for the
// project. forUserName, if non-empty, is passed through as a query hint to
// the API for the user whose missing cache entry triggered this refresh;
// pass "" for a routine scheduled refresh.
func (c *Client) GetUsersAndGroups(ctx context.Context, forUserName string) ([]entities.User, []entities.Group, error) {
	c.log.Info("fetching users and groups")

	var params url.Values
	if forUserName != "" {
		params = url.Values{"user": []string{forUserName}}
	}

	var resp linuxViewsResponse
	if err := c.retrieveView(ctx, "linuxAccountViews", c.linuxViewsBucket, params, &resp); err != nil {
		return nil, nil, err
	}

	users := make([]entities.User, 0, len(resp.Resource.UserViews))
	for _, uv := range resp.Resource.UserViews {
		u := entities.User{
			Name:  uv.Username,
			UID:   uv.UID,
			GID:   uv.GID,
			Gecos: uv.Gecos,
			Dir:   uv.HomeDirectory,
			Shell: uv.Shell,
		}
		if !u.Valid() {
			return nil, nil, lookuperr.Backendf("invalid user view in response: [%+v]", uv)
		}
		users = append(users, u)
	}

	groups := make([]entities.Group, 0, len(resp.Resource.GroupViews))
	for _, gv := range resp.Resource.GroupViews {
		g := entities.Group{Name: gv.GroupName, GID: gv.GID, Members: gv.Members}
		if !g.Valid() {
			return nil, nil, lookuperr.Backendf("invalid group view in response: [%+v]", gv)
		}
		groups = append(groups, g)
	}

	return users, groups, nil
}

// GetAuthorizedKeys fetches the authorized_keys lines for username.
// Returns NotFound immediately, without any I/O, when username does not
// match the account name grammar.
func (c *Client) GetAuthorizedKeys(ctx context.Context, username string) (entities.AuthorizedKeys, error) {
	c.log.WithField("user", username).Info("fetching authorized keys")

	if !entities.NameRegex.MatchString(username) {
		return entities.AuthorizedKeys{}, lookuperr.NotFoundf("invalid username: [%s]", username)
	}

	var resp authorizedKeysResponse
	if err := c.retrieveView(ctx, "authorizedKeysView/"+username, c.keysViewBucket, nil, &resp); err != nil {
		return entities.AuthorizedKeys{}, err
	}

	keys := entities.AuthorizedKeys{FetchedAt: time.Now().Unix(), Keys: resp.Resource.Keys}
	if !keys.Valid() {
		return entities.AuthorizedKeys{}, lookuperr.Backendf("invalid authorized keys in response for [%s]", username)
	}
	return keys, nil
}

// retrieveView sends a POST to the Compute Accounts view named viewName,
// consuming one token from bucket first, and decodes the JSON response
// into out.
func (c *Client) retrieveView(ctx context.Context, viewName string, bucket *tokenbucket.Bucket, params url.Values, out interface{}) error {
	if err := bucket.Consume(); err != nil {
		return err
	}

	project, err := c.metadata.ProjectID(ctx)
	if err != nil {
		return err
	}
	zone, err := c.metadata.Zone(ctx)
	if err != nil {
		return err
	}
	instanceName, err := c.metadata.InstanceName(ctx)
	if err != nil {
		return err
	}
	authHeader, err := c.metadata.AuthorizationHeader(ctx)
	if err != nil {
		return err
	}

	viewPath := fmt.Sprintf(viewPathFormat, c.computeAccountsAPIVersion, project, zone, viewName)
	instancePath := fmt.Sprintf(instancePathFormat, c.computeAPIVersion, project, zone, instanceName)

	viewURL := c.apiRoot + "/" + viewPath
	instanceURL := c.apiRoot + "/" + instancePath

	query := url.Values{"instance": []string{instanceURL}}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	reqURL := viewURL + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return lookuperr.WrapBackend(err, "building request to [%s]", viewURL)
	}
	req.Header.Set("Authorization", authHeader)

	c.log.WithFields(logrus.Fields{"url": viewURL, "params": query}).Debug("sending request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return lookuperr.WrapBackend(err, "error while sending request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return lookuperr.WrapBackend(err, "error while reading response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return lookuperr.NotFoundf("URL not found: [%s]", reqURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return lookuperr.Backendf("http error while sending request: [%d] [%s]", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return lookuperr.WrapBackend(err, "parsing JSON response: [%s]", string(body))
	}

	c.log.Info("request succeeded")
	return nil
}
